package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookingdesk/internal/auth"
	"bookingdesk/internal/blocking"
	"bookingdesk/internal/booking"
	"bookingdesk/internal/bookingapi"
	"bookingdesk/internal/capability"
	"bookingdesk/internal/config"
	"bookingdesk/internal/events"
	"bookingdesk/internal/export"
	"bookingdesk/internal/metrics"
	"bookingdesk/internal/notify"
)

// app holds the wired services for one console invocation.
type app struct {
	cfg *config.Config
	log *zerolog.Logger
	loc *time.Location
	out io.Writer
	in  *bufio.Reader

	persister *auth.SQLitePersister
	store     *auth.SessionStore
	auth      *auth.Client
	api       *bookingapi.Client
	rdb       *redis.Client
	bus       *events.EventBus
	notifier  *notify.Notifier

	bookings *booking.Service
	blocks   *blocking.Service
	exporter *export.WeekExporter
}

func newApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, out io.Writer, in io.Reader) (*app, error) {
	a := &app{
		cfg: cfg,
		log: logger,
		loc: cfg.Location(),
		out: out,
		in:  bufio.NewReader(in),
	}

	persister, err := auth.NewSQLitePersister(cfg.Auth.SessionPath)
	if err != nil {
		return nil, err
	}
	a.persister = persister
	a.store = auth.NewSessionStore(cfg.Auth.AdminEmails, persister)
	if err := a.store.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("stored session unreadable, continuing logged out")
	}

	a.auth = auth.NewClient(cfg.API.BaseURL, cfg.APITimeout(), a.store, logger)
	transport := auth.NewTransport(http.DefaultTransport, a.store, a.auth.RefreshURL(), logger)
	transport.UseProactiveRefresh(cfg.RefreshSkew())
	transport.OnRefresh(metrics.ObserveTokenRefresh)

	a.api = bookingapi.NewClient(cfg.API.BaseURL, transport, cfg.APITimeout(), logger)
	if cfg.Redis.Address != "" && cfg.API.CacheTTLSeconds > 0 {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.api.UseRedisCache(a.rdb, bookingapi.CacheOptions{
			TTL:      cfg.CacheTTL(),
			Role:     func() string { return a.capability().String() },
			Location: a.loc,
		})
	}

	a.bus = events.NewEventBus(logger)
	a.bookings = booking.NewService(a.api, a.store, a.bus, cfg.Buffer(), logger)
	a.blocks = blocking.NewService(a.api, a.store, a.bus, blocking.Options{
		Concurrency:   cfg.Schedule.BulkConcurrency,
		RatePerSecond: cfg.Schedule.BulkRatePerSecond,
	}, logger)
	a.exporter = export.NewWeekExporter(a.api, a.store, a.loc)

	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram unavailable, notifications disabled")
		} else {
			bot.Debug = cfg.Telegram.Debug
			a.notifier = notify.NewNotifier(bot, cfg.Telegram.ChatID, a.bookings, cfg.PollInterval(), a.loc, logger)
			a.bus.Subscribe(events.BookingCreated, a.notifier.HandleEvent)
		}
	}
	return a, nil
}

func (a *app) capability() capability.Capability {
	return capability.FromSession(a.store.IsAdmin())
}

// confirm asks a yes/no question on the console.
func (a *app) confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(a.out, "%s [y/N] ", prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (a *app) parseDate(s string) (time.Time, error) {
	if s == "" {
		now := time.Now().In(a.loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func (a *app) parseDateTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", s, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: want \"YYYY-MM-DD HH:MM\"", s)
	}
	return t, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.persister != nil {
		_ = a.persister.Close()
		a.persister = nil
	}
}
