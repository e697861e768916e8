// Package notify tells the provider about booking requests over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bookingdesk/internal/events"
	"bookingdesk/internal/metrics"
	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

const maxListed = 5

// TelegramSender abstracts the bot API for tests.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Source lists the bookings awaiting confirmation.
type Source interface {
	ListUnconfirmed(ctx context.Context) ([]models.Booking, error)
}

// Notifier polls for unconfirmed bookings and reports new requests.
type Notifier struct {
	sender   TelegramSender
	chatID   int64
	source   Source
	interval time.Duration
	loc      *time.Location
	limiter  *rate.Limiter
	log      *zerolog.Logger

	mu        sync.Mutex
	lastCount int
}

// NewNotifier builds a notifier posting to chatID.
func NewNotifier(sender TelegramSender, chatID int64, source Source, interval time.Duration, loc *time.Location, logger *zerolog.Logger) *Notifier {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Notifier{
		sender:   sender,
		chatID:   chatID,
		source:   source,
		interval: interval,
		loc:      loc,
		// Telegram allows about one message per second per chat
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		log:     logger,
	}
}

// Run polls until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	if _, err := n.Poll(ctx); err != nil {
		n.log.Warn().Err(err).Msg("unconfirmed poll failed")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := n.Poll(ctx); err != nil {
				n.log.Warn().Err(err).Msg("unconfirmed poll failed")
			}
		}
	}
}

// Poll checks the unconfirmed list once and sends a summary when the count
// changed to a non-zero value. It returns the current count.
func (n *Notifier) Poll(ctx context.Context) (int, error) {
	list, err := n.source.ListUnconfirmed(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unconfirmed: %w", err)
	}
	count := len(list)
	metrics.SetUnconfirmed(count)

	n.mu.Lock()
	changed := count != n.lastCount
	n.lastCount = count
	n.mu.Unlock()

	if count == 0 || !changed {
		return count, nil
	}
	return count, n.send(ctx, n.summary(list))
}

// HandleEvent is an events.EventHandler announcing each new request.
func (n *Notifier) HandleEvent(e events.Event) error {
	if e.Type != events.BookingCreated || e.Booking == nil || e.Booking.IsBlock() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return n.send(ctx, "New booking request:\n"+n.line(*e.Booking))
}

func (n *Notifier) summary(list []models.Booking) string {
	var sb strings.Builder
	if len(list) == 1 {
		sb.WriteString("1 unconfirmed booking")
	} else {
		fmt.Fprintf(&sb, "%d unconfirmed bookings", len(list))
	}
	for i, b := range list {
		if i == maxListed {
			fmt.Fprintf(&sb, "\n…and %d more", len(list)-maxListed)
			break
		}
		sb.WriteString("\n")
		sb.WriteString(n.line(b))
	}
	return sb.String()
}

func (n *Notifier) line(b models.Booking) string {
	start := b.StartTime.In(n.loc)
	minutes := int(b.Duration() / time.Minute)
	s := fmt.Sprintf("• %s %s, %s, %s", slots.DayKey(start), slots.FormatTime(start), slots.FormatDuration(minutes), b.Type)
	if b.Name != "" {
		s += " (" + b.Name + ")"
	}
	return s
}

// send delivers text, waiting once when Telegram answers 429.
func (n *Notifier) send(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	msg := tgbotapi.NewMessage(n.chatID, text)

	_, err := n.sender.Send(msg)
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.Code == 429 {
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		n.log.Info().Dur("retry_after", wait).Msg("rate limited by Telegram, waiting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err = n.sender.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
