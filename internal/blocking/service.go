// Package blocking marks whole days unavailable, lifts those blocks and
// summarizes a week for the admin calendar.
package blocking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"bookingdesk/internal/bookingapi"
	"bookingdesk/internal/events"
	"bookingdesk/internal/metrics"
	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

const (
	// BlockedThreshold is how many block records make a day count as blocked.
	// A full day has 22; the slack tolerates a few failed creates.
	BlockedThreshold = 20
	// WeekDays is the span of the admin week view.
	WeekDays = 8

	blockSpan = 29*time.Minute + 59*time.Second

	defaultConcurrency = 6
)

// Placeholder contact details carried by block records.
const (
	blockName  = "n/a"
	blockEmail = "unavailable@unavailable.com"
	blockPhone = "212-555-5555"
)

// API is the subset of the booking API used for bulk operations.
type API interface {
	ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error)
	Create(ctx context.Context, in models.BookingInput) (*models.Booking, error)
	Delete(ctx context.Context, id string) error
}

// Authorizer answers whether the caller holds an admin session.
type Authorizer interface {
	RequireAdmin() error
}

// Options tune the bulk fan-out.
type Options struct {
	Concurrency   int
	RatePerSecond float64
}

// WeekStatus summarizes WeekDays consecutive days keyed by slots.DayKey.
type WeekStatus struct {
	Days            []time.Time
	HasRealBookings map[string]bool
	IsBlocked       map[string]bool
}

// Service performs day-level block operations.
type Service struct {
	api     API
	auth    Authorizer
	bus     *events.EventBus
	limit   int
	limiter *rate.Limiter
	log     *zerolog.Logger
}

// NewService builds the blocking service. bus may be nil.
func NewService(api API, auth Authorizer, bus *events.EventBus, opts Options, logger *zerolog.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		api:     api,
		auth:    auth,
		bus:     bus,
		limit:   opts.Concurrency,
		limiter: limiter,
		log:     logger,
	}
}

// BlockDay creates a block record for every slot of the operating window.
// Slots that already carry a block are skipped, so repeating the call after
// a partial failure only fills the gaps. Creates are never retried.
func (s *Service) BlockDay(ctx context.Context, date time.Time) error {
	if err := s.auth.RequireAdmin(); err != nil {
		return err
	}

	from, to := slots.DayBounds(date)
	existing, err := s.api.ListAllWindow(bookingapi.Fresh(ctx), from, to, models.TypeUnavailable)
	if err != nil {
		return fmt.Errorf("load blocks for %s: %w", slots.DayKey(date), err)
	}
	blocked := make(map[int64]bool, len(existing))
	for _, b := range existing {
		if b.IsBlock() {
			blocked[b.StartTime.Unix()] = true
		}
	}

	var todo []models.SlotFailure
	for _, slot := range slots.DayGrid(date) {
		if !blocked[slot.Unix()] {
			todo = append(todo, models.SlotFailure{Slot: slot})
		}
	}

	failed := s.fanOut(ctx, todo, func(ctx context.Context, t models.SlotFailure) error {
		_, err := s.api.Create(ctx, models.BookingInput{
			Name:      blockName,
			Email:     blockEmail,
			Phone:     blockPhone,
			Type:      models.TypeUnavailable,
			StartTime: t.Slot.UTC(),
			EndTime:   t.Slot.Add(blockSpan).UTC(),
		})
		return err
	})

	succeeded := len(todo) - len(failed)
	metrics.AddBulkSlots("block", succeeded, len(failed))
	s.log.Info().
		Str("day", slots.DayKey(date)).
		Int("created", succeeded).
		Int("skipped", len(blocked)).
		Int("failed", len(failed)).
		Msg("block day finished")

	if succeeded > 0 {
		s.bus.Publish(events.Event{Type: events.DayBlocked, Day: from})
	}
	if len(failed) > 0 {
		return &models.PartialFailureError{Op: "block " + slots.DayKey(date), Total: len(todo), Succeeded: succeeded, Failed: failed}
	}
	return nil
}

// UnblockDay deletes every block record of the day.
func (s *Service) UnblockDay(ctx context.Context, date time.Time) error {
	if err := s.auth.RequireAdmin(); err != nil {
		return err
	}

	from, to := slots.DayBounds(date)
	list, err := s.api.ListAllWindow(bookingapi.Fresh(ctx), from, to, models.TypeUnavailable)
	if err != nil {
		return fmt.Errorf("load blocks for %s: %w", slots.DayKey(date), err)
	}
	var blocks []models.SlotFailure
	for _, b := range list {
		if b.IsBlock() && !b.StartTime.Before(from) && b.StartTime.Before(to) {
			blocks = append(blocks, models.SlotFailure{Slot: b.StartTime, BookingID: b.ID})
		}
	}

	failed := s.fanOut(ctx, blocks, func(ctx context.Context, t models.SlotFailure) error {
		return s.api.Delete(ctx, t.BookingID)
	})

	succeeded := len(blocks) - len(failed)
	metrics.AddBulkSlots("unblock", succeeded, len(failed))
	s.log.Info().
		Str("day", slots.DayKey(date)).
		Int("deleted", succeeded).
		Int("failed", len(failed)).
		Msg("unblock day finished")

	if succeeded > 0 {
		s.bus.Publish(events.Event{Type: events.DayUnblocked, Day: from})
	}
	if len(failed) > 0 {
		return &models.PartialFailureError{Op: "unblock " + slots.DayKey(date), Total: len(blocks), Succeeded: succeeded, Failed: failed}
	}
	return nil
}

// WeekStatus reads WeekDays days starting at weekStart in one window fetch.
// It is always recomputed from the API.
func (s *Service) WeekStatus(ctx context.Context, weekStart time.Time) (WeekStatus, error) {
	start := slots.StartOfDay(weekStart)
	end := start.AddDate(0, 0, WeekDays)

	list, err := s.api.ListAllWindow(ctx, start, end, "")
	if err != nil {
		return WeekStatus{}, fmt.Errorf("load week of %s: %w", slots.DayKey(start), err)
	}

	ws := WeekStatus{
		HasRealBookings: make(map[string]bool, WeekDays),
		IsBlocked:       make(map[string]bool, WeekDays),
	}
	blockCount := make(map[string]int, WeekDays)
	for i := 0; i < WeekDays; i++ {
		day := start.AddDate(0, 0, i)
		ws.Days = append(ws.Days, day)
		key := slots.DayKey(day)
		ws.HasRealBookings[key] = false
		ws.IsBlocked[key] = false
	}

	for _, b := range list {
		key := slots.DayKey(b.StartTime.In(start.Location()))
		if _, ok := ws.IsBlocked[key]; !ok {
			continue
		}
		if b.IsBlock() {
			blockCount[key]++
			continue
		}
		ws.HasRealBookings[key] = true
	}
	for key, n := range blockCount {
		ws.IsBlocked[key] = n >= BlockedThreshold
	}
	return ws, nil
}

// fanOut runs call for every target with bounded concurrency and pacing and
// returns the failures ordered by slot. It never aborts early.
func (s *Service) fanOut(ctx context.Context, targets []models.SlotFailure, call func(ctx context.Context, t models.SlotFailure) error) []models.SlotFailure {
	var (
		mu     sync.Mutex
		failed []models.SlotFailure
		g      errgroup.Group
	)
	g.SetLimit(s.limit)

	for _, t := range targets {
		t := t
		g.Go(func() error {
			err := s.limiter.Wait(ctx)
			if err == nil {
				err = call(ctx, t)
			}
			if err != nil {
				t.Err = err
				mu.Lock()
				failed = append(failed, t)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failed, func(a, b int) bool { return failed[a].Slot.Before(failed[b].Slot) })
	return failed
}
