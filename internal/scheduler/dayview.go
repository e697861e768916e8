// Package scheduler keeps the bookings of the displayed day in sync with the API.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bookingdesk/internal/capability"
	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

// Fetcher reads all bookings of a window.
type Fetcher interface {
	ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error)
}

// DayView owns the booking list of one target day. Each fetch is tagged with
// the day and a generation; a result for a superseded request is dropped.
type DayView struct {
	api Fetcher
	log *zerolog.Logger

	mu       sync.RWMutex
	day      time.Time
	gen      uint64
	bookings []models.Booking
	loadedAt time.Time

	// mutations are serialized and each one is followed by a refresh
	mutMu sync.Mutex
}

// NewDayView targets the day containing day. Call Refresh to load it.
func NewDayView(api Fetcher, day time.Time, logger *zerolog.Logger) *DayView {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &DayView{api: api, day: slots.StartOfDay(day), log: logger}
}

// Day returns the current target day.
func (v *DayView) Day() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.day
}

// Bookings returns a copy of the last accepted list.
func (v *DayView) Bookings() []models.Booking {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]models.Booking(nil), v.bookings...)
}

// LoadedAt is when the current list was accepted; zero before the first load.
func (v *DayView) LoadedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loadedAt
}

// SetDay switches the target day. Fetches still in flight for the old day
// will be discarded. The list is cleared until the next Refresh.
func (v *DayView) SetDay(day time.Time) {
	day = slots.StartOfDay(day)
	v.mu.Lock()
	defer v.mu.Unlock()
	if day.Equal(v.day) {
		return
	}
	v.day = day
	v.gen++
	v.bookings = nil
	v.loadedAt = time.Time{}
}

// Navigate switches to day and loads it.
func (v *DayView) Navigate(ctx context.Context, day time.Time) error {
	v.SetDay(day)
	return v.Refresh(ctx)
}

// Refresh fetches the target day and replaces the list wholesale, unless the
// target changed or a newer refresh started meanwhile.
func (v *DayView) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.gen++
	gen, day := v.gen, v.day
	v.mu.Unlock()

	from, to := slots.DayBounds(day)
	list, err := v.api.ListAllWindow(ctx, from, to, "")

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen || !day.Equal(v.day) {
		v.log.Debug().Str("day", slots.DayKey(day)).Uint64("generation", gen).Msg("discarding stale day fetch")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", slots.DayKey(day), err)
	}
	v.bookings = list
	v.loadedAt = time.Now()
	return nil
}

// Mutate runs fn and then refreshes the day before another mutation may start.
// A partial failure still refreshes because some changes landed.
func (v *DayView) Mutate(ctx context.Context, fn func(ctx context.Context) error) error {
	v.mutMu.Lock()
	defer v.mutMu.Unlock()

	err := fn(ctx)
	if err != nil && !errors.Is(err, models.ErrPartialFailure) {
		return err
	}
	if rerr := v.Refresh(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// Slots renders the current list for the caller's capability.
func (v *DayView) Slots(c capability.Capability, durationMinutes, bufferMinutes int) []capability.SlotView {
	v.mu.RLock()
	day, list := v.day, v.bookings
	v.mu.RUnlock()
	return capability.Render(c, day, durationMinutes, bufferMinutes, list)
}

// AllowedDurations lists the durations still bookable at slot.
func (v *DayView) AllowedDurations(slot time.Time) []int {
	return slots.AllowedDurations(slot, v.Bookings())
}

// FallbackDuration keeps current if still feasible at slot, otherwise picks
// the first feasible option.
func (v *DayView) FallbackDuration(slot time.Time, current int) (int, bool) {
	return slots.FallbackDuration(slot, current, v.Bookings())
}
