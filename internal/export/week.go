// Package export writes the admin week schedule to an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"bookingdesk/internal/blocking"
	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

// Fetcher reads all bookings of a window.
type Fetcher interface {
	ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error)
}

// Authorizer answers whether the caller holds an admin session.
type Authorizer interface {
	RequireAdmin() error
}

var bookingColumns = []string{"Day", "Start", "End", "Duration", "Type", "Status", "Name", "Email", "Phone", "Notes"}

// WeekExporter builds a two-sheet workbook: a per-day summary and the
// appointment list. Block records only count towards the summary.
type WeekExporter struct {
	api  Fetcher
	auth Authorizer
	loc  *time.Location
}

func NewWeekExporter(api Fetcher, auth Authorizer, loc *time.Location) *WeekExporter {
	if loc == nil {
		loc = time.Local
	}
	return &WeekExporter{api: api, auth: auth, loc: loc}
}

// Export writes blocking.WeekDays days starting at weekStart to w.
func (e *WeekExporter) Export(ctx context.Context, weekStart time.Time, w io.Writer) error {
	if err := e.auth.RequireAdmin(); err != nil {
		return err
	}

	start := slots.StartOfDay(weekStart.In(e.loc))
	end := start.AddDate(0, 0, blocking.WeekDays)
	list, err := e.api.ListAllWindow(ctx, start, end, "")
	if err != nil {
		return fmt.Errorf("load week of %s: %w", slots.DayKey(start), err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })

	type dayStats struct{ appointments, pending, blocks int }
	stats := make(map[string]*dayStats, blocking.WeekDays)
	for i := 0; i < blocking.WeekDays; i++ {
		stats[slots.DayKey(start.AddDate(0, 0, i))] = &dayStats{}
	}

	sw := newSheetWriter()
	defer sw.Close()

	if err := sw.AddSheet("Week"); err != nil {
		return err
	}
	if err := sw.WriteHeader([]string{"Day", "Blocked", "Appointments", "Pending"}); err != nil {
		return err
	}

	var appointments []models.Booking
	for _, b := range list {
		st, ok := stats[slots.DayKey(b.StartTime.In(e.loc))]
		if !ok {
			continue
		}
		if b.IsBlock() {
			st.blocks++
			continue
		}
		st.appointments++
		if b.IsPending() {
			st.pending++
		}
		appointments = append(appointments, b)
	}

	for i := 0; i < blocking.WeekDays; i++ {
		key := slots.DayKey(start.AddDate(0, 0, i))
		st := stats[key]
		blocked := "no"
		if st.blocks >= blocking.BlockedThreshold {
			blocked = "yes"
		}
		if err := sw.WriteRow([]interface{}{key, blocked, st.appointments, st.pending}); err != nil {
			return err
		}
	}

	if err := sw.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := sw.WriteHeader(bookingColumns); err != nil {
		return err
	}
	for _, b := range appointments {
		startAt, endAt := b.StartTime.In(e.loc), b.EndTime.In(e.loc)
		status := "confirmed"
		if b.IsPending() {
			status = "pending"
		}
		row := []interface{}{
			slots.DayKey(startAt),
			slots.FormatTime(startAt),
			slots.FormatTime(endAt),
			slots.FormatDuration(int(b.Duration() / time.Minute)),
			b.Type,
			status,
			b.Name,
			b.Email,
			b.Phone,
			b.Notes,
		}
		if err := sw.WriteRow(row); err != nil {
			return err
		}
	}

	return sw.Save(w)
}
