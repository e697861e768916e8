// Package slots builds the daily booking grid and classifies slots against existing bookings.
package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Business-day grid bounds.
const (
	OpenTime  = "07:00"
	CloseTime = "18:00"
	Step      = 30 * time.Minute
)

// Schedule describes the operating window of a day.
type Schedule struct {
	StartTime string // "07:00"
	EndTime   string // "18:00", exclusive
	Step      time.Duration
}

// DefaultSchedule is the studio's fixed operating window.
func DefaultSchedule() Schedule {
	return Schedule{StartTime: OpenTime, EndTime: CloseTime, Step: Step}
}

// DayGrid returns the candidate start instants for the day: 07:00 through 17:30
// at 30-minute steps, in the location of day.
func DayGrid(day time.Time) []time.Time {
	grid, err := DefaultSchedule().Generate(day)
	if err != nil {
		// constants above always parse
		panic(err)
	}
	return grid
}

// Generate returns every slot start s with s+Step <= EndTime.
func (s Schedule) Generate(day time.Time) ([]time.Time, error) {
	step := s.Step
	if step <= 0 {
		step = Step
	}

	start, err := parseTimeOnDate(day, s.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	end, err := parseTimeOnDate(day, s.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end time %s must be after start time %s", s.EndTime, s.StartTime)
	}

	slots := make([]time.Time, 0, int(end.Sub(start)/step))
	for cursor := start; !cursor.Add(step).After(end); cursor = cursor.Add(step) {
		slots = append(slots, cursor)
	}
	return slots, nil
}

// Window returns the half-open operating window [open, close) for the day.
func (s Schedule) Window(day time.Time) (time.Time, time.Time, error) {
	start, err := parseTimeOnDate(day, s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseTimeOnDate(day, s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayBounds returns [midnight, next midnight) for the day containing t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := StartOfDay(t)
	return start, start.AddDate(0, 0, 1)
}

// DayKey formats a day the way the week view labels it, e.g. "Mon Jun 10 2024".
func DayKey(t time.Time) string {
	return t.Format("Mon Jan 02 2006")
}

func parseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

// FormatDuration formats minutes for display.
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d min", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d h %d min", hours, mins)
}

// FormatTime renders a slot label like "9:30 AM".
func FormatTime(t time.Time) string {
	return t.Format("3:04 PM")
}
