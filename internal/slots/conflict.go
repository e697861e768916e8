package slots

import (
	"time"

	"bookingdesk/internal/models"
)

// DefaultBufferMinutes is the minimum gap enforced between appointments.
const DefaultBufferMinutes = 15

// DurationOptions is the enumerated set of appointment lengths, in minutes.
var DurationOptions = []int{30, 60, 90}

// Classification is the state of one slot for a prospective duration.
type Classification struct {
	Slot        time.Time
	Blocked     bool
	TrulyBooked bool
	// Booking covers the slot instant when TrulyBooked is set.
	Booking *models.Booking
}

// BufferOnly reports a slot that is unusable only because of buffer spacing.
func (c Classification) BufferOnly() bool {
	return c.Blocked && !c.TrulyBooked
}

// Classify evaluates slot against the day's bookings.
func Classify(slot time.Time, durationMinutes, bufferMinutes int, bookings []models.Booking) Classification {
	at := BookingAt(slot, bookings)
	return Classification{
		Slot:        slot,
		Blocked:     Blocked(slot, durationMinutes, bufferMinutes, bookings),
		TrulyBooked: at != nil,
		Booking:     at,
	}
}

// ClassifyDay classifies every slot of the grid.
func ClassifyDay(grid []time.Time, durationMinutes, bufferMinutes int, bookings []models.Booking) []Classification {
	out := make([]Classification, len(grid))
	for i, slot := range grid {
		out[i] = Classify(slot, durationMinutes, bufferMinutes, bookings)
	}
	return out
}

// BookingAt returns the first booking whose [start, end) contains slot.
func BookingAt(slot time.Time, bookings []models.Booking) *models.Booking {
	for i := range bookings {
		if bookings[i].Contains(slot) {
			return &bookings[i]
		}
	}
	return nil
}

// TrulyBooked reports whether slot falls inside any booking's raw interval.
func TrulyBooked(slot time.Time, bookings []models.Booking) bool {
	return BookingAt(slot, bookings) != nil
}

// Blocked reports whether [slot, slot+duration) comes closer than buffer to any
// booking, i.e. intersects [start-buffer, end+buffer). A gap of exactly buffer
// minutes is allowed. A slot inside a booking is always blocked.
func Blocked(slot time.Time, durationMinutes, bufferMinutes int, bookings []models.Booking) bool {
	if bufferMinutes < 0 {
		bufferMinutes = 0
	}
	buffer := time.Duration(bufferMinutes) * time.Minute
	end := slot.Add(time.Duration(durationMinutes) * time.Minute)

	for i := range bookings {
		b := &bookings[i]
		if b.Contains(slot) {
			return true
		}
		if isOverlapping(slot, end, b.StartTime.Add(-buffer), b.EndTime.Add(buffer)) {
			return true
		}
	}
	return false
}

// IsDurationAllowed checks a duration under the default buffer.
func IsDurationAllowed(slot time.Time, minutes int, bookings []models.Booking) bool {
	return !Blocked(slot, minutes, DefaultBufferMinutes, bookings)
}

// AllowedDurations returns the feasible options for slot, in DurationOptions order.
func AllowedDurations(slot time.Time, bookings []models.Booking) []int {
	var options []int
	for _, m := range DurationOptions {
		if IsDurationAllowed(slot, m, bookings) {
			options = append(options, m)
		}
	}
	return options
}

// FallbackDuration keeps current when it is still feasible, otherwise returns the
// first feasible option. ok is false when nothing fits and the selection must be cleared.
func FallbackDuration(slot time.Time, current int, bookings []models.Booking) (minutes int, ok bool) {
	if IsValidDuration(current) && IsDurationAllowed(slot, current, bookings) {
		return current, true
	}
	for _, m := range DurationOptions {
		if IsDurationAllowed(slot, m, bookings) {
			return m, true
		}
	}
	return 0, false
}

// IsValidDuration reports whether minutes is one of DurationOptions.
func IsValidDuration(minutes int) bool {
	for _, m := range DurationOptions {
		if m == minutes {
			return true
		}
	}
	return false
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
