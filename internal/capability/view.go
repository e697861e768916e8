// Package capability decides what a caller may see and do with each slot.
package capability

import (
	"time"

	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

// Capability is computed once from the session and passed to views.
type Capability int

const (
	Public Capability = iota
	Admin
)

func (c Capability) String() string {
	if c == Admin {
		return "admin"
	}
	return "public"
}

// FromSession maps the session admin flag to a capability.
func FromSession(isAdmin bool) Capability {
	if isAdmin {
		return Admin
	}
	return Public
}

// Action is a set of operations offered on a slot.
type Action uint8

const (
	ActionBook Action = 1 << iota
	ActionBlock
	ActionDetail
	ActionReview
	ActionUnblock

	ActionNone Action = 0
)

// Has reports whether every action in a is offered.
func (s Action) Has(a Action) bool {
	return a != 0 && s&a == a
}

// Slot labels.
const (
	LabelAvailable   = "Available"
	LabelUnavailable = "Unavailable"
	LabelBuffer      = "Buffer"
	LabelBooked      = "Booked"
	LabelPending     = "Pending"
	LabelBlocked     = "Blocked"
)

// SlotView is the rendering decision for one slot.
type SlotView struct {
	Slot      time.Time
	Time      string
	Visible   bool
	Clickable bool
	Label     string
	Action    Action
	// Booking is the covering record, redacted for public callers and nil
	// when the slot is hidden.
	Booking *models.Booking
}

// Decide applies the visibility policy to one classified slot.
func Decide(c Capability, cl slots.Classification) SlotView {
	v := SlotView{Slot: cl.Slot, Time: slots.FormatTime(cl.Slot), Visible: true}

	switch {
	case cl.TrulyBooked && cl.Booking != nil && cl.Booking.IsBlock():
		if c != Admin {
			return SlotView{Slot: cl.Slot, Time: v.Time}
		}
		v.Label, v.Clickable, v.Action = LabelBlocked, true, ActionUnblock

	case cl.TrulyBooked:
		v.Label = LabelBooked
		if c == Admin {
			v.Clickable, v.Action = true, ActionDetail
			if cl.Booking != nil && cl.Booking.IsPending() {
				v.Label, v.Action = LabelPending, ActionReview
			}
		}

	case cl.Blocked:
		if c == Admin {
			v.Label, v.Action = LabelBuffer, ActionBlock
		} else {
			v.Label = LabelUnavailable
		}

	default:
		v.Label, v.Clickable, v.Action = LabelAvailable, true, ActionBook
		if c == Admin {
			v.Action |= ActionBlock
		}
	}

	if cl.Booking != nil {
		b := Redact(c, *cl.Booking)
		v.Booking = &b
	}
	return v
}

// Render classifies the whole day and applies Decide to each slot.
func Render(c Capability, day time.Time, durationMinutes, bufferMinutes int, bookings []models.Booking) []SlotView {
	classes := slots.ClassifyDay(slots.DayGrid(day), durationMinutes, bufferMinutes, bookings)
	views := make([]SlotView, 0, len(classes))
	for _, cl := range classes {
		views = append(views, Decide(c, cl))
	}
	return views
}

// Redact strips contact details for public callers whatever the API returned.
func Redact(c Capability, b models.Booking) models.Booking {
	if c == Admin {
		return b
	}
	return b.Redacted()
}

// RedactAll applies Redact to a list.
func RedactAll(c Capability, list []models.Booking) []models.Booking {
	out := make([]models.Booking, len(list))
	for i, b := range list {
		out[i] = Redact(c, b)
	}
	return out
}
