package models

import (
	"strings"
	"time"
)

// TypeUnavailable marks a provider-imposed block rather than a client appointment.
const TypeUnavailable = "unavailable"

// Booking represents a booking record as served by the remote booking API.
// Public (unauthenticated) responses carry only ID, StartTime, EndTime and Type.
type Booking struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Type      string    `json:"type"`
	Notes     string    `json:"notes,omitempty"`
	Confirmed *bool     `json:"confirmed,omitempty"` // nil: legacy or block, treated as confirmed
}

// Kind discriminates between client appointments and provider blocks.
type Kind int

const (
	KindAppointment Kind = iota
	KindBlock
)

func (k Kind) String() string {
	if k == KindBlock {
		return "block"
	}
	return "appointment"
}

// Kind reports whether the booking is a provider block or an appointment.
func (b *Booking) Kind() Kind {
	if strings.EqualFold(b.Type, TypeUnavailable) {
		return KindBlock
	}
	return KindAppointment
}

// IsBlock is shorthand for Kind() == KindBlock.
func (b *Booking) IsBlock() bool {
	return b.Kind() == KindBlock
}

// IsPending returns true only for appointments explicitly awaiting admin action.
func (b *Booking) IsPending() bool {
	return b.Kind() == KindAppointment && b.Confirmed != nil && !*b.Confirmed
}

// IsConfirmed treats an absent flag as confirmed.
func (b *Booking) IsConfirmed() bool {
	return b.Confirmed == nil || *b.Confirmed
}

// Contains reports whether t falls inside [StartTime, EndTime).
func (b *Booking) Contains(t time.Time) bool {
	return !t.Before(b.StartTime) && t.Before(b.EndTime)
}

// OverlapsWith checks half-open [start, end) intersection with another booking.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return b.StartTime.Before(other.EndTime) && other.StartTime.Before(b.EndTime)
}

// Duration returns the raw length of the booking.
func (b *Booking) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// Redacted returns a copy carrying only the fields a public caller may see.
func (b Booking) Redacted() Booking {
	return Booking{
		ID:        b.ID,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		Type:      b.Type,
	}
}

// Paginated is the list envelope returned by GET /bookings.
type Paginated[T any] struct {
	Results      []T `json:"results"`
	Page         int `json:"page"`
	Limit        int `json:"limit"`
	TotalPages   int `json:"totalPages"`
	TotalResults int `json:"totalResults"`
}

// BookingInput is the body of POST /bookings.
type BookingInput struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Type      string    `json:"type"`
	Notes     string    `json:"notes,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// BookingPatch is the body of PATCH /bookings/:id. Nil fields are left untouched.
type BookingPatch struct {
	Name      *string    `json:"name,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	Type      *string    `json:"type,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// HasTimes reports whether the patch moves the booking.
func (p *BookingPatch) HasTimes() bool {
	return p.StartTime != nil || p.EndTime != nil
}

// WindowQuery describes a GET /bookings request.
type WindowQuery struct {
	From   time.Time
	To     time.Time
	Type   string
	Page   int
	Limit  int
	SortBy string // e.g. "start_time:asc"
}
