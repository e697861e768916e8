// Package events is the in-process pub/sub used for booking lifecycle events.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bookingdesk/internal/models"
)

// Event types published by the booking services.
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingRejected  = "booking.rejected"
	BookingRemoved   = "booking.removed"
	BookingUpdated   = "booking.updated"
	DayBlocked       = "day.blocked"
	DayUnblocked     = "day.unblocked"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	BookingID string
	Booking   *models.Booking
	Day       time.Time
	Message   string
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	log         *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), log: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. A nil bus is a no-op.
func (b *EventBus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil {
			b.log.Warn().Err(err).Str("event", event.Type).Str("booking_id", event.BookingID).Msg("event handler failed")
		}
	}
}
