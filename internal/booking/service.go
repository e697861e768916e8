package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bookingdesk/internal/bookingapi"
	"bookingdesk/internal/events"
	"bookingdesk/internal/metrics"
	"bookingdesk/internal/models"
	"bookingdesk/internal/slots"
)

// ServiceTypes are the appointment types offered on the booking form.
var ServiceTypes = []string{"Thai Massage", "Cupping/Acupressure", "Private Yoga", "Other"}

const removePrompt = "Are you sure you want to delete this booking?"

// API is the subset of the booking API the lifecycle needs.
type API interface {
	ListAllWindow(ctx context.Context, from, to time.Time, bookingType string) ([]models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	Create(ctx context.Context, in models.BookingInput) (*models.Booking, error)
	Update(ctx context.Context, id string, patch models.BookingPatch) (*models.Booking, error)
	Confirm(ctx context.Context, id string) (*models.Booking, error)
	Reject(ctx context.Context, id, message string) error
	Delete(ctx context.Context, id string) error
	ListUnconfirmed(ctx context.Context) ([]models.Booking, error)
}

// Authorizer answers whether the caller holds an admin session.
type Authorizer interface {
	RequireAdmin() error
}

// Confirmer is the interactive gate asked before destructive actions.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// CreateRequest is what a visitor submits from the booking form.
type CreateRequest struct {
	Start   time.Time
	Minutes int
	Name    string
	Email   string
	Phone   string
	Type    string
	Notes   string
}

// Service drives the booking lifecycle against the remote API.
type Service struct {
	api    API
	auth   Authorizer
	bus    *events.EventBus
	fsm    *FSM
	buffer int
	log    *zerolog.Logger
}

// NewService wires the lifecycle. bus may be nil; a negative buffer uses the default.
func NewService(api API, auth Authorizer, bus *events.EventBus, bufferMinutes int, logger *zerolog.Logger) *Service {
	if bufferMinutes < 0 {
		bufferMinutes = slots.DefaultBufferMinutes
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		api:    api,
		auth:   auth,
		bus:    bus,
		fsm:    NewFSM(),
		buffer: bufferMinutes,
		log:    logger,
	}
}

// Create validates the request, re-checks the slot against a fresh read of the
// day and persists a new appointment awaiting confirmation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := ValidateCreate(req); err != nil {
		metrics.IncBookingCreated("invalid")
		return nil, err
	}

	dur := time.Duration(req.Minutes) * time.Minute
	from, to := slots.DayBounds(req.Start)
	current, err := s.api.ListAllWindow(bookingapi.Fresh(ctx), from, to, "")
	if err != nil {
		metrics.IncBookingCreated("error")
		return nil, fmt.Errorf("load day before create: %w", err)
	}
	if slots.Blocked(req.Start, req.Minutes, s.buffer, current) {
		metrics.IncBookingCreated("conflict")
		return nil, fmt.Errorf("%w: %s for %s is no longer available", models.ErrConflict,
			slots.FormatTime(req.Start), slots.FormatDuration(req.Minutes))
	}

	created, err := s.api.Create(ctx, models.BookingInput{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		Type:      strings.TrimSpace(req.Type),
		Notes:     strings.TrimSpace(req.Notes),
		StartTime: req.Start.UTC(),
		EndTime:   req.Start.Add(dur).UTC(),
	})
	if err != nil {
		metrics.IncBookingCreated("error")
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if created.Confirmed == nil {
		pending := false
		created.Confirmed = &pending
	}

	metrics.IncBookingCreated("ok")
	s.log.Info().Str("booking_id", created.ID).Time("start", created.StartTime).Str("type", created.Type).Msg("booking requested")
	s.bus.Publish(events.Event{Type: events.BookingCreated, BookingID: created.ID, Booking: created})
	return created, nil
}

// Confirm accepts a requested booking.
func (s *Service) Confirm(ctx context.Context, id string) (*models.Booking, error) {
	if err := s.auth.RequireAdmin(); err != nil {
		return nil, err
	}
	if _, err := s.loadFor(ctx, id, StateConfirmed); err != nil {
		return nil, err
	}

	b, err := s.api.Confirm(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("confirm booking %s: %w", id, err)
	}
	metrics.IncAdminDecision("confirm")
	s.log.Info().Str("booking_id", id).Msg("booking confirmed")
	s.bus.Publish(events.Event{Type: events.BookingConfirmed, BookingID: id, Booking: b})
	return b, nil
}

// Reject removes a requested booking. The customer notification is sent by
// the server on a best-effort basis.
func (s *Service) Reject(ctx context.Context, id, message string) error {
	if err := s.auth.RequireAdmin(); err != nil {
		return err
	}
	b, err := s.loadFor(ctx, id, StateRejected)
	if err != nil {
		return err
	}

	if err := s.api.Reject(ctx, id, strings.TrimSpace(message)); err != nil {
		return fmt.Errorf("reject booking %s: %w", id, err)
	}
	metrics.IncAdminDecision("reject")
	s.log.Info().Str("booking_id", id).Msg("booking rejected")
	s.bus.Publish(events.Event{Type: events.BookingRejected, BookingID: id, Booking: b, Message: message})
	return nil
}

// Remove deletes any live booking or block record after the gate agrees.
// A nil gate means the caller already confirmed.
func (s *Service) Remove(ctx context.Context, id string, gate Confirmer) error {
	if err := s.auth.RequireAdmin(); err != nil {
		return err
	}
	if gate != nil {
		ok, err := gate.Confirm(ctx, removePrompt)
		if err != nil {
			return fmt.Errorf("delete confirmation: %w", err)
		}
		if !ok {
			return models.ErrCancelled
		}
	}

	b, err := s.loadFor(ctx, id, StateDeleted)
	if err != nil {
		return err
	}
	if err := s.api.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete booking %s: %w", id, err)
	}
	metrics.IncAdminDecision("delete")
	s.log.Info().Str("booking_id", id).Msg("booking deleted")
	s.bus.Publish(events.Event{Type: events.BookingRemoved, BookingID: id, Booking: b})
	return nil
}

// Update patches an existing booking. A change of times is checked against the
// rest of the day with the same buffer rule as Create.
func (s *Service) Update(ctx context.Context, id string, patch models.BookingPatch) (*models.Booking, error) {
	if err := s.auth.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	if patch.HasTimes() {
		existing, err := s.api.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load booking %s: %w", id, err)
		}
		start, end := existing.StartTime, existing.EndTime
		if patch.StartTime != nil {
			start = *patch.StartTime
		}
		if patch.EndTime != nil {
			end = *patch.EndTime
		}
		if !end.After(start) {
			return nil, fmt.Errorf("%w: end time must be after start time", models.ErrValidation)
		}

		from, to := slots.DayBounds(start)
		day, err := s.api.ListAllWindow(bookingapi.Fresh(ctx), from, to, "")
		if err != nil {
			return nil, fmt.Errorf("load day before update: %w", err)
		}
		others := make([]models.Booking, 0, len(day))
		for _, b := range day {
			if b.ID != id {
				others = append(others, b)
			}
		}
		if slots.Blocked(start, int(math.Ceil(end.Sub(start).Minutes())), s.buffer, others) {
			return nil, fmt.Errorf("%w: %s conflicts with another booking", models.ErrConflict, slots.FormatTime(start))
		}
	}

	b, err := s.api.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update booking %s: %w", id, err)
	}
	s.log.Info().Str("booking_id", id).Bool("times_changed", patch.HasTimes()).Msg("booking updated")
	s.bus.Publish(events.Event{Type: events.BookingUpdated, BookingID: id, Booking: b})
	return b, nil
}

// ListUnconfirmed returns the requests awaiting a decision, earliest first.
func (s *Service) ListUnconfirmed(ctx context.Context) ([]models.Booking, error) {
	if err := s.auth.RequireAdmin(); err != nil {
		return nil, err
	}
	list, err := s.api.ListUnconfirmed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
	return list, nil
}

// Get returns one booking, redacted unless the caller is an admin.
func (s *Service) Get(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.api.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	if s.auth.RequireAdmin() != nil {
		redacted := b.Redacted()
		return &redacted, nil
	}
	return b, nil
}

func (s *Service) loadFor(ctx context.Context, id string, to State) (*models.Booking, error) {
	b, err := s.api.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking %s: %w", id, err)
	}
	if from := StateOf(b); !s.fsm.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: booking %s is %s and cannot become %s", models.ErrValidation, id, from, to)
	}
	return b, nil
}

// ValidateCreate checks the booking form fields.
func ValidateCreate(req CreateRequest) error {
	var errs []error
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", models.ErrValidation))
	}
	if err := validateEmail(req.Email); err != nil {
		errs = append(errs, err)
	}
	if err := validatePhone(req.Phone); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(req.Type) == "" {
		errs = append(errs, fmt.Errorf("%w: type is required", models.ErrValidation))
	} else if strings.EqualFold(strings.TrimSpace(req.Type), models.TypeUnavailable) {
		errs = append(errs, fmt.Errorf("%w: type %q is reserved for blocked days", models.ErrValidation, req.Type))
	}
	if !slots.IsValidDuration(req.Minutes) {
		errs = append(errs, fmt.Errorf("%w: duration must be one of %v minutes", models.ErrValidation, slots.DurationOptions))
	}
	if req.Start.IsZero() {
		errs = append(errs, fmt.Errorf("%w: start time is required", models.ErrValidation))
	} else if !onGrid(req.Start) {
		errs = append(errs, fmt.Errorf("%w: %s is not a bookable slot", models.ErrValidation, slots.FormatTime(req.Start)))
	}
	return errors.Join(errs...)
}

func validatePatch(p models.BookingPatch) error {
	var errs []error
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: name cannot be blank", models.ErrValidation))
	}
	if p.Email != nil {
		if err := validateEmail(*p.Email); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Phone != nil {
		if err := validatePhone(*p.Phone); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Type != nil && strings.TrimSpace(*p.Type) == "" {
		errs = append(errs, fmt.Errorf("%w: type cannot be blank", models.ErrValidation))
	}
	return errors.Join(errs...)
}

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", models.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q is not a valid email", models.ErrValidation, email)
	}
	return nil
}

// validatePhone accepts 7 to 15 digits with common separators.
func validatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("%w: phone is required", models.ErrValidation)
	}
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return fmt.Errorf("%w: %q is not a valid phone number", models.ErrValidation, phone)
		}
	}
	if digits < 7 || digits > 15 {
		return fmt.Errorf("%w: phone must have 7 to 15 digits", models.ErrValidation)
	}
	return nil
}

func onGrid(t time.Time) bool {
	for _, slot := range slots.DayGrid(t) {
		if slot.Equal(t) {
			return true
		}
	}
	return false
}
