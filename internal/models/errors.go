package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation is returned for malformed contact fields or inputs.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a slot violates the buffer/overlap rule at submission time.
	ErrConflict = errors.New("slot conflicts with an existing booking")

	// ErrAuthRequired is returned when an admin action is attempted without a valid session.
	ErrAuthRequired = errors.New("admin session required")

	// ErrAuthRefresh is returned when the access token could not be refreshed.
	ErrAuthRefresh = errors.New("token refresh failed")

	// ErrNotFound is returned when a mutation target no longer exists.
	ErrNotFound = errors.New("booking not found")

	// ErrCancelled is returned when the operator declines a confirmation prompt.
	ErrCancelled = errors.New("cancelled by operator")

	// ErrPartialFailure matches any *PartialFailureError via errors.Is.
	ErrPartialFailure = errors.New("bulk operation partially failed")
)

// SlotFailure records one failed sub-operation of a bulk block/unblock.
type SlotFailure struct {
	Slot      time.Time
	BookingID string
	Err       error
}

// PartialFailureError reports a bulk day operation that completed only some of its steps.
type PartialFailureError struct {
	Op        string
	Total     int
	Succeeded int
	Failed    []SlotFailure
}

func (e *PartialFailureError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d operations failed", e.Op, len(e.Failed), e.Total)
	for i, f := range e.Failed {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failed)-3)
			break
		}
		if f.BookingID != "" {
			fmt.Fprintf(&b, "; %s: %v", f.BookingID, f.Err)
		} else {
			fmt.Fprintf(&b, "; %s: %v", f.Slot.Format("15:04"), f.Err)
		}
	}
	return b.String()
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}
