// Package booking implements the appointment lifecycle: request, admin
// confirmation or rejection, update and removal.
package booking

import "bookingdesk/internal/models"

// State is the lifecycle state of a booking record.
type State string

const (
	StateRequested State = "requested"
	StateConfirmed State = "confirmed"
	StateRejected  State = "rejected"
	StateDeleted   State = "deleted"
	// StateActive is the only live state of a block record.
	StateActive State = "active"
)

// FSM holds the allowed lifecycle transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateRequested: {StateConfirmed, StateRejected, StateDeleted},
			StateConfirmed: {StateDeleted},
			StateActive:    {StateDeleted},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateOf derives the state of a stored record. Records without a
// confirmed flag predate confirmation and count as confirmed.
func StateOf(b *models.Booking) State {
	switch {
	case b.IsBlock():
		return StateActive
	case b.IsPending():
		return StateRequested
	default:
		return StateConfirmed
	}
}
