package convention

import (
	"fmt"
	"strings"
)

// Status is the convention lifecycle state. Progress is one-directional;
// renewal never rewinds a convention, it creates a new one.
type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusReadyToSign           Status = "READY_TO_SIGN"
	StatusPartiallySigned       Status = "PARTIALLY_SIGNED"
	StatusInReview              Status = "IN_REVIEW"
	StatusAcceptedByCounsellor  Status = "ACCEPTED_BY_COUNSELLOR"
	StatusAcceptedByValidator   Status = "ACCEPTED_BY_VALIDATOR"
	StatusRejected              Status = "REJECTED"
	StatusCancelled             Status = "CANCELLED"
	StatusDeprecated            Status = "DEPRECATED"
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition leaves s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0 && ValidStatus(s)
}

// transitions is the full legality table. Side branches (REJECTED, CANCELLED,
// DEPRECATED) are reachable from every non-terminal state.
var transitions = map[Status][]Status{
	StatusDraft:                {StatusReadyToSign, StatusCancelled, StatusDeprecated},
	StatusReadyToSign:          {StatusPartiallySigned, StatusInReview, StatusRejected, StatusCancelled, StatusDeprecated},
	StatusPartiallySigned:      {StatusPartiallySigned, StatusInReview, StatusRejected, StatusCancelled, StatusDeprecated},
	StatusInReview:             {StatusAcceptedByCounsellor, StatusAcceptedByValidator, StatusRejected, StatusCancelled, StatusDeprecated},
	StatusAcceptedByCounsellor: {StatusAcceptedByValidator, StatusRejected, StatusCancelled, StatusDeprecated},
	StatusAcceptedByValidator:  {},
	StatusRejected:             {},
	StatusCancelled:            {},
	StatusDeprecated:           {},
}

// ForbiddenStatusError is returned for any illegal transition or for an
// operation attempted from a status outside its allow-list. It is a
// recoverable domain error; the caller translates it to a client rejection.
type ForbiddenStatusError struct {
	Operation string
	Current   Status
	Allowed   []Status
}

func (e *ForbiddenStatusError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("convention: %s forbidden from status %s (allowed: %s)",
		e.Operation, e.Current, strings.Join(allowed, ", "))
}

// EnsureTransition returns a ForbiddenStatusError unless from -> to is legal.
func EnsureTransition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return &ForbiddenStatusError{
		Operation: fmt.Sprintf("transition to %s", to),
		Current:   from,
		Allowed:   transitions[from],
	}
}

// ensureStatusIn returns a ForbiddenStatusError unless current is listed.
func ensureStatusIn(operation string, current Status, allowed ...Status) error {
	for _, s := range allowed {
		if s == current {
			return nil
		}
	}
	return &ForbiddenStatusError{Operation: operation, Current: current, Allowed: allowed}
}
