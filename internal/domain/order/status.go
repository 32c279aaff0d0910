package order

import (
	"fmt"

	"github.com/xenking/storefront-checkout/internal/domain/apperr"
)

// Status is an order lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusShipping  Status = "SHIPPING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", apperr.Validation(fmt.Sprintf("unknown order status %q", s))
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusShipping, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether target is reachable from s in one step.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusShipping || target == StatusCancelled
	case StatusShipping:
		return target == StatusCompleted || target == StatusCancelled
	}
	return false
}

// InvalidStatusTransitionError is returned for a disallowed transition.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// Kind implements apperr.Classified.
func (e *InvalidStatusTransitionError) Kind() apperr.Kind { return apperr.KindConflict }

// Reason implements apperr.Classified.
func (e *InvalidStatusTransitionError) Reason() string { return "invalid_status_transition" }

// Transition checks that from -> to is allowed.
func Transition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return &InvalidStatusTransitionError{From: from, To: to}
	}
	return nil
}
