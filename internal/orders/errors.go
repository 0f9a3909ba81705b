package orders

import (
	"errors"
	"fmt"
)

// Stable machine-readable codes. Stock and transition failures are the two
// expected failure modes and must stay distinguishable from internal errors.
const (
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeForbidden         = "FORBIDDEN"
	CodeValidation        = "VALIDATION"
	CodeInternal          = "INTERNAL"
)

type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Code() string { return CodeInsufficientStock }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// InvalidTransitionError names the current state and the attempted action.
// From is a unit status for unit transitions and an order status for
// whole-order cancellation.
type InvalidTransitionError struct {
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s from state %s", e.Action, e.From)
}

func (e *InvalidTransitionError) Code() string { return CodeInvalidTransition }

type ForbiddenError struct {
	ActorID string
	Entity  string
	ID      string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s does not own %s %s", e.ActorID, e.Entity, e.ID)
}

func (e *ForbiddenError) Code() string { return CodeForbidden }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return CodeValidation }

// Coder is implemented by every typed error above.
type Coder interface {
	error
	Code() string
}

// CodeOf maps any error to its stable code, CodeInternal for unexpected ones.
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}
