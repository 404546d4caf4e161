// Package errs defines the error taxonomy shared by the trading core and the
// API layer. Every failure an operation can surface maps to exactly one of
// these sentinels; callers classify with errors.Is.
package errs

import "errors"

var (
	// ErrValidation covers malformed requests: non-positive price or
	// quantity, unknown side. Rejected before any lock is taken.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a buy order's gross
	// reservation exceeds the user's available cash.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientHolding is returned when a sell order exceeds the
	// user's unreserved holding quantity.
	ErrInsufficientHolding = errors.New("insufficient holding")

	// ErrBunnyNotFound indicates an unknown instrument symbol.
	ErrBunnyNotFound = errors.New("bunny not found")

	// ErrOrderNotFound indicates the order does not exist for the
	// instrument. A second cancel of the same order yields this, never a
	// double refund.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotOwner is returned when the caller tries to cancel an order
	// placed by someone else.
	ErrNotOwner = errors.New("not the order owner")

	// ErrAlreadyFilled is returned when a cancel races a fill and the
	// order's true remaining quantity is already zero.
	ErrAlreadyFilled = errors.New("order already filled")

	// ErrTransient marks lock-timeout/deadlock/serialization failures.
	// Nothing was committed; the whole operation is safe to retry.
	ErrTransient = errors.New("transient storage conflict")
)

// Retryable reports whether the caller may safely re-submit the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
