package order

import "errors"

var (
	// ErrNotFound indicates no order matches the given identifier or reference.
	ErrNotFound = errors.New("order: not found")

	// ErrRefAlreadyAttached indicates the order already carries a different
	// payment reference. Attaching the same reference twice is a no-op and
	// does not produce this error.
	ErrRefAlreadyAttached = errors.New("order: payment reference already attached")

	// ErrAlreadyResolved indicates the order is already in a terminal state.
	// Callers replaying a settled outcome should treat it as success; the
	// returned order carries the state that won.
	ErrAlreadyResolved = errors.New("order: already resolved")

	// ErrRefMismatch indicates the supplied payment reference does not match
	// the one stored on the order. The transition is refused without mutation.
	ErrRefMismatch = errors.New("order: payment reference mismatch")
)
