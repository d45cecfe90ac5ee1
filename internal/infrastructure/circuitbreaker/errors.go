package circuitbreaker

import (
	"errors"
	"fmt"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Error is returned when a breaker refuses a call.
type Error struct {
	Name  string
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker %s (%s): %v", e.Name, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }

func IsTooManyRequests(err error) bool { return errors.Is(err, ErrTooManyRequests) }

// Rejected reports whether the breaker refused the call without running it.
func Rejected(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
