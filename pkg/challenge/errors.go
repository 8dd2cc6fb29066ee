package challenge

import (
	"errors"

	serrors "github.com/theory-cloud/storefront/pkg/errors"
)

// NotFoundError indicates the challenge was never issued, has expired, or was already used.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "challenge not found or expired"
}

// Is lets callers match the gate-level sentinel
func (e *NotFoundError) Is(target error) bool {
	return target == serrors.ErrChallengeExpired
}

// AttemptsExhaustedError indicates too many wrong codes were submitted for one challenge.
type AttemptsExhaustedError struct {
	ID string
}

func (e *AttemptsExhaustedError) Error() string {
	return "too many verification attempts"
}

// Is lets callers match the gate-level sentinel
func (e *AttemptsExhaustedError) Is(target error) bool {
	return target == serrors.ErrTooManyRequests
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsAttemptsExhausted(err error) bool {
	var target *AttemptsExhaustedError
	return errors.As(err, &target)
}
