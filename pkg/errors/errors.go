// Package errors defines the storefront error taxonomy.
//
// Four families are distinguished and callers are expected to branch on them with the Is*
// helpers rather than on message text:
//
//   - validation errors (ValidationError): incomplete forms, unagreed terms, unverified phone
//   - verification errors (the phone-gate sentinels below)
//   - persistence errors (PersistenceError): the storage layer rejected or failed a call
//   - everything else, which is surfaced as an internal failure
package errors

import (
	"errors"
	"fmt"
)

// Storage errors
var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("item not found")

	// ErrConditionFailed is returned when a conditional write was rejected
	ErrConditionFailed = errors.New("condition check failed")

	// ErrAccessDenied is returned when the storage layer rejected the caller's credentials
	ErrAccessDenied = errors.New("access denied")

	// ErrThrottled is returned when the storage layer throttled the request
	ErrThrottled = errors.New("request throttled")
)

// Phone verification errors
var (
	// ErrInvalidPhoneNumber is returned when a phone number is malformed or too short
	ErrInvalidPhoneNumber = errors.New("invalid phone number")

	// ErrTooManyRequests is returned when the verification provider rate-limited the caller
	ErrTooManyRequests = errors.New("too many requests")

	// ErrInvalidCode is returned when a one-time code does not match the pending challenge
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrChallengeExpired is returned when the pending challenge no longer exists
	ErrChallengeExpired = errors.New("verification challenge expired")

	// ErrNoPendingCode is returned when a code is confirmed before one was requested
	ErrNoPendingCode = errors.New("no verification code pending")

	// ErrAlreadyVerified is returned when a verified gate is asked to start over
	ErrAlreadyVerified = errors.New("phone already verified")

	// ErrBotCheckFailed is returned when the bot-check token was rejected
	ErrBotCheckFailed = errors.New("bot check failed")

	// ErrVerificationFailed wraps any other provider failure
	ErrVerificationFailed = errors.New("phone verification failed")
)

// Account and authorization errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPhoneTaken         = errors.New("phone number already registered")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidTransition  = errors.New("invalid order status transition")
)

var verificationErrors = []error{
	ErrInvalidPhoneNumber,
	ErrTooManyRequests,
	ErrInvalidCode,
	ErrChallengeExpired,
	ErrNoPendingCode,
	ErrAlreadyVerified,
	ErrBotCheckFailed,
	ErrVerificationFailed,
}

// ValidationError reports a client-side precondition failure. Key is a stable message key
// that the HTTP layer translates; Field names the offending input when there is one.
type ValidationError struct {
	Key   string
	Field string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation failed"
	}
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s (%s)", e.Key, e.Field)
	}
	return fmt.Sprintf("validation failed: %s", e.Key)
}

// NewValidationError creates a ValidationError
func NewValidationError(key, field string) *ValidationError {
	return &ValidationError{Key: key, Field: field}
}

// PersistenceError reports a failed storage call with its operation context.
type PersistenceError struct {
	Err        error
	Op         string
	Collection string
}

// Error implements the error interface
func (e *PersistenceError) Error() string {
	if e == nil {
		return "storefront: persistence failed"
	}
	// SECURITY: keys and document contents stay out of the message; they go to structured logs
	return fmt.Sprintf("storefront: %s on %s failed: %v", e.Op, e.Collection, e.Err)
}

// Unwrap returns the underlying error
func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is checks if the error matches the target error
func (e *PersistenceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewPersistenceError creates a new PersistenceError
func NewPersistenceError(op, collection string, err error) *PersistenceError {
	return &PersistenceError{
		Op:         op,
		Collection: collection,
		Err:        err,
	}
}

// IsNotFound checks if an error indicates a missing document
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConditionFailed checks if an error indicates a rejected conditional write
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// AsValidation extracts the ValidationError from an error chain
func AsValidation(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsPersistence checks if an error came from the storage layer
func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// AsPersistence extracts the PersistenceError from an error chain
func AsPersistence(err error) (*PersistenceError, bool) {
	var target *PersistenceError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsVerification checks if an error is one of the phone verification failures
func IsVerification(err error) bool {
	for _, target := range verificationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
