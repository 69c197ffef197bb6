package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// StoreErrorMessage describes inventory store failures.
	StoreErrorMessage = "inventory store operation failed"
	// RateLimitMessage is returned when every model credential is exhausted.
	RateLimitMessage = "AI Rate limit exceeded. Please try again in a moment."
	// IterationLimitMessage is returned when a turn keeps calling tools past the ceiling.
	IterationLimitMessage = "agent exceeded the tool-call limit for this turn"
)

var (
	// ErrQuotaExhausted marks a model failure after every credential hit its quota.
	ErrQuotaExhausted = errors.New("model quota exhausted on all credentials")
	// ErrIterationLimit marks a turn that did not converge within the tool-call ceiling.
	ErrIterationLimit = errors.New("tool-call iteration limit exceeded")
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// WrapStore wraps an inventory store error with a consistent status code and message.
func WrapStore(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusInternalServerError, StoreErrorMessage)
}

// StatusOf maps any error onto the HTTP status the API boundary should report.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrQuotaExhausted) {
		return http.StatusTooManyRequests
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
