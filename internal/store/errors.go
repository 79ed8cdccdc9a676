package store

import (
	"errors"
	"fmt"
)

var (
	ErrQueueNotFound        = errors.New("queue not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidState         = errors.New("invalid reservation state")
	ErrQueueClosed          = errors.New("queue closed")
	ErrQueuePaused          = errors.New("queue paused")
	ErrQueueFull            = errors.New("queue full")
	ErrConflict             = errors.New("queue number conflict")
	ErrForbidden            = errors.New("access denied")
	ErrUnauthenticated      = errors.New("not authenticated")
	ErrUnavailable          = errors.New("store unavailable")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrRequestReused is returned when a client replays a join request id
	// against a different queue.
	ErrRequestReused = fmt.Errorf("%w: request_id already used for another queue", ErrInvalidInput)
)

// IsDomainError reports whether err is one of the sentinel outcomes above,
// as opposed to an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrQueueNotFound,
		ErrReservationNotFound,
		ErrNotificationNotFound,
		ErrInvalidState,
		ErrQueueClosed,
		ErrQueuePaused,
		ErrQueueFull,
		ErrConflict,
		ErrForbidden,
		ErrUnauthenticated,
		ErrUnavailable,
		ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Classify passes domain errors through and marks everything else as
// ErrUnavailable, keeping the original error in the chain.
func Classify(err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
