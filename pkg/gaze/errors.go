package gaze

import (
	"errors"
	"strings"
)

// ErrTrackingUnavailable marks camera or landmark model failures. The loop
// skips the frame and retries on the next tick.
var ErrTrackingUnavailable = errors.New("gaze tracking unavailable")

type trackingError struct {
	message string
	cause   error
}

func (e *trackingError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *trackingError) Unwrap() error {
	return e.cause
}

func (e *trackingError) Is(target error) bool {
	return target == ErrTrackingUnavailable
}

func newTrackingError(message string, cause error) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = ErrTrackingUnavailable.Error()
	}
	return &trackingError{message: trimmed, cause: cause}
}
