package viewport

import (
	"errors"
	"strings"
)

// ErrCaptureFailed indicates the viewport could not be rasterised for a frame.
var ErrCaptureFailed = errors.New("viewport capture failed")

type captureError struct {
	message string
	cause   error
}

func (e *captureError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *captureError) Unwrap() error {
	return e.cause
}

func (e *captureError) Is(target error) bool {
	return target == ErrCaptureFailed
}

func newCaptureError(message string, cause error) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = ErrCaptureFailed.Error()
	}
	return &captureError{message: trimmed, cause: cause}
}
