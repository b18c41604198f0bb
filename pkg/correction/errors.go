package correction

import "errors"

var (
	// ErrConfigurationInvalid reports a prescription or quality setting the
	// renderer cannot use. Callers fall back to pass-through.
	ErrConfigurationInvalid = errors.New("correction configuration invalid")
	// ErrReleased is returned by Render after Release.
	ErrReleased = errors.New("renderer released")
)
