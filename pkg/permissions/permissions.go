package permissions

import (
	"errors"
	"os"
	"runtime"
	"strings"
)

// Status enumerates coarse permission results for camera and tab capture prompts.
type Status string

const (
	// StatusUnknown indicates no explicit signal about permission state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals that permission was previously granted.
	StatusGranted Status = "granted"
	// StatusDenied indicates the user has explicitly denied access.
	StatusDenied Status = "denied"
	// StatusPromptRequired means the platform will prompt at runtime.
	StatusPromptRequired Status = "prompt"
	// StatusUnavailable reports that the capability is not supported.
	StatusUnavailable Status = "unavailable"
)

// ErrPermissionDenied reports that the user refused access to a capability.
var ErrPermissionDenied = errors.New("permission denied")

type deniedError struct {
	message string
}

func (e *deniedError) Error() string {
	return e.message
}

func (e *deniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// ProbeResult represents the coarse state for a permission surface.
type ProbeResult struct {
	Status   Status
	Message  string
	Guidance string
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// DefaultLookupEnv is the standard environment resolver.
func DefaultLookupEnv(key string) (string, bool) {
	return lookupEnv(key)
}

// lookupEnv is declared for swapping in tests.
var lookupEnv = func(key string) (string, bool) {
	return os.LookupEnv(key)
}

// cameraDevicePresent reports whether a V4L2 device node exists.
var cameraDevicePresent = func() bool {
	_, err := os.Stat("/dev/video0")
	return err == nil
}

// ProbeCamera inspects the execution environment for webcam access.
func ProbeCamera(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup("VISIONFIX_CAMERA"); ok {
		return interpretPermissionFlag("camera", value)
	}
	switch runtime.GOOS {
	case "darwin", "windows":
		return ProbeResult{Status: StatusPromptRequired, Message: "camera access will prompt at runtime"}
	case "linux":
		if cameraDevicePresent() {
			return ProbeResult{Status: StatusPromptRequired, Message: "camera device present"}
		}
		return ProbeResult{Status: StatusUnavailable, Message: "no camera device found", Guidance: "connect a webcam or use the synthetic camera build"}
	default:
		return ProbeResult{Status: StatusUnavailable, Message: "camera capture unsupported"}
	}
}

// ProbeTabCapture reports whether the page under correction may be captured.
func ProbeTabCapture(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup("VISIONFIX_TAB_CAPTURE"); ok {
		return interpretPermissionFlag("tab capture", value)
	}
	return ProbeResult{Status: StatusPromptRequired, Message: "tab capture requires a DevTools-enabled browser"}
}

func interpretPermissionFlag(name, value string) ProbeResult {
	normalised := strings.ToLower(strings.TrimSpace(value))
	switch normalised {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "re-enable access in system settings or update VISIONFIX_* env to re-test"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " permission will prompt at runtime"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " permission unavailable on this platform"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}

// StatusString returns the string representation for manifest integration.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}

// Err returns an error matching ErrPermissionDenied when access was refused.
func (p ProbeResult) Err() error {
	if p.Status != StatusDenied {
		return nil
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		msg = ErrPermissionDenied.Error()
	}
	return &deniedError{message: msg}
}
