package permissions

import (
	"errors"
	"testing"
)

type fakeLookup map[string]string

func (f fakeLookup) get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestInterpretPermissionFlag(t *testing.T) {
	cases := map[string]struct {
		value    string
		expected Status
	}{
		"granted":     {"granted", StatusGranted},
		"denied":      {"denied", StatusDenied},
		"prompt":      {"prompt", StatusPromptRequired},
		"unsupported": {"unsupported", StatusUnavailable},
		"unknown":     {"", StatusUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := interpretPermissionFlag("test", tc.value)
			if res.Status != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, res.Status)
			}
		})
	}
}

func TestProbeCameraHonoursEnv(t *testing.T) {
	lookup := fakeLookup{"VISIONFIX_CAMERA": "denied"}
	res := ProbeCamera(lookup.get)
	if res.Status != StatusDenied {
		t.Fatalf("expected denied, got %s", res.Status)
	}
	if res.Guidance == "" {
		t.Fatalf("expected guidance when denied")
	}
	if err := res.Err(); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestProbeCameraDefaults(t *testing.T) {
	res := ProbeCamera(fakeLookup{}.get)
	if res.Status == StatusUnknown || res.Status == StatusDenied {
		t.Fatalf("expected platform specific default, got %s", res.Status)
	}
	if res.Err() != nil {
		t.Fatalf("expected no error for %s", res.Status)
	}
}

func TestProbeTabCaptureHonoursEnv(t *testing.T) {
	lookup := fakeLookup{"VISIONFIX_TAB_CAPTURE": "granted"}
	res := ProbeTabCapture(lookup.get)
	if res.Status != StatusGranted {
		t.Fatalf("expected granted, got %s", res.Status)
	}
	if res.StatusString() != "granted" {
		t.Fatalf("unexpected status string %q", res.StatusString())
	}
}
