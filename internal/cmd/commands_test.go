package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/offlinefirst/visionfix/pkg/calibration"
	"github.com/offlinefirst/visionfix/pkg/config"
	"github.com/offlinefirst/visionfix/pkg/history"
	"github.com/offlinefirst/visionfix/pkg/permissions"
	"github.com/offlinefirst/visionfix/pkg/prescription"
)

func TestRootCommandVersionAndUnknown(t *testing.T) {
	origVersion, origGOOS := runtimeVersion, runtimeGOOS
	runtimeVersion = func() string { return "go1.25.0" }
	runtimeGOOS = func() string { return "linux" }
	defer func() { runtimeVersion, runtimeGOOS = origVersion, origGOOS }()

	var stdout, stderr bytes.Buffer
	rc := NewRootCommand()
	rc.stdout, rc.stderr = &stdout, &stderr

	if err := rc.Execute([]string{"version"}); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "(go1.25.0/linux, camera=") {
		t.Fatalf("unexpected version output %q", stdout.String())
	}

	if err := rc.Execute([]string{"explode"}); err == nil {
		t.Fatalf("expected unknown command error")
	}
	for _, name := range []string{"run", "calibrate", "doctor", "profiles", "history"} {
		if !strings.Contains(stdout.String(), name) {
			t.Fatalf("help should list %s: %q", name, stdout.String())
		}
	}
}

func TestProfilesCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Profiles.Entries = append(cfg.Profiles.Entries, prescription.Profile{
		Name:                "reading",
		LeftEye:             prescription.EyePrescription{Sphere: -1.5, Cylinder: -0.5, Axis: 90},
		RightEye:            prescription.EyePrescription{Sphere: -1.25},
		PupillaryDistanceMM: 60,
	})
	ctx := &AppContext{Config: cfg, Logger: newTestLogger()}

	var stdout bytes.Buffer
	if err := runProfiles(parseRunFlags(t, newProfilesCommand()), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("profiles failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two profiles, got %q", stdout.String())
	}
	if !strings.HasPrefix(lines[0], "* Default") || !strings.Contains(lines[1], "-1.50 / -0.50 x 90") {
		t.Fatalf("unexpected listing %q", stdout.String())
	}

	stdout.Reset()
	if err := runProfiles(parseRunFlags(t, newProfilesCommand(), "-show", "reading"), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("profiles -show failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "pupillary_distance_mm: 60") {
		t.Fatalf("unexpected yaml %q", stdout.String())
	}
	if err := runProfiles(parseRunFlags(t, newProfilesCommand(), "-show", "nope"), nil, ctx, io.Discard, io.Discard); err == nil {
		t.Fatalf("expected unknown profile error")
	}
}

func TestHistoryCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Calibration.HistoryPath = filepath.Join(t.TempDir(), "history.db")
	ctx := &AppContext{Config: cfg, Logger: newTestLogger()}

	var stdout bytes.Buffer
	if err := runHistory(parseRunFlags(t, newHistoryCommand()), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "No calibration results") {
		t.Fatalf("unexpected empty output %q", stdout.String())
	}

	store, err := history.Open(cfg.Calibration.HistoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.Record(context.Background(), "Default", calibration.Result{SessionID: "abc", StartedAt: at, CompletedAt: at, AccuracyEstimate: 0.5, Samples: 9}); err != nil {
		t.Fatalf("record: %v", err)
	}
	store.Close()

	stdout.Reset()
	if err := runHistory(parseRunFlags(t, newHistoryCommand(), "-profile", "Default"), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "accuracy  50%") || !strings.Contains(stdout.String(), "session abc") {
		t.Fatalf("unexpected listing %q", stdout.String())
	}

	cfg.Calibration.HistoryPath = ""
	ctx.Config = cfg
	if err := runHistory(parseRunFlags(t, newHistoryCommand()), nil, ctx, io.Discard, io.Discard); !errors.Is(err, errNoHistory) {
		t.Fatalf("expected errNoHistory, got %v", err)
	}
}

func TestDoctorCommandReportsProblems(t *testing.T) {
	origLookup, origProbe := doctorLookup, probeBrowser
	doctorLookup = func(key string) (string, bool) {
		switch key {
		case "VISIONFIX_CAMERA":
			return "denied", true
		case "VISIONFIX_TAB_CAPTURE":
			return "granted", true
		}
		return "", false
	}
	probeCalled := false
	probeBrowser = func(context.Context) error {
		probeCalled = true
		return errors.New("chrome not found")
	}
	defer func() { doctorLookup, probeBrowser = origLookup, origProbe }()

	ctx := &AppContext{Config: config.Default(), Logger: newTestLogger()}
	var stdout bytes.Buffer
	if err := runDoctor(parseRunFlags(t, newDoctorCommand(), "-browser"), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	out := stdout.String()
	if !probeCalled {
		t.Fatalf("expected browser probe")
	}
	if !strings.Contains(out, "permission=denied") || !strings.Contains(out, "hint:") {
		t.Fatalf("expected camera denial with guidance, got %q", out)
	}
	if strings.Contains(out, "Lighting:") {
		t.Fatalf("lighting must be skipped when the camera is denied: %q", out)
	}
	if !strings.Contains(out, "2 problem(s) found") {
		t.Fatalf("unexpected problem count %q", out)
	}
}

func TestDoctorCommandChecksLighting(t *testing.T) {
	origLookup := doctorLookup
	doctorLookup = func(key string) (string, bool) {
		if key == "VISIONFIX_CAMERA" {
			return string(permissions.StatusGranted), true
		}
		return "", false
	}
	defer func() { doctorLookup = origLookup }()

	ctx := &AppContext{Config: config.Default(), Logger: newTestLogger()}
	var stdout bytes.Buffer
	if err := runDoctor(parseRunFlags(t, newDoctorCommand()), nil, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "Lighting: ~") {
		t.Fatalf("expected lighting line, got %q", stdout.String())
	}
}

func TestVersionShort(t *testing.T) {
	var stdout bytes.Buffer
	rc := NewRootCommand()
	rc.stdout, rc.stderr = &stdout, io.Discard
	if err := rc.Execute([]string{"version", "-short"}); err != nil {
		t.Fatalf("version -short failed: %v", err)
	}
	if strings.Contains(stdout.String(), "camera=") || strings.TrimSpace(stdout.String()) == "" {
		t.Fatalf("unexpected short version %q", stdout.String())
	}
}
