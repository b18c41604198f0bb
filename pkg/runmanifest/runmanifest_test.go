package runmanifest

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/offlinefirst/visionfix/pkg/calibration"
	"github.com/offlinefirst/visionfix/pkg/config"
)

func TestBuildLayoutAndRelativePaths(t *testing.T) {
	layout := BuildLayout("/tmp/runs", "20240512_093000")

	if layout.Root != filepath.Join("/tmp/runs", "20240512_093000") {
		t.Fatalf("unexpected root: %s", layout.Root)
	}

	rel := layout.RelativePaths()
	if rel.Root != "." {
		t.Fatalf("expected relative root '.', got %q", rel.Root)
	}
	if rel.Manifest != "manifest.json" {
		t.Fatalf("expected manifest.json, got %s", rel.Manifest)
	}
	if rel.Frames != "frames" || rel.Calibration != "calibration" {
		t.Fatalf("unexpected directory names: %+v", rel)
	}
}

func TestEnsureFilesystemCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	layout := BuildLayout(dir, "run")

	if err := EnsureFilesystem(layout); err != nil {
		t.Fatalf("EnsureFilesystem failed: %v", err)
	}

	for _, p := range []string{layout.Root, layout.FramesDir, layout.CalibrationDir} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("expected path %s: %v", p, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected directory at %s", p)
		}
	}

	if _, err := os.Stat(layout.LogPath); err != nil {
		t.Fatalf("expected run log file: %v", err)
	}
}

func TestNewManifest(t *testing.T) {
	cfg := config.Default()
	cfg.Source = "visionfix.yaml"
	cfg.Correction.Quality = "high"
	layout := BuildLayout("/tmp/runs", "run")
	now := time.Date(2024, 5, 12, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	man := New(Options{
		RunID:         "run",
		CreatedAt:     now,
		Hostname:      "host",
		AppVersion:    "test",
		CameraBackend: "synthetic",
		Config:        cfg,
		Layout:        layout,
	})

	if man.SchemaVersion != SchemaVersion {
		t.Fatalf("unexpected schema version: %d", man.SchemaVersion)
	}
	if man.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected CreatedAt in UTC, got %s", man.CreatedAt.Location())
	}
	if man.Correction.Tier != "high" || man.Correction.Profile != "Default" {
		t.Fatalf("unexpected correction settings: %+v", man.Correction)
	}
	if man.Correction.Viewport != "1280x720" {
		t.Fatalf("unexpected viewport %q", man.Correction.Viewport)
	}
	if man.Status.State != StatePending {
		t.Fatalf("expected pending state, got %s", man.Status.State)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	man := New(Options{RunID: "run", Config: config.Default(), Layout: BuildLayout("/tmp", "run")})
	start := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)

	man.MarkRunning(start)
	man.SetSubsystem(SubsystemStatus{Name: "camera", Enabled: true, State: SubsystemStatePending})
	man.SetSubsystem(SubsystemStatus{Name: "camera", Enabled: true, Available: true, State: SubsystemStateCompleted})
	man.RecordCalibration(calibration.Result{SessionID: "s1", AccuracyEstimate: 0.8})
	man.Counters = Counters{Processed: 10, Skipped: 3}
	man.MarkFinished(start.Add(time.Minute), "signal", nil)

	if man.Status.State != StateCompleted || man.Status.Termination != "signal" {
		t.Fatalf("unexpected status: %+v", man.Status)
	}
	if len(man.Status.Subsystems) != 1 || !man.Status.Subsystems[0].Available {
		t.Fatalf("expected replaced subsystem entry, got %+v", man.Status.Subsystems)
	}
	if len(man.Status.Timeline) != 2 {
		t.Fatalf("expected two timeline entries, got %d", len(man.Status.Timeline))
	}
	if man.Status.Summary != "10 frames processed, 3 skipped" {
		t.Fatalf("unexpected summary %q", man.Status.Summary)
	}

	failed := New(Options{RunID: "run", Config: config.Default()})
	failed.MarkFinished(start, "error", errors.New("camera vanished"))
	if failed.Status.State != StateFailed || failed.Status.Summary != "camera vanished" {
		t.Fatalf("unexpected failed status: %+v", failed.Status)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	layout := BuildLayout(dir, "run")
	cfg := config.Default()
	cfg.Source = "explicit"
	now := time.Now().UTC().Round(time.Second)

	man := New(Options{
		RunID:      "run",
		CreatedAt:  now,
		Hostname:   "host",
		AppVersion: "version",
		Config:     cfg,
		Layout:     layout,
	})
	man.RecordCalibration(calibration.Result{SessionID: "s1", AccuracyEstimate: 0.75, Samples: 12})

	path := filepath.Join(dir, "manifest.json")
	if err := Save(man, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary manifest left behind: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.RunID != man.RunID {
		t.Fatalf("expected RunID %s, got %s", man.RunID, loaded.RunID)
	}
	if loaded.Correction != man.Correction {
		t.Fatalf("expected correction %+v, got %+v", man.Correction, loaded.Correction)
	}
	if len(loaded.Calibrations) != 1 || loaded.Calibrations[0].Samples != 12 {
		t.Fatalf("unexpected calibrations %+v", loaded.Calibrations)
	}
}

func TestResolveRunID(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)

	if err := os.MkdirAll(filepath.Join(dir, now.Format("20060102_150405")), 0o755); err != nil {
		t.Fatalf("prep existing run: %v", err)
	}

	id, err := ResolveRunID(dir, now)
	if err != nil {
		t.Fatalf("ResolveRunID failed: %v", err)
	}
	expected := now.Format("20060102_150405") + "_01"
	if id != expected {
		t.Fatalf("expected %s, got %s", expected, id)
	}
}

func TestResolveRunIDEmptyRunsDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("path validation differs on windows")
	}
	if _, err := ResolveRunID(" ", time.Now()); err == nil {
		t.Fatalf("expected error for empty runs dir")
	}
}
