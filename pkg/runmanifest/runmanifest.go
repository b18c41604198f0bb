package runmanifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/offlinefirst/visionfix/pkg/calibration"
	"github.com/offlinefirst/visionfix/pkg/config"
)

// SchemaVersion captures the manifest version for compatibility checks.
const SchemaVersion = 2

// Run lifecycle states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Layout represents the absolute filesystem locations for a run.
type Layout struct {
	Root           string
	ManifestPath   string
	LogPath        string
	FramesDir      string
	CalibrationDir string
}

// Paths holds the relative locations stored in the manifest for portability.
type Paths struct {
	Root        string `json:"root"`
	Manifest    string `json:"manifest"`
	Log         string `json:"log"`
	Frames      string `json:"frames"`
	Calibration string `json:"calibration"`
}

// CorrectionSettings records the settings the run started with.
type CorrectionSettings struct {
	Enabled            bool    `json:"enabled"`
	Tier               string  `json:"tier"`
	Profile            string  `json:"profile"`
	CaptureBackend     string  `json:"capture_backend"`
	CaptureURL         string  `json:"capture_url,omitempty"`
	Viewport           string  `json:"viewport"`
	ViewingDistanceCm  float64 `json:"viewing_distance_cm,omitempty"`
	DegradeGracefully  bool    `json:"degrade_gracefully"`
	DisplayHz          int     `json:"display_hz"`
	CameraBackend      string  `json:"camera_backend,omitempty"`
	DiagnosticsEnabled bool    `json:"diagnostics_enabled"`
}

// Counters mirrors the loop's frame accounting at the end of the run.
type Counters struct {
	Processed       uint64 `json:"processed"`
	Skipped         uint64 `json:"skipped"`
	CaptureFailures uint64 `json:"capture_failures"`
	TrackingMisses  uint64 `json:"tracking_misses"`
}

// Status summarises the lifecycle of a correction run.
type Status struct {
	State       string            `json:"state"`
	Summary     string            `json:"summary,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
	Termination string            `json:"termination,omitempty"`
	Timeline    []TimelineEntry   `json:"timeline,omitempty"`
	Subsystems  []SubsystemStatus `json:"subsystems,omitempty"`
}

// TimelineEntry records notable transitions (settings applied, visibility, reloads).
type TimelineEntry struct {
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubsystemStatus captures availability and outcome details for a subsystem.
type SubsystemStatus struct {
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Available  bool   `json:"available"`
	State      string `json:"state"`
	Provider   string `json:"provider,omitempty"`
	Permission string `json:"permission,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Subsystem outcome states used in manifests for downstream tooling.
const (
	SubsystemStatePending     = "pending"
	SubsystemStateCompleted   = "completed"
	SubsystemStateSkipped     = "skipped"
	SubsystemStateUnavailable = "unavailable"
	SubsystemStateErrored     = "error"
)

// Manifest is the durable metadata describing a correction run.
type Manifest struct {
	SchemaVersion int                  `json:"schema_version"`
	RunID         string               `json:"run_id"`
	CreatedAt     time.Time            `json:"created_at"`
	Hostname      string               `json:"hostname"`
	AppVersion    string               `json:"app_version"`
	ConfigSource  string               `json:"config_source"`
	Correction    CorrectionSettings   `json:"correction"`
	Counters      Counters             `json:"counters"`
	Calibrations  []calibration.Result `json:"calibrations,omitempty"`
	Paths         Paths                `json:"paths"`
	Status        Status               `json:"status"`
}

// Options captures the knobs for creating a new manifest.
type Options struct {
	RunID         string
	CreatedAt     time.Time
	Hostname      string
	AppVersion    string
	CameraBackend string
	Config        config.Config
	Layout        Layout
}

// New constructs a manifest using the supplied options.
func New(opts Options) Manifest {
	cfg := opts.Config
	return Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         opts.RunID,
		CreatedAt:     opts.CreatedAt.UTC(),
		Hostname:      opts.Hostname,
		AppVersion:    opts.AppVersion,
		ConfigSource:  cfg.Source,
		Correction: CorrectionSettings{
			Enabled:            cfg.Correction.Enabled,
			Tier:               string(cfg.Tier()),
			Profile:            cfg.Profiles.Active,
			CaptureBackend:     cfg.Capture.Backend,
			CaptureURL:         cfg.Capture.URL,
			Viewport:           cfg.Capture.Viewport().String(),
			ViewingDistanceCm:  cfg.Correction.ViewingDistanceCm,
			DegradeGracefully:  cfg.Correction.DegradeGracefully,
			DisplayHz:          cfg.Correction.DisplayHz,
			CameraBackend:      opts.CameraBackend,
			DiagnosticsEnabled: cfg.Diagnostics.Enabled,
		},
		Paths:  opts.Layout.RelativePaths(),
		Status: Status{State: StatePending},
	}
}

// MarkRunning records the start of the run.
func (m *Manifest) MarkRunning(at time.Time) {
	started := at.UTC()
	m.Status.State = StateRunning
	m.Status.StartedAt = &started
	m.AddTimeline(StateRunning, "", at)
}

// MarkFinished records the end of the run. A nil err completes the run.
func (m *Manifest) MarkFinished(at time.Time, termination string, err error) {
	ended := at.UTC()
	m.Status.EndedAt = &ended
	m.Status.Termination = termination
	if err != nil {
		m.Status.State = StateFailed
		m.Status.Summary = err.Error()
	} else {
		m.Status.State = StateCompleted
		m.Status.Summary = fmt.Sprintf("%d frames processed, %d skipped", m.Counters.Processed, m.Counters.Skipped)
	}
	m.AddTimeline(m.Status.State, termination, at)
}

// AddTimeline appends a timeline entry.
func (m *Manifest) AddTimeline(state, reason string, at time.Time) {
	m.Status.Timeline = append(m.Status.Timeline, TimelineEntry{State: state, Reason: reason, Timestamp: at.UTC()})
}

// SetSubsystem inserts or replaces the status of a named subsystem.
func (m *Manifest) SetSubsystem(s SubsystemStatus) {
	for i := range m.Status.Subsystems {
		if m.Status.Subsystems[i].Name == s.Name {
			m.Status.Subsystems[i] = s
			return
		}
	}
	m.Status.Subsystems = append(m.Status.Subsystems, s)
}

// RecordCalibration appends a completed calibration result.
func (m *Manifest) RecordCalibration(res calibration.Result) {
	m.Calibrations = append(m.Calibrations, res)
}

// BuildLayout creates an absolute filesystem layout for a run.
func BuildLayout(runsDir, runID string) Layout {
	root := filepath.Join(runsDir, runID)
	return Layout{
		Root:           root,
		ManifestPath:   filepath.Join(root, "manifest.json"),
		LogPath:        filepath.Join(root, "run.log"),
		FramesDir:      filepath.Join(root, "frames"),
		CalibrationDir: filepath.Join(root, "calibration"),
	}
}

// RelativePaths exposes the manifest-friendly relative paths for the layout.
func (l Layout) RelativePaths() Paths {
	return Paths{
		Root:        ".",
		Manifest:    filepath.Base(l.ManifestPath),
		Log:         filepath.Base(l.LogPath),
		Frames:      filepath.Base(l.FramesDir),
		Calibration: filepath.Base(l.CalibrationDir),
	}
}

// EnsureFilesystem prepares the directory tree for a run layout.
func EnsureFilesystem(layout Layout) error {
	if err := os.MkdirAll(layout.Root, 0o755); err != nil {
		return fmt.Errorf("create run root: %w", err)
	}

	for _, dir := range []string{layout.FramesDir, layout.CalibrationDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	file, err := os.OpenFile(layout.LogPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("initialise run log: %w", err)
	}
	defer file.Close()

	return nil
}

// Save writes the manifest JSON to disk with indentation for readability.
// The file is replaced atomically so readers never see a partial manifest.
func Save(man Manifest, path string) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// Load reads a manifest JSON file from disk.
func Load(path string) (Manifest, error) {
	var man Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return man, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &man); err != nil {
		return man, fmt.Errorf("decode manifest: %w", err)
	}
	return man, nil
}

// ResolveRunID chooses a run identifier derived from the timestamp and avoids collisions.
func ResolveRunID(runsDir string, now time.Time) (string, error) {
	if strings.TrimSpace(runsDir) == "" {
		return "", errors.New("runs directory must not be empty")
	}

	base := now.UTC().Format("20060102_150405")
	candidate := base
	suffix := 1
	for {
		_, err := os.Stat(filepath.Join(runsDir, candidate))
		if err == nil {
			candidate = fmt.Sprintf("%s_%02d", base, suffix)
			suffix++
			continue
		}
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		return "", fmt.Errorf("inspect runs directory: %w", err)
	}
}
