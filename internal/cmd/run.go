package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/offlinefirst/visionfix/internal/buildinfo"
	"github.com/offlinefirst/visionfix/pkg/config"
	"github.com/offlinefirst/visionfix/pkg/engine"
	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/history"
	"github.com/offlinefirst/visionfix/pkg/runmanifest"
)

func newRunCommand() command {
	return command{
		name:        "run",
		description: "Start a gaze-adaptive correction session",
		configure: func(fs *flag.FlagSet) {
			fs.Bool("plan-only", false, "Print the resolved configuration without starting the loop")
			fs.Duration("duration", 0, "Stop after this long (default: until interrupted)")
			fs.Bool("diagnostics", false, "Serve the diagnostics API regardless of config")
			fs.Bool("no-watch", false, "Do not reload the config file when it changes")
		},
		run: runCorrection,
	}
}

var (
	timeNow       = time.Now
	hostname      = os.Hostname
	manifestSave  = runmanifest.Save
	runEngine     = engine.Run
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	}
)

func runCorrection(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}

	planOnly := boolFlag(fs, "plan-only")
	ctx.Logger.Info("run command invoked", "plan_only", planOnly, "runs_dir", ctx.Config.Paths.RunsDir, "config_source", ctx.Config.Source)

	if planOnly {
		return printRunPlan(ctx, stdout)
	}

	cfg := ctx.Config
	if boolFlag(fs, "diagnostics") {
		cfg.Diagnostics.Enabled = true
	}

	layout, manifest, err := prepareRun(cfg)
	if err != nil {
		return err
	}

	var watcher *config.Watcher
	if cfg.Source != "<defaults>" && !boolFlag(fs, "no-watch") {
		watcher, err = config.NewWatcher(cfg.Source, ctx.Logger.With("component", "config"))
		if err != nil {
			ctx.Logger.Warn("config watch disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	store := openHistory(ctx, cfg)
	if store != nil {
		defer store.Close()
	}

	manifest.MarkRunning(timeNow())
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return fmt.Errorf("update manifest status: %w", err)
	}

	runCtx, stop := signalContext(context.Background())
	defer stop()

	summary, runErr := runEngine(runCtx, engine.Options{
		Config:   cfg,
		Watcher:  watcher,
		Layout:   layout,
		Logger:   ctx.Logger,
		Clock:    timeNow,
		Duration: durationFlag(fs, "duration"),
		History:  store,
		OnSettings: func(snap config.Snapshot, err error) {
			if err == nil && ctx.Levels != nil {
				_ = ctx.Levels.SetLevel(snap.Config.Logging.Level)
			}
		},
	})

	if err := finaliseManifest(&manifest, layout, summary, runErr); err != nil {
		return err
	}
	if runErr != nil {
		ctx.Logger.Error("correction run failed", "error", runErr)
		return fmt.Errorf("run correction loop: %w", runErr)
	}

	printSummary(stdout, layout, summary)
	return nil
}

// prepareRun allocates the run directory and writes the pending manifest.
func prepareRun(cfg config.Config) (runmanifest.Layout, runmanifest.Manifest, error) {
	if err := os.MkdirAll(cfg.Paths.RunsDir, 0o755); err != nil {
		return runmanifest.Layout{}, runmanifest.Manifest{}, fmt.Errorf("ensure runs directory: %w", err)
	}

	runID, err := runmanifest.ResolveRunID(cfg.Paths.RunsDir, timeNow())
	if err != nil {
		return runmanifest.Layout{}, runmanifest.Manifest{}, fmt.Errorf("resolve run id: %w", err)
	}

	layout := runmanifest.BuildLayout(cfg.Paths.RunsDir, runID)
	if err := runmanifest.EnsureFilesystem(layout); err != nil {
		return layout, runmanifest.Manifest{}, fmt.Errorf("prepare run filesystem: %w", err)
	}

	host, err := hostname()
	if err != nil {
		host = "unknown"
	}

	manifest := runmanifest.New(runmanifest.Options{
		RunID:         runID,
		CreatedAt:     timeNow(),
		Hostname:      host,
		AppVersion:    buildinfo.Version(),
		CameraBackend: gaze.Backend,
		Config:        cfg,
		Layout:        layout,
	})
	if err := manifestSave(manifest, layout.ManifestPath); err != nil {
		return layout, manifest, fmt.Errorf("write manifest: %w", err)
	}
	return layout, manifest, nil
}

func finaliseManifest(manifest *runmanifest.Manifest, layout runmanifest.Layout, summary engine.Summary, runErr error) error {
	manifest.Counters = runmanifest.Counters{
		Processed:       summary.Status.Processed,
		Skipped:         summary.Status.Skipped,
		CaptureFailures: summary.Status.CaptureFailures,
		TrackingMisses:  summary.Status.TrackingMisses,
	}
	for _, s := range summary.Subsystems {
		manifest.SetSubsystem(s)
	}
	for _, res := range summary.Calibrations {
		manifest.RecordCalibration(res)
	}
	for _, problem := range summary.Problems {
		manifest.AddTimeline("problem", problem, summary.FinishedAt)
	}
	termination := summary.Termination
	if termination == "" {
		termination = engine.TerminationError
	}
	finished := summary.FinishedAt
	if finished.IsZero() {
		finished = timeNow()
	}
	manifest.MarkFinished(finished, termination, runErr)
	if err := manifestSave(*manifest, layout.ManifestPath); err != nil {
		if runErr != nil {
			return fmt.Errorf("run correction loop: %v (additionally failed to persist manifest: %w)", runErr, err)
		}
		return fmt.Errorf("finalise manifest: %w", err)
	}
	return nil
}

func openHistory(ctx *AppContext, cfg config.Config) *history.Store {
	if cfg.Calibration.HistoryPath == "" {
		return nil
	}
	store, err := history.Open(cfg.Calibration.HistoryPath)
	if err != nil {
		ctx.Logger.Warn("calibration history unavailable", "path", cfg.Calibration.HistoryPath, "error", err)
		return nil
	}
	return store
}

func printSummary(stdout io.Writer, layout runmanifest.Layout, summary engine.Summary) {
	fmt.Fprintf(stdout, "Run directory: %s\n", layout.Root)
	fmt.Fprintf(stdout, "Manifest: %s\n", layout.ManifestPath)
	fmt.Fprintf(stdout, "Run log: %s\n", layout.LogPath)
	st := summary.Status
	fmt.Fprintf(stdout, "Frames: %d processed, %d skipped, %d capture failures, %d tracking misses\n", st.Processed, st.Skipped, st.CaptureFailures, st.TrackingMisses)
	fmt.Fprintf(stdout, "Tier: %s  Profile: %s\n", st.Tier, st.Profile)
	if summary.Light != nil {
		fmt.Fprintf(stdout, "Ambient light: ~%.0f lux (%s) - %s\n", summary.Light.Lux, summary.Light.Level, summary.Light.Advice)
	}
	if len(summary.Subsystems) > 0 {
		fmt.Fprintf(stdout, "Subsystem status summary:\n")
		for _, subsystem := range summary.Subsystems {
			fmt.Fprintf(stdout, "  - %s: state=%s enabled=%t available=%t", subsystem.Name, subsystem.State, subsystem.Enabled, subsystem.Available)
			if subsystem.Provider != "" {
				fmt.Fprintf(stdout, " provider=%s", subsystem.Provider)
			}
			if subsystem.Permission != "" {
				fmt.Fprintf(stdout, " permission=%s", subsystem.Permission)
			}
			if subsystem.Message != "" {
				fmt.Fprintf(stdout, " (%s)", subsystem.Message)
			}
			fmt.Fprintln(stdout)
		}
	}
	for _, res := range summary.Calibrations {
		fmt.Fprintf(stdout, "Calibration %s: accuracy %.0f%% over %d samples\n", res.SessionID, res.AccuracyEstimate*100, res.Samples)
	}
	for _, problem := range summary.Problems {
		fmt.Fprintf(stdout, "Problem: %s\n", problem)
	}
	fmt.Fprintf(stdout, "Lifecycle: started %s, ended %s (termination: %s)\n", summary.StartedAt.Format(time.RFC3339), summary.FinishedAt.Format(time.RFC3339), summary.Termination)
}

func printRunPlan(ctx *AppContext, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Resolved configuration (source: %s, camera backend: %s)\n", ctx.Config.Source, gaze.Backend)
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(ctx.Config); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return enc.Close()
}

func boolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	value, err := strconv.ParseBool(f.Value.String())
	if err != nil {
		return false
	}
	return value
}

func durationFlag(fs *flag.FlagSet, name string) time.Duration {
	f := fs.Lookup(name)
	if f == nil {
		return 0
	}
	value, err := time.ParseDuration(f.Value.String())
	if err != nil {
		return 0
	}
	return value
}

func stringFlag(fs *flag.FlagSet, name string) string {
	f := fs.Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func intFlag(fs *flag.FlagSet, name string) int {
	f := fs.Lookup(name)
	if f == nil {
		return 0
	}
	value, err := strconv.Atoi(f.Value.String())
	if err != nil {
		return 0
	}
	return value
}

var errNoHistory = errors.New("calibration.history_path is empty")
