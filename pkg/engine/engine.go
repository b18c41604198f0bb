// Package engine assembles the camera, capture, correction loop, calibration
// and diagnostics for one run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/visionfix/pkg/calibration"
	"github.com/offlinefirst/visionfix/pkg/config"
	"github.com/offlinefirst/visionfix/pkg/diagnostics"
	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/history"
	"github.com/offlinefirst/visionfix/pkg/light"
	"github.com/offlinefirst/visionfix/pkg/loop"
	"github.com/offlinefirst/visionfix/pkg/permissions"
	"github.com/offlinefirst/visionfix/pkg/runmanifest"
	"github.com/offlinefirst/visionfix/pkg/viewport"
)

// Termination causes recorded in Summary.
const (
	TerminationCancelled  = "cancelled"
	TerminationDuration   = "duration"
	TerminationCalibrated = "calibration_finished"
	TerminationError      = "error"
)

// Options controls a run.
type Options struct {
	Config  config.Config
	Watcher *config.Watcher
	Layout  runmanifest.Layout
	Logger  *slog.Logger
	Clock   func() time.Time
	// Duration bounds the run; zero runs until ctx is cancelled.
	Duration time.Duration
	// Calibrate starts a calibration session immediately and ends the run
	// once every target has been shown.
	Calibrate bool

	// Overrides for tests and embedding. Nil values use the defaults
	// selected by the configuration.
	Camera     gaze.FrameSource
	Detector   gaze.Detector
	Provider   viewport.Provider
	Frames     *diagnostics.FrameStore
	History    *history.Store
	Lookup     permissions.LookupEnvFunc
	Ticks      <-chan time.Time
	CalTicker  calibration.TickerFunc
	OnSettings func(config.Snapshot, error)
}

// LightReading is the ambient light measured from the first camera frame.
type LightReading struct {
	Lux    float64     `json:"lux"`
	Level  light.Level `json:"level"`
	Advice string      `json:"advice"`
}

// Summary reports what happened during the run.
type Summary struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Termination  string
	Status       loop.Status
	Light        *LightReading
	Calibrations []calibration.Result
	Subsystems   []runmanifest.SubsystemStatus
	Problems     []string
}

// SettingsFromConfig derives loop settings from a configuration snapshot.
func SettingsFromConfig(cfg config.Config) (loop.Settings, error) {
	coll, err := cfg.Collection()
	if err != nil {
		return loop.Settings{}, err
	}
	return loop.Settings{
		Enabled:            cfg.Correction.Enabled,
		Tier:               cfg.Tier(),
		Profile:            coll.Active(),
		Viewport:           cfg.Capture.Viewport(),
		DistanceOverrideCm: cfg.Correction.ViewingDistanceCm,
		DegradeGracefully:  cfg.Correction.DegradeGracefully,
	}, nil
}

type recorder struct {
	mu      sync.Mutex
	summary *Summary
	logFile *os.File
	clock   func() time.Time
}

func (r *recorder) log(subsystem, message string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writeRunLog(r.logFile, r.clock(), subsystem, message, args...)
}

func (r *recorder) subsystem(s runmanifest.SubsystemStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Subsystems = append(r.summary.Subsystems, s)
}

func (r *recorder) problem(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Problems = append(r.summary.Problems, err.Error())
}

func (r *recorder) calibration(res calibration.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Calibrations = append(r.summary.Calibrations, res)
}

// Run executes one correction run and blocks until it ends.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.Logger == nil {
		return Summary{}, errors.New("logger must be provided")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := opts.Config
	logger := opts.Logger

	summary := Summary{StartedAt: clock()}
	rec := &recorder{summary: &summary, clock: clock}
	if opts.Layout.LogPath != "" {
		logFile, err := os.OpenFile(opts.Layout.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return summary, fmt.Errorf("open run log: %w", err)
		}
		defer logFile.Close()
		rec.logFile = logFile
	}

	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return summary, fmt.Errorf("resolve settings: %w", err)
	}
	profileName := settings.Profile.Name

	camera, detector, err := openCamera(opts, clock)
	if err != nil {
		rec.subsystem(runmanifest.SubsystemStatus{Name: "camera", Enabled: true, State: runmanifest.SubsystemStateErrored, Provider: gaze.Backend, Message: err.Error()})
		return summary, fmt.Errorf("open camera: %w", err)
	}
	defer camera.Close()
	cameraProbe := permissions.ProbeCamera(opts.Lookup)
	rec.subsystem(runmanifest.SubsystemStatus{
		Name:       "camera",
		Enabled:    true,
		Available:  cameraProbe.Status != permissions.StatusDenied,
		State:      runmanifest.SubsystemStateCompleted,
		Provider:   gaze.Backend,
		Permission: cameraProbe.StatusString(),
		Message:    cameraProbe.Message,
	})
	rec.log("camera", "backend=%s permission=%s", gaze.Backend, cameraProbe.StatusString())

	if reading, err := measureLight(ctx, camera); err != nil {
		logger.Warn("ambient light check failed", "error", err)
	} else {
		summary.Light = reading
		rec.log("light", "lux=%.0f level=%s", reading.Lux, reading.Level)
		if reading.Level == light.LevelLow || reading.Level == light.LevelTooDark {
			logger.Warn("ambient light", "lux", reading.Lux, "level", reading.Level, "advice", reading.Advice)
		} else {
			logger.Info("ambient light", "lux", reading.Lux, "level", reading.Level)
		}
	}

	estimator, err := gaze.NewEstimator(gaze.EstimatorOptions{
		Detector:           detector,
		DistanceOverrideCm: cfg.Correction.ViewingDistanceCm,
		Logger:             logger.With("component", "gaze"),
	})
	if err != nil {
		return summary, fmt.Errorf("initialise gaze estimator: %w", err)
	}

	provider, closeProvider, err := openProvider(ctx, opts, clock, rec, logger)
	if err != nil {
		return summary, err
	}
	defer closeProvider()

	frames := opts.Frames
	if frames == nil {
		frames = diagnostics.NewFrameStore(clock)
	}

	manager, err := calibration.NewManager(calibration.Options{
		AdvanceInterval: cfg.Calibration.AdvanceInterval,
		SettleDelay:     cfg.Calibration.SettleDelay,
		Clock:           clock,
		Ticker:          opts.CalTicker,
		Logger:          logger.With("component", "calibration"),
		Listener: func(ev calibration.Event) {
			rec.log("calibration", "session=%s event=%s", ev.SessionID, ev.Kind)
			if ev.Kind != calibration.EventCompleted || ev.Result == nil {
				return
			}
			rec.calibration(*ev.Result)
			if opts.History != nil {
				if err := opts.History.Record(context.WithoutCancel(ctx), profileName, *ev.Result); err != nil {
					logger.Error("record calibration failed", "session_id", ev.SessionID, "error", err)
				}
			}
		},
	})
	if err != nil {
		return summary, fmt.Errorf("initialise calibration: %w", err)
	}

	scheduler, err := loop.New(loop.Options{
		Camera:    camera,
		Estimator: estimator,
		Provider:  provider,
		Surface:   frames,
		Observer:  manager,
		Permission: func() permissions.ProbeResult {
			return permissions.ProbeCamera(opts.Lookup)
		},
		DisplayHz: cfg.Correction.DisplayHz,
		Ticks:     opts.Ticks,
		Report: func(err error) {
			logger.Warn("correction problem", "error", err)
			rec.problem(err)
			rec.log("loop", "problem: %v", err)
		},
		Logger: logger.With("component", "loop"),
	})
	if err != nil {
		return summary, fmt.Errorf("initialise correction loop: %w", err)
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	if opts.Duration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, opts.Duration, errDuration)
		defer cancelTimeout()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := scheduler.Run(gctx, settings)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})

	if cfg.Diagnostics.Enabled {
		server, err := diagnostics.NewServer(diagnostics.Options{
			Addr:        cfg.Diagnostics.Addr,
			Status:      scheduler,
			Visibility:  scheduler,
			Frames:      frames,
			Calibration: manager,
			Logger:      logger.With("component", "diagnostics"),
		})
		if err != nil {
			cancelRun(err)
			_ = g.Wait()
			return summary, fmt.Errorf("initialise diagnostics: %w", err)
		}
		rec.subsystem(runmanifest.SubsystemStatus{Name: "diagnostics", Enabled: true, Available: true, State: runmanifest.SubsystemStateCompleted, Provider: server.Addr()})
		g.Go(func() error {
			return server.Start(gctx)
		})
	} else {
		rec.subsystem(runmanifest.SubsystemStatus{Name: "diagnostics", State: runmanifest.SubsystemStateSkipped, Message: "disabled in config"})
	}

	if opts.Watcher != nil {
		// Deliveries to one listener are serialised.
		applied := opts.Watcher.Snapshot().Version
		opts.Watcher.Subscribe(func(snap config.Snapshot) {
			if snap.Version <= applied {
				return
			}
			applied = snap.Version
			next, err := SettingsFromConfig(snap.Config)
			if err == nil {
				err = scheduler.Apply(next)
			}
			if err != nil && !errors.Is(err, loop.ErrNotRunning) {
				logger.Warn("settings reload rejected", "version", snap.Version, "error", err)
			} else if err == nil {
				rec.log("config", "applied version=%d tier=%s profile=%s", snap.Version, next.Tier, next.Profile.Name)
			}
			if opts.OnSettings != nil {
				opts.OnSettings(snap, err)
			}
		})
	}

	if opts.Calibrate {
		g.Go(func() error {
			return calibrate(gctx, manager, cfg.Calibration.AdvanceInterval, cancelRun, logger)
		})
	}

	runErr := g.Wait()
	manager.Cancel()

	summary.FinishedAt = clock()
	summary.Status = scheduler.Status()
	summary.Termination = termination(runCtx, runErr)
	rec.log("run", "finished termination=%s processed=%d skipped=%d", summary.Termination, summary.Status.Processed, summary.Status.Skipped)
	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}

var (
	errDuration   = errors.New("run duration elapsed")
	errCalibrated = errors.New("calibration finished")
)

func termination(run context.Context, runErr error) string {
	switch cause := context.Cause(run); {
	case runErr != nil:
		return TerminationError
	case errors.Is(cause, errCalibrated):
		return TerminationCalibrated
	case errors.Is(cause, errDuration):
		return TerminationDuration
	default:
		return TerminationCancelled
	}
}

// calibrate starts a session, waits until every target was shown and finishes it.
func calibrate(ctx context.Context, manager *calibration.Manager, interval time.Duration, stop context.CancelCauseFunc, logger *slog.Logger) error {
	session, _, err := manager.Start()
	if err != nil {
		return fmt.Errorf("start calibration: %w", err)
	}
	logger.Info("calibration started", "session_id", session.ID(), "targets", len(session.Targets()))
	wait := time.Duration(len(session.Targets())) * interval
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	res, err := manager.Finish()
	if err != nil {
		return fmt.Errorf("finish calibration: %w", err)
	}
	logger.Info("calibration finished",
		"session_id", res.SessionID,
		"accuracy", res.AccuracyEstimate,
		"samples", res.Samples,
		"duration", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)
	stop(errCalibrated)
	return nil
}

func openCamera(opts Options, clock func() time.Time) (gaze.FrameSource, gaze.Detector, error) {
	if opts.Camera != nil {
		if opts.Detector == nil {
			return nil, nil, errors.New("camera override requires a detector")
		}
		return opts.Camera, opts.Detector, nil
	}
	c := opts.Config.Camera
	camera, detector, err := gaze.DefaultCamera(gaze.CameraOptions{
		DeviceID:        c.Device,
		Width:           c.Width,
		Height:          c.Height,
		Clock:           clock,
		FaceCascadePath: c.FaceCascade,
		EyeCascadePath:  c.EyeCascade,
	})
	if err != nil {
		return nil, nil, err
	}
	if opts.Detector != nil {
		detector = opts.Detector
	}
	return camera, detector, nil
}

func measureLight(ctx context.Context, camera gaze.FrameSource) (*LightReading, error) {
	frameCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	frame, err := camera.Next(frameCtx)
	if err != nil {
		return nil, err
	}
	lux := light.Estimate(frame.Image)
	level := light.Classify(lux)
	return &LightReading{Lux: lux, Level: level, Advice: light.Advice(level)}, nil
}

func openProvider(ctx context.Context, opts Options, clock func() time.Time, rec *recorder, logger *slog.Logger) (viewport.Provider, func(), error) {
	noop := func() {}
	if opts.Provider != nil {
		rec.subsystem(runmanifest.SubsystemStatus{Name: "capture", Enabled: true, Available: true, State: runmanifest.SubsystemStateCompleted, Provider: "custom"})
		return opts.Provider, noop, nil
	}
	cfg := opts.Config.Capture
	env := viewport.DetectEnvironment(cfg.Backend, opts.Lookup)
	status := runmanifest.SubsystemStatus{
		Name:       "capture",
		Enabled:    true,
		Available:  env.Available,
		Provider:   env.Provider,
		Permission: env.Permission,
		Message:    env.Message,
	}

	if env.Requested == viewport.BackendTab && env.Available {
		tab, err := viewport.NewTabProvider(ctx, viewport.TabOptions{
			URL:              cfg.URL,
			Viewport:         cfg.Viewport(),
			ExcludeSelectors: cfg.ExcludeSelectors,
			Timeout:          cfg.Timeout,
		})
		if err == nil {
			status.State = runmanifest.SubsystemStateCompleted
			rec.subsystem(status)
			rec.log("capture", "tab provider url=%s viewport=%s", cfg.URL, cfg.Viewport())
			return tab, func() { _ = tab.Close() }, nil
		}
		if !opts.Config.Correction.DegradeGracefully {
			status.State = runmanifest.SubsystemStateErrored
			status.Message = err.Error()
			rec.subsystem(status)
			return nil, noop, fmt.Errorf("open tab capture: %w", err)
		}
		logger.Warn("tab capture unavailable, using synthetic page", "error", err)
		status.Message = err.Error()
	} else if env.Requested == viewport.BackendTab {
		if !opts.Config.Correction.DegradeGracefully {
			status.State = runmanifest.SubsystemStateUnavailable
			rec.subsystem(status)
			return nil, noop, fmt.Errorf("tab capture: %w", permissions.ErrPermissionDenied)
		}
		logger.Warn("tab capture denied, using synthetic page", "guidance", env.Guidance)
	}

	synthetic, err := viewport.NewSyntheticProvider(viewport.SyntheticOptions{Viewport: cfg.Viewport(), Clock: clock, ScrollSpeed: 40})
	if err != nil {
		return nil, noop, fmt.Errorf("open synthetic page: %w", err)
	}
	status.Provider = viewport.BackendSynthetic
	status.State = runmanifest.SubsystemStateCompleted
	rec.subsystem(status)
	rec.log("capture", "synthetic provider viewport=%s", cfg.Viewport())
	return synthetic, noop, nil
}

func writeRunLog(file *os.File, timestamp time.Time, subsystem, message string, args ...any) {
	if file == nil {
		return
	}
	formatted := message
	if len(args) > 0 {
		formatted = fmt.Sprintf(message, args...)
	}
	line := fmt.Sprintf("[%s] subsystem=%s %s\n", timestamp.UTC().Format(time.RFC3339), subsystem, formatted)
	_, _ = file.WriteString(line)
}
