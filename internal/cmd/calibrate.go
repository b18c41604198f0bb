package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/offlinefirst/visionfix/pkg/engine"
)

func newCalibrateCommand() command {
	return command{
		name:        "calibrate",
		description: "Run a calibration session and record its accuracy",
		configure: func(fs *flag.FlagSet) {
			fs.Duration("timeout", 2*time.Minute, "Abort if calibration has not finished after this long")
		},
		run: runCalibration,
	}
}

func runCalibration(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := ctx.Config
	if !cfg.Correction.Enabled {
		ctx.Logger.Info("correction disabled in config; enabling for calibration")
		cfg.Correction.Enabled = true
	}

	layout, manifest, err := prepareRun(cfg)
	if err != nil {
		return err
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
		Config:    cfg,
		Layout:    layout,
		Logger:    ctx.Logger,
		Clock:     timeNow,
		Duration:  durationFlag(fs, "timeout"),
		Calibrate: true,
		History:   store,
	})
	if runErr == nil && len(summary.Calibrations) == 0 {
		runErr = errors.New("calibration did not finish (" + summary.Termination + ")")
	}
	if err := finaliseManifest(&manifest, layout, summary, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("calibrate: %w", runErr)
	}

	res := summary.Calibrations[len(summary.Calibrations)-1]
	fmt.Fprintf(stdout, "Calibration session %s\n", res.SessionID)
	fmt.Fprintf(stdout, "  profile: %s\n", summary.Status.Profile)
	fmt.Fprintf(stdout, "  accuracy: %.0f%%\n", res.AccuracyEstimate*100)
	fmt.Fprintf(stdout, "  mean error: %.3f (normalised screen units)\n", res.MeanError)
	fmt.Fprintf(stdout, "  samples: %d\n", res.Samples)
	fmt.Fprintf(stdout, "  duration: %s\n", res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if store == nil {
		fmt.Fprintln(stdout, "  history: not recorded (calibration.history_path unset or unavailable)")
	}
	return nil
}
