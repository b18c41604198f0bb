package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/light"
	"github.com/offlinefirst/visionfix/pkg/permissions"
	"github.com/offlinefirst/visionfix/pkg/viewport"
)

func newDoctorCommand() command {
	return command{
		name:        "doctor",
		description: "Check camera, lighting and page capture readiness",
		configure: func(fs *flag.FlagSet) {
			fs.Bool("browser", false, "Launch Chrome to verify tab capture even for the synthetic backend")
			fs.Bool("skip-camera", false, "Do not open the camera for the lighting check")
		},
		run: runDoctor,
	}
}

var (
	doctorLookup permissions.LookupEnvFunc
	probeBrowser = viewport.ProbeBrowser
	openCamera   = gaze.DefaultCamera
)

func runDoctor(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := ctx.Config
	problems := 0

	fmt.Fprintf(stdout, "Config: %s (quality=%s, profile=%s)\n", cfg.Source, cfg.Correction.Quality, cfg.Profiles.Active)

	camera := permissions.ProbeCamera(doctorLookup)
	fmt.Fprintf(stdout, "Camera: backend=%s permission=%s", gaze.Backend, camera.StatusString())
	printProbeDetail(stdout, camera.Message, camera.Guidance)
	if camera.Status == permissions.StatusDenied {
		problems++
	}

	if !boolFlag(fs, "skip-camera") && camera.Status != permissions.StatusDenied {
		reading, err := checkLight(ctx)
		if err != nil {
			fmt.Fprintf(stdout, "Lighting: unavailable (%v)\n", err)
			problems++
		} else {
			fmt.Fprintf(stdout, "Lighting: ~%.0f lux (%s) - %s\n", reading.lux, reading.level, light.Advice(reading.level))
			if reading.level == light.LevelTooDark {
				problems++
			}
		}
	}

	env := viewport.DetectEnvironment(cfg.Capture.Backend, doctorLookup)
	fmt.Fprintf(stdout, "Page capture: backend=%s provider=%s available=%t permission=%s", cfg.Capture.Backend, env.Provider, env.Available, env.Permission)
	printProbeDetail(stdout, env.Message, env.Guidance)
	if !env.Available {
		problems++
	}

	if cfg.Capture.Backend == viewport.BackendTab || boolFlag(fs, "browser") {
		probeCtx, cancel := context.WithTimeout(context.Background(), cfg.Capture.Timeout)
		err := probeBrowser(probeCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(stdout, "Browser: unavailable (%v)\n", err)
			problems++
		} else {
			fmt.Fprintln(stdout, "Browser: ok")
		}
	}

	if problems > 0 {
		fmt.Fprintf(stdout, "%d problem(s) found\n", problems)
		ctx.Logger.Warn("doctor found problems", "count", problems)
		return nil
	}
	fmt.Fprintln(stdout, "All checks passed")
	return nil
}

type lightReading struct {
	lux   float64
	level light.Level
}

func checkLight(ctx *AppContext) (lightReading, error) {
	c := ctx.Config.Camera
	source, _, err := openCamera(gaze.CameraOptions{
		DeviceID:        c.Device,
		Width:           c.Width,
		Height:          c.Height,
		FaceCascadePath: c.FaceCascade,
		EyeCascadePath:  c.EyeCascade,
	})
	if err != nil {
		return lightReading{}, err
	}
	defer source.Close()

	frameCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := source.Next(frameCtx)
	if err != nil {
		return lightReading{}, err
	}
	lux := light.Estimate(frame.Image)
	return lightReading{lux: lux, level: light.Classify(lux)}, nil
}

func printProbeDetail(w io.Writer, message, guidance string) {
	if message != "" {
		fmt.Fprintf(w, " (%s)", message)
	}
	fmt.Fprintln(w)
	if guidance != "" {
		fmt.Fprintf(w, "  hint: %s\n", guidance)
	}
}
