package loop

import (
	"context"
	"errors"
	"time"

	"github.com/offlinefirst/visionfix/pkg/correction"
	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/quality"
	"github.com/offlinefirst/visionfix/pkg/viewport"
)

// frameJob is everything one frame needs, copied at admission so the owner
// can keep mutating its own state.
type frameJob struct {
	generation  uint64
	at          time.Time
	tracking    bool
	passThrough bool
	settings    Settings
	quality     quality.Profile
	held        gaze.Sample
	hasSample   bool
	capturer    *viewport.Capturer
	renderer    *correction.Renderer
}

type frameResult struct {
	generation  uint64
	tracked     bool
	found       bool
	sample      gaze.Sample
	trackingErr error
	captureErr  error
	configErr   error
	renderErr   error
}

// runFrame performs estimate, capture and render strictly in that order.
func (o *owner) runFrame(ctx context.Context, job frameJob) frameResult {
	res := frameResult{generation: job.generation, tracked: job.tracking}
	sample, hasSample := job.held, job.hasSample

	if job.tracking {
		frame, err := o.opts.Camera.Next(ctx)
		if err == nil {
			var found bool
			sample, found, err = o.opts.Estimator.Estimate(ctx, frame)
			if found {
				res.found = true
				res.sample = sample
				hasSample = true
			} else {
				sample = job.held
			}
		}
		if err != nil {
			res.trackingErr = err
		}
	}
	if ctx.Err() != nil {
		res.renderErr = ctx.Err()
		return res
	}

	src, err := job.capturer.Capture(ctx)
	if ctx.Err() != nil {
		res.renderErr = ctx.Err()
		return res
	}
	if err != nil {
		res.captureErr = err
		if !errors.Is(err, viewport.ErrCaptureFailed) {
			res.renderErr = err
			return res
		}
	}

	var params *correction.Parameters
	if !job.passThrough && job.tracking && hasSample {
		params, err = correction.NewParameters(job.settings.Profile, sample, job.quality)
		if err != nil {
			res.configErr = err
			params = nil
		}
	}

	out, err := job.renderer.Render(ctx, src, params)
	if err != nil {
		res.renderErr = err
		return res
	}
	if ctx.Err() != nil {
		res.renderErr = ctx.Err()
		return res
	}
	if err := o.opts.Surface.Present(ctx, out); err != nil {
		res.renderErr = err
	}
	return res
}
