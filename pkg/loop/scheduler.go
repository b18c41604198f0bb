package loop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/offlinefirst/visionfix/pkg/correction"
	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/permissions"
	"github.com/offlinefirst/visionfix/pkg/quality"
	"github.com/offlinefirst/visionfix/pkg/viewport"
)

var (
	// ErrLoopActive is returned by Run while another loop is running.
	ErrLoopActive = errors.New("a correction loop is already active")
	// ErrNotRunning is returned by Apply when Run has not been called.
	ErrNotRunning = errors.New("correction loop not running")
)

// only one loop may own the camera and render target at a time.
var activeLoop atomic.Bool

// Estimator produces gaze samples from camera frames.
type Estimator interface {
	Estimate(ctx context.Context, frame gaze.Frame) (gaze.Sample, bool, error)
	SetDistanceOverride(cm float64)
}

// Observer receives every fresh gaze sample.
type Observer interface {
	Observe(gaze.Sample)
}

// Surface displays corrected frames. The frame is reused by the next render,
// so implementations must copy what they keep.
type Surface interface {
	Present(ctx context.Context, frame *image.RGBA) error
}

// Options wire the loop's collaborators.
type Options struct {
	Camera    gaze.FrameSource
	Estimator Estimator
	Provider  viewport.Provider
	Surface   Surface
	Observer  Observer
	// Permission probes camera access when correction is enabled.
	Permission func() permissions.ProbeResult
	// DisplayHz drives the default tick source.
	DisplayHz int
	// Ticks replaces the display ticker.
	Ticks <-chan time.Time
	// Report receives permission and configuration errors. It runs on the
	// loop goroutine and must not call back into the Scheduler.
	Report  func(error)
	Logger  *slog.Logger
	Workers int
}

// Scheduler owns the frame cadence and the per-frame sequence
// estimate, capture, render.
type Scheduler struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	cmds    chan command
	done    chan struct{}
	vis     *Visibility
	visible bool
	status  Status
}

type command struct {
	settings *Settings
	err      error
	visible  *bool
	ack      chan struct{}
}

// send delivers cmd to the Run goroutine and waits until it was handled.
func (s *Scheduler) send(cmd command) error {
	s.mu.Lock()
	cmds, done := s.cmds, s.done
	s.mu.Unlock()
	if cmds == nil {
		return ErrNotRunning
	}
	cmd.ack = make(chan struct{})
	select {
	case cmds <- cmd:
	case <-done:
		return ErrNotRunning
	}
	select {
	case <-cmd.ack:
		return nil
	case <-done:
		return ErrNotRunning
	}
}

// New validates options and returns a stopped scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Camera == nil {
		return nil, errors.New("camera is required")
	}
	if opts.Estimator == nil {
		return nil, errors.New("estimator is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("capture provider is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("surface is required")
	}
	if opts.DisplayHz <= 0 {
		opts.DisplayHz = 60
	}
	if opts.Permission == nil {
		opts.Permission = func() permissions.ProbeResult {
			return permissions.ProbeCamera(nil)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{opts: opts, logger: logger, visible: true}, nil
}

// Status returns the latest snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	if st.Gaze != nil {
		g := *st.Gaze
		st.Gaze = &g
	}
	return st
}

// Apply hands a new settings snapshot to the running loop. Invalid settings
// are reported and switch the loop to pass-through.
func (s *Scheduler) Apply(settings Settings) error {
	err := settings.Validate()
	if sendErr := s.send(command{settings: &settings, err: err}); sendErr != nil {
		return sendErr
	}
	return err
}

// SetVisible records a visibility change of the viewing surface.
func (s *Scheduler) SetVisible(visible bool) {
	s.mu.Lock()
	s.visible = visible
	vis := s.vis
	s.mu.Unlock()
	if vis == nil {
		return
	}
	if visible {
		vis.Show()
	} else {
		vis.Hide()
	}
	_ = s.send(command{visible: &visible})
}

// Run drives the loop until ctx is done. Render resources are released
// before Run returns.
func (s *Scheduler) Run(ctx context.Context, initial Settings) error {
	if !activeLoop.CompareAndSwap(false, true) {
		return ErrLoopActive
	}
	defer activeLoop.Store(false)

	ticks := s.opts.Ticks
	if ticks == nil {
		ticker := time.NewTicker(time.Second / time.Duration(s.opts.DisplayHz))
		defer ticker.Stop()
		ticks = ticker.C
	}

	s.mu.Lock()
	s.cmds = make(chan command)
	s.done = make(chan struct{})
	s.vis = NewVisibility(s.visible)
	o := &owner{
		Scheduler: s,
		id:        uuid.NewString(),
		visible:   s.visible,
		results:   make(chan frameResult, 1),
	}
	vis := s.vis
	s.mu.Unlock()

	defer func() {
		vis.Close(nil)
		s.mu.Lock()
		close(s.done)
		s.cmds, s.vis = nil, nil
		s.mu.Unlock()
	}()

	pumped := make(chan time.Time)
	pumpCtx, stopPump := context.WithCancel(ctx)
	var pumpWG sync.WaitGroup
	pumpWG.Add(1)
	go func() {
		defer pumpWG.Done()
		pump(pumpCtx, vis, ticks, pumped)
	}()
	defer func() {
		stopPump()
		pumpWG.Wait()
	}()

	s.logger.Info("correction loop started", slog.String("loop_id", o.id))
	o.apply(initial, initial.Validate())
	for {
		select {
		case <-ctx.Done():
			o.teardown()
			o.publish(false)
			s.logger.Info("correction loop stopped",
				slog.String("loop_id", o.id),
				slog.Uint64("processed", o.processed),
				slog.Uint64("skipped", o.skipped),
			)
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case cmd := <-s.cmds:
			switch {
			case cmd.settings != nil:
				o.apply(*cmd.settings, cmd.err)
			case cmd.visible != nil:
				o.setVisible(*cmd.visible)
			}
			close(cmd.ack)
		case t := <-pumped:
			o.tick(ctx, t)
		case res := <-o.results:
			o.finish(res)
		}
	}
}

// pump forwards ticks while the surface is visible.
func pump(ctx context.Context, vis *Visibility, src <-chan time.Time, dst chan<- time.Time) {
	for {
		if err := vis.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case t, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

// owner holds the state touched only by the Run goroutine.
type owner struct {
	*Scheduler
	id string

	settings  Settings
	profile   quality.Profile
	renderer  *correction.Renderer
	capturer  *viewport.Capturer
	ready     bool
	visible   bool
	configErr error

	// trackingEnabled is false when camera access was refused.
	trackingEnabled bool
	trackingOK      bool

	held      gaze.Sample
	hasSample bool
	lastFrame time.Time

	generation uint64
	inFlight   bool
	cancelJob  context.CancelFunc
	results    chan frameResult

	processed      uint64
	skipped        uint64
	captureFails   uint64
	trackingMisses uint64
	lastErr        string
}

func (o *owner) apply(next Settings, invalid error) {
	if invalid != nil {
		o.configErr = invalid
		o.report(invalid)
		if !o.ready {
			// Keep a usable tier so pass-through frames can still be produced.
			fallback := next
			if _, err := quality.For(fallback.Tier); err != nil {
				fallback.Tier = quality.DefaultTier
			}
			if fallback.Viewport.Validate() == nil {
				o.rebuild(fallback)
			}
		} else {
			if !next.Enabled {
				o.teardown()
			}
			o.settings.Enabled = next.Enabled
			o.settings.Profile = next.Profile
		}
		o.publish(true)
		return
	}
	o.configErr = nil

	rebuild := !o.ready || o.settings.needsRebuild(next)
	o.opts.Estimator.SetDistanceOverride(next.DistanceOverrideCm)
	if rebuild {
		o.rebuild(next)
	} else {
		o.settings = next
	}
	o.publish(true)
}

// rebuild tears down every render resource and recreates them for settings.
func (o *owner) rebuild(settings Settings) {
	o.teardown()
	o.settings = settings
	if !settings.Enabled {
		return
	}

	probe := o.opts.Permission()
	o.trackingEnabled = true
	if err := probe.Err(); err != nil {
		o.report(err)
		if !settings.DegradeGracefully {
			o.logger.Warn("camera permission denied, correction disabled")
			o.settings.Enabled = false
			return
		}
		o.logger.Warn("camera permission denied, continuing in pass-through")
		o.trackingEnabled = false
	}

	profile, err := quality.For(settings.Tier)
	if err != nil {
		o.configErr = fmt.Errorf("%w: %v", correction.ErrConfigurationInvalid, err)
		o.report(o.configErr)
		return
	}
	w, h := profile.ScaledSize(settings.Viewport.Width, settings.Viewport.Height)
	renderer, err := correction.NewRenderer(correction.RendererOptions{Width: w, Height: h, Quality: profile, Workers: o.opts.Workers})
	if err != nil {
		o.report(err)
		return
	}
	capturer, err := viewport.NewCapturer(viewport.CapturerOptions{Provider: o.opts.Provider, Viewport: settings.Viewport, Quality: profile, Logger: o.logger})
	if err != nil {
		renderer.Release()
		o.report(err)
		return
	}
	o.profile = profile
	o.renderer = renderer
	o.capturer = capturer
	o.ready = true
	o.lastFrame = time.Time{}
	o.logger.Info("render resources created",
		slog.String("tier", string(profile.Tier)),
		slog.Int("width", w),
		slog.Int("height", h),
		slog.Bool("tracking", o.trackingEnabled),
	)
}

// teardown cancels the in-flight frame, waits for it and releases the render
// target.
func (o *owner) teardown() {
	o.generation++
	if o.cancelJob != nil {
		o.cancelJob()
		o.cancelJob = nil
	}
	if o.inFlight {
		<-o.results
		o.inFlight = false
	}
	if o.renderer != nil {
		o.renderer.Release()
		o.renderer = nil
	}
	if o.capturer != nil {
		o.capturer.Reset()
		o.capturer = nil
	}
	o.ready = false
}

func (o *owner) setVisible(visible bool) {
	if o.visible == visible {
		return
	}
	o.visible = visible
	if !visible {
		// Drop the pending frame but keep the renderer warm.
		o.generation++
		if o.cancelJob != nil {
			o.cancelJob()
			o.cancelJob = nil
		}
	}
	o.publish(true)
}

func (o *owner) tick(ctx context.Context, now time.Time) {
	if !o.visible || !o.ready || !o.settings.Enabled {
		return
	}
	if o.inFlight {
		o.skipped++
		o.publish(true)
		return
	}
	if !o.lastFrame.IsZero() && now.Sub(o.lastFrame) < o.profile.FrameInterval() {
		o.skipped++
		o.publish(true)
		return
	}
	o.lastFrame = now

	jobCtx, cancel := context.WithCancel(ctx)
	o.cancelJob = cancel
	o.inFlight = true
	job := frameJob{
		generation:  o.generation,
		at:          now,
		tracking:    o.trackingEnabled,
		passThrough: o.configErr != nil,
		settings:    o.settings,
		quality:     o.profile,
		held:        o.held,
		hasSample:   o.hasSample,
		capturer:    o.capturer,
		renderer:    o.renderer,
	}
	go func() {
		res := o.runFrame(jobCtx, job)
		o.results <- res
	}()
}

func (o *owner) finish(res frameResult) {
	o.inFlight = false
	if o.cancelJob != nil {
		o.cancelJob()
		o.cancelJob = nil
	}
	if res.generation != o.generation {
		o.logger.Debug("discarding stale frame", slog.Uint64("generation", res.generation))
		return
	}

	if res.trackingErr != nil {
		o.trackingMisses++
		o.logger.Debug("gaze estimate failed", slog.String("error", res.trackingErr.Error()))
	}
	if res.found {
		o.held = res.sample
		o.hasSample = true
		if o.opts.Observer != nil {
			o.opts.Observer.Observe(res.sample)
		}
	} else if res.tracked && res.trackingErr == nil {
		o.trackingMisses++
	}
	o.trackingOK = res.found
	if res.captureErr != nil {
		o.captureFails++
	}
	if res.configErr != nil {
		if o.lastErr != res.configErr.Error() {
			o.report(res.configErr)
		}
	}
	if res.renderErr != nil {
		o.logger.Warn("render failed", slog.String("error", res.renderErr.Error()))
	} else {
		o.processed++
	}
	o.publish(true)
}

func (o *owner) report(err error) {
	if err == nil {
		return
	}
	o.lastErr = err.Error()
	o.logger.Warn("correction loop condition", slog.String("error", o.lastErr))
	if o.opts.Report != nil {
		o.opts.Report(err)
	}
}

func (o *owner) publish(running bool) {
	st := Status{
		LoopID:          o.id,
		Running:         running,
		Enabled:         o.settings.Enabled,
		Visible:         o.visible,
		TrackingActive:  running && o.ready && o.trackingEnabled && o.trackingOK,
		RenderReady:     running && o.ready,
		PassThrough:     o.configErr != nil || !o.trackingEnabled || !o.hasSample,
		Tier:            o.settings.Tier,
		Profile:         o.settings.Profile.Name,
		LastFrameAt:     o.lastFrame,
		FrameInterval:   o.profile.FrameInterval(),
		Processed:       o.processed,
		Skipped:         o.skipped,
		CaptureFailures: o.captureFails,
		TrackingMisses:  o.trackingMisses,
		LastError:       o.lastErr,
	}
	if o.hasSample {
		g := o.held
		st.Gaze = &g
	}
	o.mu.Lock()
	o.status = st
	o.mu.Unlock()
}
