package viewport

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"

	xdraw "golang.org/x/image/draw"

	"github.com/offlinefirst/visionfix/pkg/quality"
)

// CapturerOptions configure a Capturer.
type CapturerOptions struct {
	Provider Provider
	Viewport Size
	Quality  quality.Profile
	Logger   *slog.Logger
}

// Capturer produces source frames at viewport * resolutionScale and keeps the
// last good frame for reuse when the provider fails.
type Capturer struct {
	provider Provider
	viewport Size
	profile  quality.Profile
	logger   *slog.Logger

	mu   sync.Mutex
	last *image.RGBA
}

// NewCapturer validates options and returns a capturer.
func NewCapturer(opts CapturerOptions) (*Capturer, error) {
	if opts.Provider == nil {
		return nil, errors.New("capture provider is required")
	}
	if err := opts.Viewport.Validate(); err != nil {
		return nil, err
	}
	if opts.Quality.ResolutionScale <= 0 {
		return nil, errors.New("quality profile must have a positive resolution scale")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Capturer{provider: opts.Provider, viewport: opts.Viewport, profile: opts.Quality, logger: logger}, nil
}

// TargetSize is the size of frames returned by Capture.
func (c *Capturer) TargetSize() (int, int) {
	return c.profile.ScaledSize(c.viewport.Width, c.viewport.Height)
}

// Capture grabs and scales one frame. When the provider fails the previous
// frame is returned together with an error matching ErrCaptureFailed; before
// any successful capture a blank frame stands in. The returned image is nil
// only when ctx is done, in which case ctx.Err() is returned unwrapped.
func (c *Capturer) Capture(ctx context.Context) (*image.RGBA, error) {
	w, h := c.TargetSize()
	src, err := c.provider.Grab(ctx)
	if err == nil && (src == nil || src.Bounds().Empty()) {
		err = errors.New("provider returned an empty image")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		fallback := c.last
		if fallback == nil {
			fallback = image.NewRGBA(image.Rect(0, 0, w, h))
			c.logger.Warn("viewport capture failed before first frame", slog.String("error", err.Error()))
		} else {
			c.logger.Debug("viewport capture failed, reusing last frame", slog.String("error", err.Error()))
		}
		return fallback, newCaptureError("capture viewport", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if src.Bounds().Size() == dst.Bounds().Size() {
		xdraw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, xdraw.Src)
	} else {
		c.scaler().Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	}
	c.last = dst
	return dst, nil
}

// Last returns the most recent good frame, or nil.
func (c *Capturer) Last() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Reset drops the retained frame.
func (c *Capturer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = nil
}

func (c *Capturer) scaler() xdraw.Scaler {
	switch {
	case c.profile.Antialiasing:
		return xdraw.CatmullRom
	case c.profile.TextureFilter == quality.FilterLinear:
		return xdraw.BiLinear
	default:
		return xdraw.NearestNeighbor
	}
}
