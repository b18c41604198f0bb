package gaze

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gg"
)

// Colour keys painted by SyntheticCamera and recognised by ColorKeyDetector.
var (
	FaceKey      = color.RGBA{R: 224, G: 172, B: 140, A: 255}
	LeftIrisKey  = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	RightIrisKey = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// GazePath maps elapsed time to a normalised iris offset in [-1,1].
type GazePath func(elapsed time.Duration) (float64, float64)

// LissajousPath sweeps the iris slowly across its eye socket.
func LissajousPath(elapsed time.Duration) (float64, float64) {
	s := elapsed.Seconds()
	return math.Sin(s * 0.7), math.Sin(s*0.5+math.Pi/4) * 0.6
}

// SyntheticOptions tune the drawn face.
type SyntheticOptions struct {
	CameraOptions
	Path GazePath
	// FaceWidthRatio is the face width as a fraction of the frame width.
	FaceWidthRatio float64
	// LeftIrisScale and RightIrisScale scale each iris radius.
	LeftIrisScale  float64
	RightIrisScale float64
}

// SyntheticCamera renders a stylised face with colour-keyed irises. It stands
// in for a webcam when none is available.
type SyntheticCamera struct {
	opts  SyntheticOptions
	start time.Time

	mu     sync.Mutex
	closed bool
}

// NewSyntheticCamera returns a camera that draws frames with gg.
func NewSyntheticCamera(opts SyntheticOptions) *SyntheticCamera {
	opts.CameraOptions = opts.CameraOptions.withDefaults()
	if opts.Path == nil {
		opts.Path = LissajousPath
	}
	if opts.FaceWidthRatio <= 0 || opts.FaceWidthRatio > 1 {
		opts.FaceWidthRatio = 0.35
	}
	if opts.LeftIrisScale <= 0 {
		opts.LeftIrisScale = 1
	}
	if opts.RightIrisScale <= 0 {
		opts.RightIrisScale = 1.1
	}
	return &SyntheticCamera{opts: opts, start: opts.Clock()}
}

// Next draws the frame for the current clock reading.
func (c *SyntheticCamera) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Frame{}, newTrackingError("camera closed", nil)
	}

	now := c.opts.Clock()
	dx, dy := c.opts.Path(now.Sub(c.start))
	img, err := DrawFace(FaceLayout{
		Width:          c.opts.Width,
		Height:         c.opts.Height,
		FaceWidthRatio: c.opts.FaceWidthRatio,
		OffsetX:        dx,
		OffsetY:        dy,
		LeftIrisScale:  c.opts.LeftIrisScale,
		RightIrisScale: c.opts.RightIrisScale,
	})
	if err != nil {
		return Frame{}, newTrackingError("draw synthetic frame", err)
	}
	return Frame{Image: img, Width: c.opts.Width, Height: c.opts.Height, CapturedAt: now}, nil
}

// Close stops the camera.
func (c *SyntheticCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FaceLayout describes one synthetic frame.
type FaceLayout struct {
	Width, Height  int
	FaceWidthRatio float64
	OffsetX        float64
	OffsetY        float64
	LeftIrisScale  float64
	RightIrisScale float64
}

// DrawFace paints a face whose skin and irises use the detector colour keys.
func DrawFace(l FaceLayout) (image.Image, error) {
	if l.Width <= 0 || l.Height <= 0 {
		return nil, errors.New("frame size must be positive")
	}
	dc := gg.NewContext(l.Width, l.Height)
	defer dc.Close()
	dc.ClearWithColor(gg.RGB(0.18, 0.2, 0.24))

	w, h := float64(l.Width), float64(l.Height)
	faceRX := w * l.FaceWidthRatio / 2
	faceRY := faceRX * 1.3
	cx, cy := w/2, h/2

	dc.SetColor(FaceKey)
	dc.DrawEllipse(cx, cy, faceRX, faceRY)
	if err := dc.Fill(); err != nil {
		return nil, err
	}

	eyeRX := faceRX * 0.28
	eyeRY := eyeRX * 0.55
	eyeY := cy - faceRY*0.2
	irisR := eyeRY * 0.8
	travelX := eyeRX - irisR
	travelY := eyeRY - irisR*0.6
	eyes := []struct {
		x     float64
		key   color.RGBA
		scale float64
	}{
		// The user's left eye appears on the right of an unmirrored camera image.
		{x: cx + faceRX*0.42, key: LeftIrisKey, scale: l.LeftIrisScale},
		{x: cx - faceRX*0.42, key: RightIrisKey, scale: l.RightIrisScale},
	}
	for _, eye := range eyes {
		dc.SetRGB(1, 1, 1)
		dc.DrawEllipse(eye.x, eyeY, eyeRX, eyeRY)
		if err := dc.Fill(); err != nil {
			return nil, err
		}
		scale := eye.scale
		if scale <= 0 {
			scale = 1
		}
		dc.SetColor(eye.key)
		dc.DrawCircle(eye.x+clampUnit(l.OffsetX)*travelX, eyeY+clampUnit(l.OffsetY)*travelY, irisR*scale)
		if err := dc.Fill(); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
