package viewport

import (
	"context"
	"errors"
	"image"
	"math"
	"time"

	"github.com/gogpu/gg"
)

// SyntheticOptions configure the synthetic page renderer.
type SyntheticOptions struct {
	Viewport Size
	Clock    func() time.Time
	// ScrollSpeed is in pixels per second; zero keeps the page still.
	ScrollSpeed float64
}

// SyntheticProvider draws a text-like page with gg. It stands in for a real
// tab in tests and when no browser is available.
type SyntheticProvider struct {
	opts  SyntheticOptions
	start time.Time
}

// NewSyntheticProvider returns a synthetic page provider.
func NewSyntheticProvider(opts SyntheticOptions) (*SyntheticProvider, error) {
	if err := opts.Viewport.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &SyntheticProvider{opts: opts, start: opts.Clock()}, nil
}

// Grab renders the page at the current scroll offset.
func (p *SyntheticProvider) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := p.opts.Viewport.Width, p.opts.Viewport.Height
	if w <= 0 || h <= 0 {
		return nil, errors.New("viewport size must be positive")
	}
	scroll := math.Mod(p.opts.Clock().Sub(p.start).Seconds()*p.opts.ScrollSpeed, 48)

	dc := gg.NewContext(w, h)
	defer dc.Close()
	dc.ClearWithColor(gg.RGB(0.98, 0.98, 0.97))

	fw, fh := float64(w), float64(h)
	dc.SetRGB(0.16, 0.3, 0.55)
	dc.DrawRectangle(0, 0, fw, math.Min(56, fh/8))
	if err := dc.Fill(); err != nil {
		return nil, err
	}

	margin := fw * 0.08
	lineHeight := 24.0
	for i, y := 0, 80.0-scroll; y < fh; i, y = i+1, y+lineHeight {
		width := (fw - 2*margin) * (0.55 + 0.4*math.Abs(math.Sin(float64(i)*1.7)))
		if i%7 == 6 {
			continue
		}
		dc.SetRGB(0.15, 0.15, 0.18)
		dc.DrawRoundedRectangle(margin, y, width, 9, 3)
		if err := dc.Fill(); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}
