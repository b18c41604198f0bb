package correction

import (
	"context"
	"errors"
	"image"
	"math"
	"runtime"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/visionfix/pkg/quality"
)

// RendererOptions size the render target.
type RendererOptions struct {
	Width   int
	Height  int
	Quality quality.Profile
	// Workers bounds the goroutines shading row bands. Zero uses GOMAXPROCS.
	Workers int
}

// Renderer composites corrected frames into a render target it owns. It is
// sized for one quality tier and must be replaced when the tier changes.
type Renderer struct {
	mu        sync.Mutex
	target    *image.RGBA
	filter    quality.FilterMode
	antialias bool
	workers   int
}

// NewRenderer allocates the render target.
func NewRenderer(opts RendererOptions) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.New("render target size must be positive")
	}
	if opts.Quality.ResolutionScale <= 0 {
		return nil, ErrConfigurationInvalid
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Renderer{
		target:    image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
		filter:    opts.Quality.TextureFilter,
		antialias: opts.Quality.Antialiasing,
		workers:   workers,
	}, nil
}

// Target returns the render target, or nil after Release.
func (r *Renderer) Target() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Release frees the render target. Later Render calls fail with ErrReleased.
func (r *Renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = nil
}

// Released reports whether Release has been called.
func (r *Renderer) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target == nil
}

// Render copies src into the target and applies the distortion around the
// gaze point. A nil params renders the source untouched. Pixels outside the
// parafoveal zone always equal the source. The returned image is the render
// target and is overwritten by the next call.
func (r *Renderer) Render(ctx context.Context, src *image.RGBA, params *Parameters) (*image.RGBA, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target == nil {
		return nil, ErrReleased
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src == nil || src.Bounds().Empty() {
		return nil, errors.New("render source is empty")
	}

	dst := r.target
	source := src
	if src.Bounds().Size() != dst.Bounds().Size() {
		r.scaler().Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		source = image.NewRGBA(dst.Bounds())
		copy(source.Pix, dst.Pix)
	} else {
		copyRGBA(dst, src)
	}
	if params == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return dst, nil
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	x0, x1 := span(params.CenterX, params.Zones.Parafoveal, w)
	y0, y1 := span(params.CenterY, params.Zones.Parafoveal, h)
	if x0 >= x1 || y0 >= y1 {
		return dst, nil
	}

	s := newSampler(source, r.filter)
	bands := min(r.workers, y1-y0)
	rows := (y1 - y0 + bands - 1) / bands
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for start := y0; start < y1; start += rows {
		end := min(start+rows, y1)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.shadeRows(dst, s, params, x0, x1, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}

// scaler matches the resampling used by viewport.Capturer for the tier.
func (r *Renderer) scaler() xdraw.Scaler {
	switch {
	case r.antialias:
		return xdraw.CatmullRom
	case r.filter == quality.FilterLinear:
		return xdraw.BiLinear
	default:
		return xdraw.NearestNeighbor
	}
}

func (r *Renderer) shadeRows(dst *image.RGBA, s sampler, p *Parameters, x0, x1, y0, y1 int) {
	fw, fh := float64(s.w), float64(s.h)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			u := (float64(x) + 0.5) / fw
			v := (float64(y) + 0.5) / fh
			var c rgba
			var ok bool
			if r.antialias {
				c, ok = shadeSupersampled(s, p, u, v, 0.25/fw, 0.25/fh)
			} else {
				c, ok = shade(s, p, u, v)
			}
			if !ok {
				continue
			}
			i := dst.PixOffset(x, y)
			px := dst.Pix[i : i+4 : i+4]
			px[0], px[1], px[2], px[3] = toByte(c.r), toByte(c.g), toByte(c.b), toByte(c.a)
		}
	}
}

// shade returns false when the pixel is outside the correction zone and must
// keep its source value.
func shade(s sampler, p *Parameters, u, v float64) (rgba, bool) {
	su, sv, disp := p.SamplePosition(u, v)
	if disp.Strength == 0 {
		return rgba{}, false
	}
	c := s.at(su, sv)
	if p.Chromatic {
		offset := disp.Total * ChromaticOffsetFactor
		red := s.at(clamp01(su+offset), sv)
		blue := s.at(clamp01(su-offset), sv)
		c.r += (red.r - c.r) * disp.Strength
		c.b += (blue.b - c.b) * disp.Strength
	}
	return c, true
}

func shadeSupersampled(s sampler, p *Parameters, u, v, du, dv float64) (rgba, bool) {
	if p.Zones.Strength(math.Hypot(u-p.CenterX, v-p.CenterY)) == 0 {
		return rgba{}, false
	}
	var sum rgba
	for _, o := range [4][2]float64{{-1, -1}, {1, -1}, {-1, 1}, {1, 1}} {
		su, sv := u+o[0]*du, v+o[1]*dv
		c, ok := shade(s, p, su, sv)
		if !ok {
			c = s.at(su, sv)
		}
		sum.r += c.r
		sum.g += c.g
		sum.b += c.b
		sum.a += c.a
	}
	return rgba{sum.r / 4, sum.g / 4, sum.b / 4, sum.a / 4}, true
}

// span returns the pixel range that can lie within radius of center.
func span(center, radius float64, size int) (int, int) {
	lo := int(math.Floor((center-radius)*float64(size) - 0.5))
	hi := int(math.Ceil((center+radius)*float64(size) + 0.5))
	return max(0, lo), min(size, hi)
}

func copyRGBA(dst, src *image.RGBA) {
	b := src.Bounds()
	w := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := dst.PixOffset(dst.Bounds().Min.X, dst.Bounds().Min.Y+y)
		copy(dst.Pix[di:di+w], src.Pix[si:si+w])
	}
}
