package correction

import (
	"image"
	"math"

	"github.com/offlinefirst/visionfix/pkg/quality"
)

type rgba struct {
	r, g, b, a float64
}

// sampler reads an RGBA image at normalised coordinates.
type sampler struct {
	img    *image.RGBA
	w, h   int
	linear bool
}

func newSampler(img *image.RGBA, filter quality.FilterMode) sampler {
	b := img.Bounds()
	return sampler{img: img, w: b.Dx(), h: b.Dy(), linear: filter == quality.FilterLinear}
}

func (s sampler) at(u, v float64) rgba {
	if s.linear {
		return s.bilinear(u*float64(s.w)-0.5, v*float64(s.h)-0.5)
	}
	x := int(math.Floor(u * float64(s.w)))
	y := int(math.Floor(v * float64(s.h)))
	return s.texel(x, y)
}

func (s sampler) texel(x, y int) rgba {
	x = max(0, min(s.w-1, x))
	y = max(0, min(s.h-1, y))
	b := s.img.Bounds()
	i := s.img.PixOffset(b.Min.X+x, b.Min.Y+y)
	p := s.img.Pix[i : i+4 : i+4]
	return rgba{float64(p[0]), float64(p[1]), float64(p[2]), float64(p[3])}
}

func (s sampler) bilinear(x, y float64) rgba {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	c00 := s.texel(ix, iy)
	if fx == 0 && fy == 0 {
		return c00
	}
	c10 := s.texel(ix+1, iy)
	c01 := s.texel(ix, iy+1)
	c11 := s.texel(ix+1, iy+1)
	top := lerp(c00, c10, fx)
	bottom := lerp(c01, c11, fx)
	return lerp(top, bottom, fy)
}

func lerp(a, b rgba, t float64) rgba {
	return rgba{
		r: a.r + (b.r-a.r)*t,
		g: a.g + (b.g-a.g)*t,
		b: a.b + (b.b-a.b)*t,
		a: a.a + (b.a-a.a)*t,
	}
}

func toByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
