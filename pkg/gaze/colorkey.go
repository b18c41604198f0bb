package gaze

import (
	"context"
	"image"
	"image/color"
)

// ColorKeyDetector finds faces and irises painted in known key colours. It
// pairs with SyntheticCamera and is useful for tests and demos.
type ColorKeyDetector struct {
	Face      color.RGBA
	LeftIris  color.RGBA
	RightIris color.RGBA
	// Tolerance is the maximum per-channel difference still counted as a match.
	Tolerance uint8
}

// NewColorKeyDetector returns a detector for the SyntheticCamera palette.
func NewColorKeyDetector() *ColorKeyDetector {
	return &ColorKeyDetector{Face: FaceKey, LeftIris: LeftIrisKey, RightIris: RightIrisKey, Tolerance: 8}
}

type bbox struct {
	minX, minY, maxX, maxY int
	hits                   int
}

func (b *bbox) add(x, y int) {
	if b.hits == 0 {
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
	} else {
		b.minX = min(b.minX, x)
		b.maxX = max(b.maxX, x)
		b.minY = min(b.minY, y)
		b.maxY = max(b.maxY, y)
	}
	b.hits++
}

func (b bbox) iris() Iris {
	cx := float64(b.minX+b.maxX+1) / 2
	cy := float64(b.minY+b.maxY+1) / 2
	return Iris{
		{X: cx, Y: cy},
		{X: float64(b.minX), Y: cy},
		{X: cx, Y: float64(b.minY)},
		{X: float64(b.maxX + 1), Y: cy},
		{X: cx, Y: float64(b.maxY + 1)},
	}
}

// Detect scans the frame for key-coloured regions. A face is reported only
// when skin and both irises are present.
func (d *ColorKeyDetector) Detect(ctx context.Context, frame Frame, maxFaces int) ([]Face, error) {
	if maxFaces <= 0 || frame.Image == nil {
		return nil, nil
	}
	bounds := frame.Image.Bounds()
	var face, left, right bbox
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := rgbaAt(frame.Image, x, y)
			switch {
			case d.matches(c, d.LeftIris):
				left.add(x, y)
				face.add(x, y)
			case d.matches(c, d.RightIris):
				right.add(x, y)
				face.add(x, y)
			case d.matches(c, d.Face):
				face.add(x, y)
			}
		}
	}
	if face.hits == 0 || left.hits == 0 || right.hits == 0 {
		return nil, nil
	}
	return []Face{{
		Bounds:    image.Rect(face.minX, face.minY, face.maxX+1, face.maxY+1),
		LeftIris:  left.iris(),
		RightIris: right.iris(),
	}}, nil
}

func (d *ColorKeyDetector) matches(c, key color.RGBA) bool {
	return absDiff(c.R, key.R) <= d.Tolerance &&
		absDiff(c.G, key.G) <= d.Tolerance &&
		absDiff(c.B, key.B) <= d.Tolerance
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		i := rgba.PixOffset(x, y)
		return color.RGBA{R: rgba.Pix[i], G: rgba.Pix[i+1], B: rgba.Pix[i+2], A: rgba.Pix[i+3]}
	}
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
