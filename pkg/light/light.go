// Package light estimates ambient light from camera frames.
package light

import (
	"image"
	"image/color"
)

// Level is a coarse lighting classification.
type Level string

const (
	LevelOptimal  Level = "optimal"
	LevelAdequate Level = "adequate"
	LevelLow      Level = "low"
	LevelTooDark  Level = "too_dark"
)

// Lux thresholds for Classify.
const (
	OptimalLux  = 300.0
	AdequateLux = 150.0
	LowLux      = 50.0
)

// luxPerLuma converts mean 8-bit luma to an approximate lux figure.
const luxPerLuma = 2.0

// Estimate returns an approximate lux value from the frame's mean luma.
// Large frames are sampled on a grid.
func Estimate(img image.Image) float64 {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	step := max(1, min(b.Dx(), b.Dy())/64)
	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			sum += 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
			n++
		}
	}
	return sum / float64(n) * luxPerLuma
}

// Classify buckets a lux value.
func Classify(lux float64) Level {
	switch {
	case lux >= OptimalLux:
		return LevelOptimal
	case lux >= AdequateLux:
		return LevelAdequate
	case lux >= LowLux:
		return LevelLow
	default:
		return LevelTooDark
	}
}

// Advice is a short hint for the user at the given level.
func Advice(level Level) string {
	switch level {
	case LevelOptimal:
		return "lighting is good for eye tracking"
	case LevelAdequate:
		return "lighting is adequate; more light improves tracking"
	case LevelLow:
		return "lighting is low; tracking may be unreliable"
	default:
		return "too dark for eye tracking; turn on a light"
	}
}
