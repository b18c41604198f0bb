package gaze

import (
	"time"

	"github.com/offlinefirst/visionfix/pkg/prescription"
)

// Sample is one estimate of where the user is looking.
type Sample struct {
	X                 float64          `json:"x"`
	Y                 float64          `json:"y"`
	DominantEye       prescription.Eye `json:"dominant_eye"`
	ViewingDistanceCm float64          `json:"viewing_distance_cm"`
	CapturedAt        time.Time        `json:"captured_at"`
}

// Clamped returns the sample with X and Y limited to [0,1].
func (s Sample) Clamped() Sample {
	s.X = clamp01(s.X)
	s.Y = clamp01(s.Y)
	return s
}

// Point is a landmark position in frame pixels.
type Point struct {
	X, Y float64
}

// Iris holds five landmarks: the centre followed by the left, top, right and
// bottom extremes of the iris outline.
type Iris [5]Point

func clamp01(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
