package correction

import "math"

// Acuity zone half-angles and the reference screen geometry used to turn
// them into normalised distances.
const (
	FovealHalfAngleDegrees     = 1.0
	ParafovealHalfAngleDegrees = 2.5
	ReferenceScreenWidthCm     = 50.0
	ChromaticOffsetFactor      = 0.01
)

// AngleToUV converts a visual half-angle into a normalised viewport distance
// at the given viewing distance.
func AngleToUV(distanceCm, angleDegrees float64) float64 {
	return distanceCm * math.Tan(angleDegrees*math.Pi/180) / ReferenceScreenWidthCm
}

// Zones are the foveal and parafoveal radii in normalised viewport units.
type Zones struct {
	Foveal     float64
	Parafoveal float64
}

// ZonesAt computes the acuity zones for a viewing distance.
func ZonesAt(distanceCm float64) Zones {
	return Zones{
		Foveal:     AngleToUV(distanceCm, FovealHalfAngleDegrees),
		Parafoveal: AngleToUV(distanceCm, ParafovealHalfAngleDegrees),
	}
}

// Strength is 1 inside the foveal radius, 0 beyond the parafoveal radius and
// falls off smoothly in between.
func (z Zones) Strength(d float64) float64 {
	return 1 - smoothstep(z.Foveal, z.Parafoveal, d)
}

func smoothstep(edge0, edge1, x float64) float64 {
	if edge1 <= edge0 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := (x - edge0) / (edge1 - edge0)
	t = math.Max(0, math.Min(1, t))
	return t * t * (3 - 2*t)
}
