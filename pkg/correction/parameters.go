package correction

import (
	"fmt"
	"math"

	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/prescription"
	"github.com/offlinefirst/visionfix/pkg/quality"
)

// Parameters is the per-frame distortion input. It is derived from the
// active profile, the latest gaze sample and the quality tier, and is rebuilt
// every frame.
type Parameters struct {
	CenterX, CenterY float64
	Eye              prescription.Eye
	Prescription     prescription.EyePrescription
	Zones            Zones
	Chromatic        bool

	axis float64
}

// NewParameters selects the dominant eye's prescription and sizes the acuity
// zones for the sample's viewing distance.
func NewParameters(profile prescription.Profile, sample gaze.Sample, q quality.Profile) (*Parameters, error) {
	if q.ResolutionScale <= 0 {
		return nil, fmt.Errorf("%w: quality tier %q", ErrConfigurationInvalid, q.Tier)
	}
	rx, ok := profile.ForEye(sample.DominantEye)
	if !ok {
		return nil, fmt.Errorf("%w: no prescription for eye %q in profile %q", ErrConfigurationInvalid, sample.DominantEye, profile.Name)
	}
	if err := rx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}
	distance := sample.ViewingDistanceCm
	if distance <= 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		distance = gaze.DefaultViewingDistanceCm
	}
	s := sample.Clamped()
	return &Parameters{
		CenterX:      s.X,
		CenterY:      s.Y,
		Eye:          sample.DominantEye,
		Prescription: rx,
		Zones:        ZonesAt(distance),
		Chromatic:    q.ChromaticAberration,
		axis:         rx.AxisRadians(),
	}, nil
}

// Displacement breaks down the distortion at one normalised position.
type Displacement struct {
	Distance    float64
	Strength    float64
	Spherical   float64
	Cylindrical float64
	Total       float64
}

// Displacement evaluates the distortion field at (u, v).
func (p *Parameters) Displacement(u, v float64) Displacement {
	dx, dy := u-p.CenterX, v-p.CenterY
	d := math.Hypot(dx, dy)
	strength := p.Zones.Strength(d)
	if strength == 0 {
		return Displacement{Distance: d}
	}
	d2 := d * d
	theta := math.Atan2(dy, dx)
	sph := p.Prescription.Sphere * d2 * strength
	cyl := p.Prescription.Cylinder * math.Cos(theta-p.axis) * d2 * strength
	return Displacement{Distance: d, Strength: strength, Spherical: sph, Cylindrical: cyl, Total: sph + cyl}
}

// SamplePosition returns where the output pixel at (u, v) reads from,
// clamped to [0,1], along with the displacement that produced it.
func (p *Parameters) SamplePosition(u, v float64) (float64, float64, Displacement) {
	disp := p.Displacement(u, v)
	if disp.Total == 0 || disp.Distance == 0 {
		return u, v, disp
	}
	nx := (u - p.CenterX) / disp.Distance
	ny := (v - p.CenterY) / disp.Distance
	return clamp01(u + nx*disp.Total), clamp01(v + ny*disp.Total), disp
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
