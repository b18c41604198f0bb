package prescription

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Eye identifies the left or right eye.
type Eye string

const (
	// EyeLeft tags the user's left eye.
	EyeLeft Eye = "left"
	// EyeRight tags the user's right eye.
	EyeRight Eye = "right"
)

// Limits applied when validating prescriptions.
const (
	MaxSphereDiopters      = 30.0
	MaxCylinderDiopters    = 30.0
	MaxAxisDegrees         = 179
	MaxPupillaryDistanceMM = 100.0
)

// ErrInvalidPrescription marks prescription values outside the accepted ranges.
var ErrInvalidPrescription = errors.New("invalid prescription")

// ParseEye normalises an eye tag.
func ParseEye(value string) (Eye, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "left", "l", "os":
		return EyeLeft, nil
	case "right", "r", "od":
		return EyeRight, nil
	default:
		return "", fmt.Errorf("unknown eye %q", value)
	}
}

// EyePrescription is the refractive correction for a single eye.
type EyePrescription struct {
	Sphere   float64 `json:"sphere" yaml:"sphere" mapstructure:"sphere"`
	Cylinder float64 `json:"cylinder" yaml:"cylinder" mapstructure:"cylinder"`
	Axis     int     `json:"axis" yaml:"axis" mapstructure:"axis"`
}

// Validate checks the diopter and axis ranges.
func (p EyePrescription) Validate() error {
	if math.IsNaN(p.Sphere) || math.IsInf(p.Sphere, 0) || math.Abs(p.Sphere) > MaxSphereDiopters {
		return fmt.Errorf("%w: sphere %.2f outside ±%.0f D", ErrInvalidPrescription, p.Sphere, MaxSphereDiopters)
	}
	if math.IsNaN(p.Cylinder) || math.IsInf(p.Cylinder, 0) || math.Abs(p.Cylinder) > MaxCylinderDiopters {
		return fmt.Errorf("%w: cylinder %.2f outside ±%.0f D", ErrInvalidPrescription, p.Cylinder, MaxCylinderDiopters)
	}
	if p.Axis < 0 || p.Axis > MaxAxisDegrees {
		return fmt.Errorf("%w: axis %d outside 0-%d", ErrInvalidPrescription, p.Axis, MaxAxisDegrees)
	}
	return nil
}

// AxisRadians returns the cylinder axis in radians.
func (p EyePrescription) AxisRadians() float64 {
	return float64(p.Axis) * math.Pi / 180
}

// String renders the prescription in the usual sphere / cylinder x axis notation.
func (p EyePrescription) String() string {
	if p.Cylinder == 0 {
		return fmt.Sprintf("%+.2f", p.Sphere)
	}
	return fmt.Sprintf("%+.2f / %+.2f x %d", p.Sphere, p.Cylinder, p.Axis)
}

// Profile bundles both eyes' prescriptions under a unique name.
type Profile struct {
	Name                string          `json:"name" yaml:"name" mapstructure:"name"`
	LeftEye             EyePrescription `json:"left_eye" yaml:"left_eye" mapstructure:"left_eye"`
	RightEye            EyePrescription `json:"right_eye" yaml:"right_eye" mapstructure:"right_eye"`
	PupillaryDistanceMM float64         `json:"pupillary_distance_mm" yaml:"pupillary_distance_mm" mapstructure:"pupillary_distance_mm"`
}

// ForEye returns the prescription of the requested eye.
func (p Profile) ForEye(eye Eye) (EyePrescription, bool) {
	switch eye {
	case EyeLeft:
		return p.LeftEye, true
	case EyeRight:
		return p.RightEye, true
	default:
		return EyePrescription{}, false
	}
}

// Validate checks the profile name, both prescriptions and the pupillary distance.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name must not be empty", ErrInvalidPrescription)
	}
	if err := p.LeftEye.Validate(); err != nil {
		return fmt.Errorf("profile %q left eye: %w", p.Name, err)
	}
	if err := p.RightEye.Validate(); err != nil {
		return fmt.Errorf("profile %q right eye: %w", p.Name, err)
	}
	if p.PupillaryDistanceMM <= 0 || p.PupillaryDistanceMM > MaxPupillaryDistanceMM {
		return fmt.Errorf("%w: profile %q pupillary distance %.1f mm", ErrInvalidPrescription, p.Name, p.PupillaryDistanceMM)
	}
	return nil
}
