package quality

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Tier names a bundle of rendering and tracking trade-offs.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// DefaultTier is used when no preference is configured.
const DefaultTier = TierMedium

// FilterMode selects how the captured texture is sampled.
type FilterMode string

const (
	FilterLinear  FilterMode = "linear"
	FilterNearest FilterMode = "nearest"
)

// ErrUnknownTier is returned for tier names outside the lookup table.
var ErrUnknownTier = errors.New("unknown quality tier")

// Profile holds the concrete runtime parameters of a tier.
type Profile struct {
	Tier                Tier       `json:"tier"`
	ResolutionScale     float64    `json:"resolution_scale"`
	Antialiasing        bool       `json:"antialiasing"`
	ChromaticAberration bool       `json:"chromatic_aberration"`
	UpdateRateHz        int        `json:"update_rate_hz"`
	TextureFilter       FilterMode `json:"texture_filter"`
}

var table = map[Tier]Profile{
	TierHigh: {
		Tier:                TierHigh,
		ResolutionScale:     1.0,
		Antialiasing:        true,
		ChromaticAberration: true,
		UpdateRateHz:        60,
		TextureFilter:       FilterLinear,
	},
	TierMedium: {
		Tier:                TierMedium,
		ResolutionScale:     0.75,
		Antialiasing:        false,
		ChromaticAberration: true,
		UpdateRateHz:        30,
		TextureFilter:       FilterNearest,
	},
	TierLow: {
		Tier:                TierLow,
		ResolutionScale:     0.5,
		Antialiasing:        false,
		ChromaticAberration: false,
		UpdateRateHz:        15,
		TextureFilter:       FilterNearest,
	},
}

// Tiers lists the known tiers from highest to lowest fidelity.
func Tiers() []Tier {
	return []Tier{TierHigh, TierMedium, TierLow}
}

// ParseTier normalises a tier name.
func ParseTier(value string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(value)))
	if tier == "" {
		return DefaultTier, nil
	}
	if _, ok := table[tier]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTier, value)
	}
	return tier, nil
}

// For maps a tier to its profile. It never mutates the table.
func For(tier Tier) (Profile, error) {
	p, ok := table[tier]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q", ErrUnknownTier, string(tier))
	}
	return p, nil
}

// MustFor is For for tiers known to be valid.
func MustFor(tier Tier) Profile {
	p, err := For(tier)
	if err != nil {
		panic(err)
	}
	return p
}

// FrameInterval is the minimum spacing between processed frames.
func (p Profile) FrameInterval() time.Duration {
	if p.UpdateRateHz <= 0 {
		return 0
	}
	return time.Second / time.Duration(p.UpdateRateHz)
}

// ScaledSize applies the resolution scale to a viewport size, never returning less than one pixel.
func (p Profile) ScaledSize(width, height int) (int, int) {
	w := int(math.Round(float64(width) * p.ResolutionScale))
	h := int(math.Round(float64(height) * p.ResolutionScale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
