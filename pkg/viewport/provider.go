package viewport

import (
	"context"
	"fmt"
	"image"
)

// Provider rasterises the visible page. Implementations must leave the
// correction overlay and calibration UI out of the image.
type Provider interface {
	Grab(context.Context) (image.Image, error)
}

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Validate rejects empty viewports.
func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("viewport size must be positive, got %dx%d", s.Width, s.Height)
	}
	return nil
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// DefaultExcludeSelectors name the elements drawn by the corrector itself.
var DefaultExcludeSelectors = []string{"#vision-correction-overlay", "#vision-correction-calibration"}
