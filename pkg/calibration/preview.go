package calibration

import (
	"errors"
	"image"

	"github.com/gogpu/gg"
)

// Preview draws the calibration screen with the given target highlighted.
func Preview(width, height int, targets []Target, current int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("preview size must be positive")
	}
	dc := gg.NewContext(width, height)
	defer dc.Close()
	dc.ClearWithColor(gg.RGBA2(0, 0, 0, 0.8))

	w, h := float64(width), float64(height)
	r := max(4, min(w, h)/40)
	for i, t := range targets {
		if i == current {
			dc.SetRGB(1, 0.3, 0.2)
			dc.DrawCircle(t.X*w, t.Y*h, r*1.5)
		} else {
			dc.SetRGBA(1, 1, 1, 0.35)
			dc.DrawCircle(t.X*w, t.Y*h, r)
		}
		if err := dc.Fill(); err != nil {
			return nil, err
		}
	}
	return dc.Image(), nil
}
