package loop

import (
	"fmt"

	"github.com/offlinefirst/visionfix/pkg/correction"
	"github.com/offlinefirst/visionfix/pkg/prescription"
	"github.com/offlinefirst/visionfix/pkg/quality"
	"github.com/offlinefirst/visionfix/pkg/viewport"
)

// Settings is an immutable snapshot of what the loop should do. A new
// snapshot is delivered through Scheduler.Apply.
type Settings struct {
	Enabled            bool
	Tier               quality.Tier
	Profile            prescription.Profile
	Viewport           viewport.Size
	DistanceOverrideCm float64
	DegradeGracefully  bool
}

// Validate reports settings the renderer cannot use. Errors match
// correction.ErrConfigurationInvalid.
func (s Settings) Validate() error {
	if _, err := quality.For(s.Tier); err != nil {
		return fmt.Errorf("%w: %v", correction.ErrConfigurationInvalid, err)
	}
	if err := s.Viewport.Validate(); err != nil {
		return fmt.Errorf("%w: %v", correction.ErrConfigurationInvalid, err)
	}
	if err := s.Profile.Validate(); err != nil {
		return fmt.Errorf("%w: %v", correction.ErrConfigurationInvalid, err)
	}
	return nil
}

// needsRebuild reports whether moving from s to next must recreate the
// render target and capture buffers.
func (s Settings) needsRebuild(next Settings) bool {
	return s.Tier != next.Tier || s.Viewport != next.Viewport || s.Enabled != next.Enabled
}
