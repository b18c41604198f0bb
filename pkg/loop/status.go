package loop

import (
	"time"

	"github.com/offlinefirst/visionfix/pkg/gaze"
	"github.com/offlinefirst/visionfix/pkg/quality"
)

// Status is a point-in-time view of the loop for diagnostics.
type Status struct {
	LoopID          string        `json:"loop_id,omitempty"`
	Running         bool          `json:"running"`
	Enabled         bool          `json:"enabled"`
	Visible         bool          `json:"visible"`
	TrackingActive  bool          `json:"tracking_active"`
	RenderReady     bool          `json:"render_ready"`
	PassThrough     bool          `json:"pass_through"`
	Tier            quality.Tier  `json:"tier,omitempty"`
	Profile         string        `json:"profile,omitempty"`
	Gaze            *gaze.Sample  `json:"gaze,omitempty"`
	LastFrameAt     time.Time     `json:"last_frame_at,omitempty"`
	FrameInterval   time.Duration `json:"frame_interval"`
	Processed       uint64        `json:"processed"`
	Skipped         uint64        `json:"skipped"`
	CaptureFailures uint64        `json:"capture_failures"`
	TrackingMisses  uint64        `json:"tracking_misses"`
	LastError       string        `json:"last_error,omitempty"`
}
