package gaze

import (
	"context"
	"image"
	"time"
)

// Frame is a single camera image.
type Frame struct {
	Image      image.Image
	Width      int
	Height     int
	CapturedAt time.Time
}

// FrameSource yields camera frames. Next blocks until a frame is available
// or ctx is done.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Face is one detected face with its iris landmarks.
type Face struct {
	Bounds    image.Rectangle
	LeftIris  Iris
	RightIris Iris
}

// Detector locates faces and iris landmarks in a frame, returning at most
// maxFaces results.
type Detector interface {
	Detect(ctx context.Context, frame Frame, maxFaces int) ([]Face, error)
}

// CameraOptions configure the default camera.
type CameraOptions struct {
	DeviceID int
	Width    int
	Height   int
	Clock    func() time.Time
	// Haar cascade files, used by the OpenCV build only.
	FaceCascadePath string
	EyeCascadePath  string
}

func (o CameraOptions) withDefaults() CameraOptions {
	if o.Width <= 0 {
		o.Width = 640
	}
	if o.Height <= 0 {
		o.Height = 480
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
