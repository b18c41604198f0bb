//go:build !gocv

package gaze

// Backend names the camera implementation compiled into this binary.
const Backend = "synthetic"

// DefaultCamera returns the synthetic camera and its colour-key detector.
// Build with -tags gocv for a real webcam.
func DefaultCamera(opts CameraOptions) (FrameSource, Detector, error) {
	return NewSyntheticCamera(SyntheticOptions{CameraOptions: opts}), NewColorKeyDetector(), nil
}
