package gaze

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/offlinefirst/visionfix/pkg/prescription"
)

// Pinhole model constants used when no distance override is set.
const (
	FaceWidthCm              = 15.0
	CameraFieldOfViewDegrees = 60.0
	DefaultViewingDistanceCm = 50.0
)

// IrisArea is the bounding-box area spanned by the left/right and top/bottom
// iris extremes.
func IrisArea(iris Iris) float64 {
	return math.Abs(iris[3].X-iris[1].X) * math.Abs(iris[4].Y-iris[2].Y)
}

// DominantEye picks the eye with the larger apparent iris. Ties go to the
// right eye.
func DominantEye(leftArea, rightArea float64) prescription.Eye {
	if leftArea > rightArea {
		return prescription.EyeLeft
	}
	return prescription.EyeRight
}

// GazePoint is the midpoint of the iris's horizontal extremes, normalised by
// the frame size.
func GazePoint(iris Iris, frameWidth, frameHeight int) (float64, float64) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return 0.5, 0.5
	}
	mx := (iris[1].X + iris[3].X) / 2
	my := (iris[1].Y + iris[3].Y) / 2
	return mx / float64(frameWidth), my / float64(frameHeight)
}

// EstimateDistance applies the pinhole relation
// distance = faceWidthCm * frameWidth / (2 * faceWidthPx * tan(fov/2)).
func EstimateDistance(faceWidthPx float64, frameWidthPx int) float64 {
	if faceWidthPx <= 0 || frameWidthPx <= 0 {
		return DefaultViewingDistanceCm
	}
	half := CameraFieldOfViewDegrees / 2 * math.Pi / 180
	return FaceWidthCm * float64(frameWidthPx) / (2 * faceWidthPx * math.Tan(half))
}

// EstimatorOptions configure an Estimator.
type EstimatorOptions struct {
	Detector           Detector
	DistanceOverrideCm float64
	Logger             *slog.Logger
}

// Estimator turns camera frames into gaze samples.
type Estimator struct {
	detector Detector
	override atomic.Uint64
	logger   *slog.Logger
}

// NewEstimator validates options and returns an estimator.
func NewEstimator(opts EstimatorOptions) (*Estimator, error) {
	if opts.Detector == nil {
		return nil, errors.New("detector is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Estimator{detector: opts.Detector, logger: logger}
	e.SetDistanceOverride(opts.DistanceOverrideCm)
	return e, nil
}

// SetDistanceOverride fixes the reported viewing distance. Values <= 0 clear
// the override.
func (e *Estimator) SetDistanceOverride(cm float64) {
	if cm <= 0 || math.IsNaN(cm) || math.IsInf(cm, 0) {
		cm = 0
	}
	e.override.Store(math.Float64bits(cm))
}

// DistanceOverride returns the manual distance, or 0 when none is set.
func (e *Estimator) DistanceOverride() float64 {
	return math.Float64frombits(e.override.Load())
}

// Estimate runs the detector on one frame. The boolean is false when no face
// was found; callers keep their previous sample in that case.
func (e *Estimator) Estimate(ctx context.Context, frame Frame) (Sample, bool, error) {
	if frame.Image == nil || frame.Width <= 0 || frame.Height <= 0 {
		return Sample{}, false, newTrackingError("empty camera frame", nil)
	}
	faces, err := e.detector.Detect(ctx, frame, 1)
	if err != nil {
		if ctx.Err() != nil {
			return Sample{}, false, ctx.Err()
		}
		return Sample{}, false, newTrackingError("landmark detection failed", err)
	}
	if len(faces) == 0 {
		e.logger.Debug("no face detected")
		return Sample{}, false, nil
	}
	face := faces[0]

	eye := DominantEye(IrisArea(face.LeftIris), IrisArea(face.RightIris))
	iris := face.RightIris
	if eye == prescription.EyeLeft {
		iris = face.LeftIris
	}
	x, y := GazePoint(iris, frame.Width, frame.Height)

	distance := e.DistanceOverride()
	if distance <= 0 {
		distance = EstimateDistance(float64(face.Bounds.Dx()), frame.Width)
	}

	sample := Sample{
		X:                 x,
		Y:                 y,
		DominantEye:       eye,
		ViewingDistanceCm: distance,
		CapturedAt:        frame.CapturedAt,
	}
	return sample.Clamped(), true, nil
}
