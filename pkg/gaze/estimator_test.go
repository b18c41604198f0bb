package gaze

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/visionfix/pkg/prescription"
)

func squareIris(cx, cy, half float64) Iris {
	return Iris{
		{X: cx, Y: cy},
		{X: cx - half, Y: cy},
		{X: cx, Y: cy - half},
		{X: cx + half, Y: cy},
		{X: cx, Y: cy + half},
	}
}

type fakeDetector struct {
	faces []Face
	err   error
}

func (f fakeDetector) Detect(context.Context, Frame, int) ([]Face, error) {
	return f.faces, f.err
}

func blankFrame(w, h int) Frame {
	return Frame{Image: image.NewRGBA(image.Rect(0, 0, w, h)), Width: w, Height: h, CapturedAt: time.Unix(10, 0)}
}

func TestDominantEye(t *testing.T) {
	assert.Equal(t, prescription.EyeLeft, DominantEye(120, 100))
	assert.Equal(t, prescription.EyeRight, DominantEye(100, 120))
	assert.Equal(t, prescription.EyeRight, DominantEye(100, 100))
}

func TestIrisArea(t *testing.T) {
	assert.InDelta(t, 100.0, IrisArea(squareIris(50, 50, 5)), 1e-9)
}

func TestGazePointUsesOpposingExtremes(t *testing.T) {
	x, y := GazePoint(squareIris(320, 120, 6), 640, 480)
	assert.InDelta(t, 0.5, x, 1e-9)
	assert.InDelta(t, 0.25, y, 1e-9)
}

func TestEstimateDistancePinhole(t *testing.T) {
	want := 15.0 * 640 / (2 * 160 * math.Tan(math.Pi/6))
	assert.InDelta(t, want, EstimateDistance(160, 640), 1e-9)
	assert.Equal(t, DefaultViewingDistanceCm, EstimateDistance(0, 640))
}

func TestSampleClamped(t *testing.T) {
	s := Sample{X: -0.3, Y: 1.7}.Clamped()
	assert.Equal(t, 0.0, s.X)
	assert.Equal(t, 1.0, s.Y)
	s = Sample{X: math.NaN(), Y: 0.4}.Clamped()
	assert.Equal(t, 0.0, s.X)
	assert.Equal(t, 0.4, s.Y)
}

func TestEstimatorPicksDominantEye(t *testing.T) {
	face := Face{
		Bounds:    image.Rect(200, 100, 360, 300),
		LeftIris:  squareIris(320, 240, 6),
		RightIris: squareIris(160, 120, 5),
	}
	est, err := NewEstimator(EstimatorOptions{Detector: fakeDetector{faces: []Face{face}}})
	require.NoError(t, err)

	sample, ok, err := est.Estimate(context.Background(), blankFrame(640, 480))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prescription.EyeLeft, sample.DominantEye)
	assert.InDelta(t, 0.5, sample.X, 1e-9)
	assert.InDelta(t, 0.5, sample.Y, 1e-9)
	assert.InDelta(t, EstimateDistance(160, 640), sample.ViewingDistanceCm, 1e-9)
	assert.Equal(t, time.Unix(10, 0), sample.CapturedAt)
}

func TestEstimatorDistanceOverrideWins(t *testing.T) {
	face := Face{Bounds: image.Rect(0, 0, 100, 100), LeftIris: squareIris(10, 10, 2), RightIris: squareIris(20, 10, 2)}
	est, err := NewEstimator(EstimatorOptions{Detector: fakeDetector{faces: []Face{face}}, DistanceOverrideCm: 70})
	require.NoError(t, err)

	sample, ok, err := est.Estimate(context.Background(), blankFrame(640, 480))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 70.0, sample.ViewingDistanceCm)

	est.SetDistanceOverride(0)
	assert.Equal(t, 0.0, est.DistanceOverride())
	sample, _, _ = est.Estimate(context.Background(), blankFrame(640, 480))
	assert.InDelta(t, EstimateDistance(100, 640), sample.ViewingDistanceCm, 1e-9)
}

func TestEstimatorNoFace(t *testing.T) {
	est, err := NewEstimator(EstimatorOptions{Detector: fakeDetector{}})
	require.NoError(t, err)
	_, ok, err := est.Estimate(context.Background(), blankFrame(64, 48))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimatorDetectorFailure(t *testing.T) {
	est, err := NewEstimator(EstimatorOptions{Detector: fakeDetector{err: errors.New("model crashed")}})
	require.NoError(t, err)
	_, ok, err := est.Estimate(context.Background(), blankFrame(64, 48))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTrackingUnavailable)
	assert.Contains(t, err.Error(), "model crashed")

	_, _, err = est.Estimate(context.Background(), Frame{})
	assert.ErrorIs(t, err, ErrTrackingUnavailable)
}

func TestNewEstimatorRequiresDetector(t *testing.T) {
	_, err := NewEstimator(EstimatorOptions{})
	assert.Error(t, err)
}
