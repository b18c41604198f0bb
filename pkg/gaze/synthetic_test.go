package gaze

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/visionfix/pkg/prescription"
)

func TestColorKeyDetectorFindsSyntheticFace(t *testing.T) {
	img, err := DrawFace(FaceLayout{Width: 320, Height: 240, FaceWidthRatio: 0.5, LeftIrisScale: 1.3, RightIrisScale: 1})
	require.NoError(t, err)
	frame := Frame{Image: img, Width: 320, Height: 240}

	faces, err := NewColorKeyDetector().Detect(context.Background(), frame, 1)
	require.NoError(t, err)
	require.Len(t, faces, 1)

	face := faces[0]
	assert.InDelta(t, 160, face.Bounds.Dx(), 4)
	assert.Greater(t, IrisArea(face.LeftIris), IrisArea(face.RightIris))
	assert.Greater(t, face.LeftIris[0].X, face.RightIris[0].X)
}

func TestSyntheticCameraFeedsEstimator(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cam := NewSyntheticCamera(SyntheticOptions{
		CameraOptions:  CameraOptions{Width: 320, Height: 240, Clock: func() time.Time { return clock }},
		Path:           func(time.Duration) (float64, float64) { return 0, 0 },
		LeftIrisScale:  1,
		RightIrisScale: 1.3,
	})
	est, err := NewEstimator(EstimatorOptions{Detector: NewColorKeyDetector()})
	require.NoError(t, err)

	frame, err := cam.Next(context.Background())
	require.NoError(t, err)
	sample, ok, err := est.Estimate(context.Background(), frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, prescription.EyeRight, sample.DominantEye)
	assert.Less(t, sample.X, 0.5)
	assert.Greater(t, sample.ViewingDistanceCm, 0.0)
	assert.Equal(t, clock, sample.CapturedAt)

	require.NoError(t, cam.Close())
	_, err = cam.Next(context.Background())
	assert.ErrorIs(t, err, ErrTrackingUnavailable)
}

func TestColorKeyDetectorEmptyFrame(t *testing.T) {
	img, err := DrawFace(FaceLayout{Width: 32, Height: 32, FaceWidthRatio: 0.01})
	require.NoError(t, err)
	faces, err := NewColorKeyDetector().Detect(context.Background(), Frame{Image: img, Width: 32, Height: 32}, 0)
	require.NoError(t, err)
	assert.Empty(t, faces)
}
