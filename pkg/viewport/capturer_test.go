package viewport

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/visionfix/pkg/quality"
)

type scriptedProvider struct {
	frames []image.Image
	errs   []error
	calls  int
}

func (p *scriptedProvider) Grab(context.Context) (image.Image, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(p.frames) {
		return p.frames[i], nil
	}
	return nil, nil
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestCapturerScalesToQuality(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	provider := &scriptedProvider{frames: []image.Image{solid(1280, 720, red)}}
	c, err := NewCapturer(CapturerOptions{Provider: provider, Viewport: Size{1280, 720}, Quality: quality.MustFor(quality.TierLow)})
	require.NoError(t, err)

	frame, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 360), frame.Bounds())
	assert.Equal(t, red, frame.RGBAAt(320, 180))
	assert.Same(t, frame, c.Last())
}

func TestCapturerReusesLastGoodFrame(t *testing.T) {
	blue := color.RGBA{B: 255, A: 255}
	provider := &scriptedProvider{
		frames: []image.Image{solid(100, 100, blue)},
		errs:   []error{nil, errors.New("subtree unreadable")},
	}
	c, err := NewCapturer(CapturerOptions{Provider: provider, Viewport: Size{100, 100}, Quality: quality.MustFor(quality.TierHigh)})
	require.NoError(t, err)

	first, err := c.Capture(context.Background())
	require.NoError(t, err)
	second, err := c.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureFailed)
	assert.Same(t, first, second)
}

func TestCapturerBlankBeforeFirstFrame(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("boom")}}
	c, err := NewCapturer(CapturerOptions{Provider: provider, Viewport: Size{200, 100}, Quality: quality.MustFor(quality.TierMedium)})
	require.NoError(t, err)

	frame, err := c.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureFailed)
	require.NotNil(t, frame)
	assert.Equal(t, image.Rect(0, 0, 150, 75), frame.Bounds())
	assert.Nil(t, c.Last())
}

func TestCapturerRejectsEmptyImage(t *testing.T) {
	c, err := NewCapturer(CapturerOptions{Provider: &scriptedProvider{}, Viewport: Size{10, 10}, Quality: quality.MustFor(quality.TierHigh)})
	require.NoError(t, err)
	_, err = c.Capture(context.Background())
	assert.ErrorIs(t, err, ErrCaptureFailed)
}

func TestCapturerReset(t *testing.T) {
	provider := &scriptedProvider{frames: []image.Image{solid(10, 10, color.RGBA{A: 255})}}
	c, err := NewCapturer(CapturerOptions{Provider: provider, Viewport: Size{10, 10}, Quality: quality.MustFor(quality.TierHigh)})
	require.NoError(t, err)
	_, err = c.Capture(context.Background())
	require.NoError(t, err)
	c.Reset()
	assert.Nil(t, c.Last())
}

func TestNewCapturerValidation(t *testing.T) {
	_, err := NewCapturer(CapturerOptions{Viewport: Size{10, 10}, Quality: quality.MustFor(quality.TierHigh)})
	assert.Error(t, err)
	_, err = NewCapturer(CapturerOptions{Provider: &scriptedProvider{}, Quality: quality.MustFor(quality.TierHigh)})
	assert.Error(t, err)
	_, err = NewCapturer(CapturerOptions{Provider: &scriptedProvider{}, Viewport: Size{10, 10}})
	assert.Error(t, err)
}

func TestSyntheticProviderDrawsViewport(t *testing.T) {
	clock := time.Unix(0, 0)
	p, err := NewSyntheticProvider(SyntheticOptions{Viewport: Size{320, 200}, Clock: func() time.Time { return clock }})
	require.NoError(t, err)
	img, err := p.Grab(context.Background())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 200), img.Bounds())
}

func TestOverlayScriptsEmbedSelectors(t *testing.T) {
	hide, restore, err := overlayScripts(DefaultExcludeSelectors)
	require.NoError(t, err)
	for _, sel := range DefaultExcludeSelectors {
		assert.True(t, strings.Contains(hide, sel))
		assert.True(t, strings.Contains(restore, sel))
	}
	assert.Contains(t, hide, `"hidden"`)
}

func TestNewTabProviderValidation(t *testing.T) {
	_, err := NewTabProvider(context.Background(), TabOptions{Viewport: Size{10, 10}})
	assert.Error(t, err)
	_, err = NewTabProvider(context.Background(), TabOptions{URL: "about:blank"})
	assert.Error(t, err)
}

type cancelledProvider struct{}

func (cancelledProvider) Grab(ctx context.Context) (image.Image, error) {
	<-ctx.Done()
	return nil, errors.New("tab closed")
}

func TestCapturerCancelledIsNotCaptureFailure(t *testing.T) {
	c, err := NewCapturer(CapturerOptions{Provider: cancelledProvider{}, Viewport: Size{64, 48}, Quality: quality.MustFor(quality.TierLow)})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	frame, err := c.Capture(ctx)
	assert.Nil(t, frame)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrCaptureFailed)
}
