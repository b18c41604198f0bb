package diagnostics

import (
	"context"
	"image"
	"sync"
	"time"
)

// FrameStore keeps a copy of the most recently presented corrected frame.
// It satisfies loop.Surface.
type FrameStore struct {
	clock func() time.Time

	mu    sync.RWMutex
	frame *image.RGBA
	at    time.Time
	count uint64
}

// NewFrameStore returns an empty store. A nil clock uses time.Now.
func NewFrameStore(clock func() time.Time) *FrameStore {
	if clock == nil {
		clock = time.Now
	}
	return &FrameStore{clock: clock}
}

// Present copies frame; the renderer reuses its target between frames. A
// cancelled ctx leaves the store untouched.
func (s *FrameStore) Present(ctx context.Context, frame *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frame == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || s.frame.Rect != frame.Rect {
		s.frame = image.NewRGBA(frame.Rect)
	}
	copy(s.frame.Pix, frame.Pix)
	s.at = s.clock()
	s.count++
	return nil
}

// Latest returns a copy of the last frame, when it was presented and how
// many frames have been presented in total.
func (s *FrameStore) Latest() (*image.RGBA, time.Time, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, time.Time{}, s.count
	}
	out := image.NewRGBA(s.frame.Rect)
	copy(out.Pix, s.frame.Pix)
	return out, s.at, s.count
}
