package loop

import (
	"context"
	"sync"
)

// Visibility gates the tick pump on whether the viewing surface is visible.
// It supports a single waiter.
type Visibility struct {
	mu       sync.Mutex
	hidden   bool
	closing  bool
	closeErr error
	signal   chan struct{}
}

// NewVisibility constructs a gate in the given state.
func NewVisibility(visible bool) *Visibility {
	return &Visibility{hidden: !visible, signal: make(chan struct{}, 1)}
}

// Hide blocks future Wait calls until Show.
func (v *Visibility) Hide() {
	v.mu.Lock()
	v.hidden = true
	v.mu.Unlock()
}

// Show clears the hidden state and wakes waiters.
func (v *Visibility) Show() {
	v.mu.Lock()
	wasVisible := !v.hidden
	v.hidden = false
	v.mu.Unlock()
	if !wasVisible {
		v.notify()
	}
}

// Close releases waiters for good, propagating an optional error.
func (v *Visibility) Close(err error) {
	v.mu.Lock()
	v.closing = true
	if err != nil && v.closeErr == nil {
		v.closeErr = err
	}
	v.mu.Unlock()
	v.notify()
}

// Wait blocks while the surface is hidden. It returns an error once the gate
// is closed or ctx is done.
func (v *Visibility) Wait(ctx context.Context) error {
	for {
		v.mu.Lock()
		hidden := v.hidden
		closing := v.closing
		closeErr := v.closeErr
		v.mu.Unlock()

		if closing {
			if closeErr != nil {
				return closeErr
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return context.Canceled
		}
		if !hidden {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.signal:
			continue
		}
	}
}

// Visible reports whether the surface is visible and the gate open.
func (v *Visibility) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.hidden && !v.closing
}

// State reports the textual state for diagnostics.
func (v *Visibility) State() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.closing:
		return "closed"
	case v.hidden:
		return "hidden"
	default:
		return "visible"
	}
}

func (v *Visibility) notify() {
	select {
	case v.signal <- struct{}{}:
	default:
	}
}
