package loop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVisibilityHideShow(t *testing.T) {
	vis := NewVisibility(true)

	vis.Hide()
	done := make(chan error, 1)
	go func() {
		done <- vis.Wait(context.Background())
	}()

	select {
	case <-time.After(100 * time.Millisecond):
	case err := <-done:
		t.Fatalf("expected wait to block, got %v", err)
	}

	vis.Show()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error after show, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("visibility wait did not resume")
	}
	if vis.State() != "visible" {
		t.Fatalf("unexpected state %q", vis.State())
	}
}

func TestVisibilityClosePropagatesError(t *testing.T) {
	vis := NewVisibility(false)
	customErr := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- vis.Wait(context.Background())
	}()

	vis.Close(customErr)

	select {
	case err := <-done:
		if !errors.Is(err, customErr) {
			t.Fatalf("expected custom error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("visibility wait did not unblock after close")
	}
	if vis.Visible() {
		t.Fatalf("closed gate must not report visible")
	}
}

func TestVisibilityWaitRespectsContextCancellation(t *testing.T) {
	vis := NewVisibility(false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- vis.Wait(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("visibility wait did not exit on cancellation")
	}
	if vis.State() != "hidden" {
		t.Fatalf("cancellation must not close the gate, got %q", vis.State())
	}
}
