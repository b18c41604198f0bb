package calibration

import (
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinefirst/visionfix/pkg/gaze"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{}, 1)}
}

func (m *manualTicker) start(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() { m.stopped <- struct{}{} }
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestSession(t *testing.T, clock *fakeClock, ticker *manualTicker, rec *recorder) *Session {
	t.Helper()
	s, err := NewSession(Options{Clock: clock.Now, Ticker: ticker.start, Listener: rec.listen, SettleDelay: 500 * time.Millisecond})
	require.NoError(t, err)
	return s
}

func TestSessionAdvancesCyclically(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	ticker := newManualTicker()
	s := newTestSession(t, clock, ticker, &recorder{})
	require.NoError(t, s.Start())

	for i := 1; i <= len(DefaultTargets)+1; i++ {
		ticker.ch <- clock.Now()
		require.Eventually(t, func() bool { return s.Index() == i%len(DefaultTargets) }, time.Second, time.Millisecond)
	}
	assert.Equal(t, DefaultTargets[1], s.Target())
	s.Cancel()
}

func TestSessionSecondStartIsNoop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	rec := &recorder{}
	s := newTestSession(t, clock, newManualTicker(), rec)
	require.NoError(t, s.Start())
	s.Advance()
	s.Advance()

	require.NoError(t, s.Start())
	assert.Equal(t, 2, s.Index())
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, []EventKind{EventStarted}, rec.kinds())
	s.Cancel()
}

func TestSessionFinishScoresSettledSamples(t *testing.T) {
	clock := &fakeClock{now: time.Unix(100, 0)}
	ticker := newManualTicker()
	rec := &recorder{}
	s := newTestSession(t, clock, ticker, rec)
	require.NoError(t, s.Start())

	assert.False(t, s.Observe(gaze.Sample{X: 0.9, Y: 0.9}), "sample inside settle delay must be ignored")
	clock.Advance(time.Second)
	assert.True(t, s.Observe(gaze.Sample{X: 0.2, Y: 0.2}))
	assert.True(t, s.Observe(gaze.Sample{X: 0.3, Y: 0.2}))

	result, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 2, result.Samples)
	assert.InDelta(t, 0.05, result.MeanError, 1e-9)
	assert.InDelta(t, 0.9, result.AccuracyEstimate, 1e-9)
	assert.Equal(t, clock.Now(), result.CompletedAt)
	assert.Equal(t, s.ID(), result.SessionID)

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatalf("advance timer was not stopped")
	}
	assert.Equal(t, []EventKind{EventStarted, EventCompleted}, rec.kinds())
	assert.ErrorIs(t, s.Start(), ErrSessionEnded)
	_, err = s.Finish()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSessionFinishWithoutSamples(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newTestSession(t, clock, newManualTicker(), &recorder{})
	require.NoError(t, s.Start())
	result, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Samples)
	assert.Equal(t, 0.0, result.AccuracyEstimate)
}

func TestSessionCancelEmitsNoResult(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	rec := &recorder{}
	s := newTestSession(t, clock, newManualTicker(), rec)
	assert.False(t, s.Cancel())
	require.NoError(t, s.Start())
	assert.True(t, s.Cancel())
	assert.Equal(t, StateCancelled, s.State())
	assert.False(t, s.Observe(gaze.Sample{}))
	require.Len(t, rec.events, 2)
	assert.Equal(t, EventCancelled, rec.events[1].Kind)
	assert.Nil(t, rec.events[1].Result)
}

func TestManagerSingleRunningSession(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m, err := NewManager(Options{Clock: clock.Now, Ticker: newManualTicker().start})
	require.NoError(t, err)

	first, started, err := m.Start()
	require.NoError(t, err)
	assert.True(t, started)
	first.Advance()

	again, started, err := m.Start()
	require.NoError(t, err)
	assert.False(t, started)
	assert.Same(t, first, again)
	assert.Equal(t, 1, again.Index())

	clock.Advance(time.Second)
	m.Observe(gaze.Sample{X: 0.8, Y: 0.2})
	result, err := m.Finish()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Samples)
	assert.InDelta(t, 1.0, result.AccuracyEstimate, 1e-9)
	assert.Nil(t, m.Current())

	_, err = m.Finish()
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, m.Cancel())
}

func TestOptionsValidation(t *testing.T) {
	_, err := NewSession(Options{Targets: []Target{}})
	assert.Error(t, err)
	_, err = NewManager(Options{AdvanceInterval: -time.Second})
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	img, err := Preview(200, 100, DefaultTargets, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())
	_, err = Preview(0, 10, DefaultTargets, 0)
	assert.Error(t, err)
}
