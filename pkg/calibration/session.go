package calibration

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinefirst/visionfix/pkg/gaze"
)

// State of a calibration session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Target is a fixation point in normalised viewport coordinates.
type Target struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultTargets are the four corners and the centre.
var DefaultTargets = []Target{
	{X: 0.2, Y: 0.2},
	{X: 0.8, Y: 0.2},
	{X: 0.5, Y: 0.5},
	{X: 0.2, Y: 0.8},
	{X: 0.8, Y: 0.8},
}

const (
	DefaultAdvanceInterval = 2 * time.Second
	DefaultSettleDelay     = 500 * time.Millisecond
	// maxScoredError maps to an accuracy of zero.
	maxScoredError = 0.5
)

var (
	// ErrNotRunning is returned when finishing a session that is not running.
	ErrNotRunning = errors.New("calibration session not running")
	// ErrSessionEnded is returned when starting a completed or cancelled session.
	ErrSessionEnded = errors.New("calibration session already ended")
)

// Result is emitted when a session completes.
type Result struct {
	SessionID        string    `json:"session_id"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	AccuracyEstimate float64   `json:"accuracy_estimate"`
	MeanError        float64   `json:"mean_error"`
	Samples          int       `json:"samples"`
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventCancelled EventKind = "cancelled"
)

// Event reports a session lifecycle transition. Result is set for completed
// events only.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Result    *Result   `json:"result,omitempty"`
}

// TickerFunc starts a repeating timer and returns its channel and a stop func.
type TickerFunc func(time.Duration) (<-chan time.Time, func())

// Options configure sessions.
type Options struct {
	Targets         []Target
	AdvanceInterval time.Duration
	SettleDelay     time.Duration
	Clock           func() time.Time
	Ticker          TickerFunc
	Listener        func(Event)
	Logger          *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.Targets == nil {
		o.Targets = DefaultTargets
	}
	if len(o.Targets) == 0 {
		return o, errors.New("calibration needs at least one target")
	}
	if o.AdvanceInterval == 0 {
		o.AdvanceInterval = DefaultAdvanceInterval
	}
	if o.AdvanceInterval < 0 {
		return o, errors.New("advance interval must be positive")
	}
	if o.SettleDelay < 0 {
		return o, errors.New("settle delay must not be negative")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Ticker == nil {
		o.Ticker = defaultTicker
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o, nil
}

func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Session walks the user through the target sequence.
type Session struct {
	id   string
	opts Options

	mu        sync.Mutex
	state     State
	index     int
	startedAt time.Time
	shownAt   time.Time
	errSum    float64
	scored    int
	stop      chan struct{}
	stopTick  func()
}

// NewSession returns an idle session.
func NewSession(opts Options) (*Session, error) {
	resolved, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	targets := make([]Target, len(resolved.Targets))
	copy(targets, resolved.Targets)
	resolved.Targets = targets
	return &Session{id: uuid.NewString(), opts: resolved, state: StateIdle}, nil
}

// ID identifies the session.
func (s *Session) ID() string {
	return s.id
}

// Start moves an idle session to running and starts the advance timer.
// Starting a running session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	switch {
	case s.state == StateRunning:
		s.mu.Unlock()
		return nil
	case s.state.Terminal():
		s.mu.Unlock()
		return ErrSessionEnded
	}
	now := s.opts.Clock()
	s.state = StateRunning
	s.index = 0
	s.startedAt = now
	s.shownAt = now
	s.stop = make(chan struct{})
	ticks, stopTick := s.opts.Ticker(s.opts.AdvanceInterval)
	s.stopTick = stopTick
	go s.advanceLoop(ticks, s.stop)
	s.mu.Unlock()

	s.opts.Logger.Info("calibration started", slog.String("session_id", s.id), slog.Int("targets", len(s.opts.Targets)))
	s.emit(Event{Kind: EventStarted, SessionID: s.id, At: now})
	return nil
}

func (s *Session) advanceLoop(ticks <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			s.Advance()
		}
	}
}

// Advance shows the next target, wrapping after the last one.
func (s *Session) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	s.index = (s.index + 1) % len(s.opts.Targets)
	s.shownAt = s.opts.Clock()
}

// Observe scores a gaze sample against the current target once the settle
// delay has passed. It reports whether the sample was scored.
func (s *Session) Observe(sample gaze.Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	if s.opts.Clock().Sub(s.shownAt) < s.opts.SettleDelay {
		return false
	}
	c := sample.Clamped()
	t := s.opts.Targets[s.index]
	s.errSum += math.Hypot(c.X-t.X, c.Y-t.Y)
	s.scored++
	return true
}

// Finish completes the session and returns its result.
func (s *Session) Finish() (Result, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return Result{}, ErrNotRunning
	}
	now := s.opts.Clock()
	s.halt(StateCompleted)
	result := Result{SessionID: s.id, StartedAt: s.startedAt, CompletedAt: now, Samples: s.scored}
	if s.scored > 0 {
		result.MeanError = s.errSum / float64(s.scored)
		result.AccuracyEstimate = math.Max(0, math.Min(1, 1-result.MeanError/maxScoredError))
	}
	s.mu.Unlock()

	s.opts.Logger.Info("calibration completed",
		slog.String("session_id", s.id),
		slog.Float64("accuracy", result.AccuracyEstimate),
		slog.Int("samples", result.Samples),
	)
	s.emit(Event{Kind: EventCompleted, SessionID: s.id, At: now, Result: &result})
	return result, nil
}

// Cancel aborts a running session without producing a result. It reports
// whether the session was running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	now := s.opts.Clock()
	s.halt(StateCancelled)
	s.errSum, s.scored = 0, 0
	s.mu.Unlock()

	s.opts.Logger.Info("calibration cancelled", slog.String("session_id", s.id))
	s.emit(Event{Kind: EventCancelled, SessionID: s.id, At: now})
	return true
}

// halt stops the timer. Callers hold s.mu.
func (s *Session) halt(next State) {
	s.state = next
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns the position of the current target.
func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Target returns the target currently shown.
func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Targets[s.index]
}

// Targets returns a copy of the session's target sequence.
func (s *Session) Targets() []Target {
	return append([]Target(nil), s.opts.Targets...)
}

func (s *Session) emit(ev Event) {
	if s.opts.Listener != nil {
		s.opts.Listener(ev)
	}
}
