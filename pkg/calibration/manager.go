package calibration

import (
	"sync"

	"github.com/offlinefirst/visionfix/pkg/gaze"
)

// Manager allows at most one running session.
type Manager struct {
	opts Options

	mu      sync.Mutex
	current *Session
}

// NewManager validates options shared by every session it starts.
func NewManager(opts Options) (*Manager, error) {
	if _, err := opts.withDefaults(); err != nil {
		return nil, err
	}
	return &Manager{opts: opts}, nil
}

// Start begins a new session. If one is already running it is returned
// unchanged and started is false.
func (m *Manager) Start() (session *Session, started bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.State() == StateRunning {
		return m.current, false, nil
	}
	s, err := NewSession(m.opts)
	if err != nil {
		return nil, false, err
	}
	if err := s.Start(); err != nil {
		return nil, false, err
	}
	m.current = s
	return s, true, nil
}

// Finish completes the running session.
func (m *Manager) Finish() (Result, error) {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return Result{}, ErrNotRunning
	}
	return s.Finish()
}

// Cancel aborts the running session, if any.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()
	if s == nil {
		return false
	}
	return s.Cancel()
}

// Observe forwards a gaze sample to the running session.
func (m *Manager) Observe(sample gaze.Sample) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s != nil {
		s.Observe(sample)
	}
}

// Current returns the running session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.State() != StateRunning {
		return nil
	}
	return m.current
}
