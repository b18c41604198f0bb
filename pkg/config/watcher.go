package config

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Snapshot is an immutable view of the configuration at one point in time.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Config   Config
}

// ChangeListener is called with every accepted configuration snapshot.
type ChangeListener func(Snapshot)

// Watcher reloads the configuration file when it changes and hands out
// snapshots. Edits that fail validation are logged and ignored.
type Watcher struct {
	v      *viper.Viper
	logger *slog.Logger
	clock  func() time.Time
	done   chan struct{}

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers []*subscriber
	closed      bool
}

// subscriber is a latest-wins mailbox drained by one goroutine, so a listener
// sees versions in increasing order and never an older one after a newer one.
type subscriber struct {
	fn   ChangeListener
	wake chan struct{}

	mu      sync.Mutex
	pending Snapshot
	has     bool
	queued  int64
}

func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	if snap.Version <= s.queued {
		s.mu.Unlock()
		return
	}
	s.queued = snap.Version
	s.pending, s.has = snap, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) take() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pending, s.has
	s.pending, s.has = Snapshot{}, false
	return snap, ok
}

// NewWatcher loads the configuration and, when it came from a file, watches
// that file for edits.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	v, source, err := open(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v, source)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v, logger: logger, clock: time.Now, done: make(chan struct{})}
	w.snapshot = Snapshot{Version: 1, LoadedAt: w.clock(), Config: cfg}

	if source != "" {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := w.reload(source); err != nil {
				w.logger.Error("config reload failed", slog.String("file", evt.Name), slog.String("error", err.Error()))
			}
		})
		v.WatchConfig()
	}
	return w, nil
}

// Snapshot returns the current configuration.
func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneSnapshot(w.snapshot)
}

// Subscribe registers fn and immediately delivers the current snapshot.
// Each listener runs on its own goroutine and receives snapshots one at a
// time in version order; versions published while it is busy collapse into
// the newest.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	sub := &subscriber{fn: fn, wake: make(chan struct{}, 1)}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.subscribers = append(w.subscribers, sub)
	sub.offer(cloneSnapshot(w.snapshot))
	w.mu.Unlock()
	go w.run(sub)
}

// Close stops notifications.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("watcher already closed")
	}
	w.closed = true
	w.subscribers = nil
	close(w.done)
	return nil
}

func (w *Watcher) reload(source string) error {
	if err := w.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := decode(w.v, source)
	if err != nil {
		return err
	}
	snap := w.publish(cfg)
	w.logger.Info("config reloaded", slog.String("file", source), slog.Int64("version", snap.Version))
	return nil
}

// publish installs cfg as the next version and offers it to every subscriber.
func (w *Watcher) publish(cfg Config) Snapshot {
	w.mu.Lock()
	w.snapshot = Snapshot{Version: w.snapshot.Version + 1, LoadedAt: w.clock(), Config: cfg}
	snap := w.snapshot
	subs := append([]*subscriber(nil), w.subscribers...)
	w.mu.Unlock()
	for _, sub := range subs {
		sub.offer(cloneSnapshot(snap))
	}
	return snap
}

func (w *Watcher) run(sub *subscriber) {
	for {
		select {
		case <-w.done:
			return
		case <-sub.wake:
		}
		if snap, ok := sub.take(); ok {
			w.deliver(sub.fn, snap)
		}
	}
}

func (w *Watcher) deliver(fn ChangeListener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config listener panic", slog.Any("panic", r))
		}
	}()
	fn(snap)
}

func cloneSnapshot(s Snapshot) Snapshot {
	cfg := s.Config
	cfg.Profiles.Entries = append(cfg.Profiles.Entries[:0:0], s.Config.Profiles.Entries...)
	cfg.Capture.ExcludeSelectors = append(cfg.Capture.ExcludeSelectors[:0:0], s.Config.Capture.ExcludeSelectors...)
	s.Config = cfg
	return s
}
