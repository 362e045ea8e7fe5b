package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/metrics"
	"dukapos/backend/internal/store"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Session is the one source chosen for a process: live when a notifier is
// reachable at start, polling otherwise. A live subscription that fails later
// moves itself to polling; the others keep running.
type Session struct {
	live    *LiveSource
	polling *PollingSource
	logger  zerolog.Logger

	mu     sync.RWMutex
	status Mode
}

// Select probes the notifier once. A nil notifier means polling only.
func Select(ctx context.Context, reader Reader, notifier store.Notifier, pollInterval time.Duration) *Session {
	s := &Session{
		polling: NewPollingSource(reader, pollInterval),
		logger:  logging.For("syncer"),
		status:  ModePolling,
	}
	if notifier == nil {
		s.logger.Info().Dur("interval", s.polling.Interval()).Msg("no change notifier, polling")
		return s
	}
	if p, ok := notifier.(pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("change notifier unreachable, polling")
			return s
		}
	}
	s.live = NewLiveSource(reader, notifier)
	s.status = ModeLive
	s.logger.Info().Msg("live change feed selected")
	return s
}

func (s *Session) Mode() Mode {
	if s.live != nil {
		return ModeLive
	}
	return ModePolling
}

// Status is the state of the most recent delivery: live, polling, or
// offline when the last read failed.
func (s *Session) Status() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) setStatus(m Mode) {
	s.mu.Lock()
	s.status = m
	s.mu.Unlock()
}

type subscription struct {
	mu      sync.Mutex
	current Unsubscribe
	mode    Mode
	closed  bool
	once    sync.Once
}

// replace installs next as the active subscription and releases the old one.
// After close, next is released immediately.
func (sub *subscription) replace(next Unsubscribe, mode Mode) bool {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		next()
		return false
	}
	old, oldMode := sub.current, sub.mode
	sub.current, sub.mode = next, mode
	sub.mu.Unlock()

	if old != nil {
		old()
		metrics.SyncSubscriptions.WithLabelValues(string(oldMode)).Dec()
	}
	metrics.SyncSubscriptions.WithLabelValues(string(mode)).Inc()
	return true
}

func (sub *subscription) unsubscribe() {
	sub.once.Do(func() {
		sub.mu.Lock()
		sub.closed = true
		current, mode := sub.current, sub.mode
		sub.current = nil
		sub.mu.Unlock()
		if current != nil {
			current()
			metrics.SyncSubscriptions.WithLabelValues(string(mode)).Dec()
		}
	})
}

func (s *Session) Subscribe(ctx context.Context, q Query, onData func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sub := &subscription{}

	deliver := func(snap Snapshot) {
		s.setStatus(snap.Mode)
		onData(snap)
	}

	startPolling := func() error {
		pollErr := func(err error) {
			s.setStatus(ModeOffline)
			onError(err)
		}
		unsub, err := s.polling.Subscribe(ctx, q, deliver, pollErr)
		if err != nil {
			return err
		}
		sub.replace(unsub, ModePolling)
		return nil
	}

	if s.live == nil {
		if err := startPolling(); err != nil {
			return nil, err
		}
		return sub.unsubscribe, nil
	}

	// the live goroutine may fail before the live subscription is installed
	installed := make(chan struct{})
	liveErr := func(err error) {
		<-installed
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			s.setStatus(ModeOffline)
			onError(err)
			return
		}
		s.fallback(q, err)
		if err := startPolling(); err != nil {
			s.setStatus(ModeOffline)
			onError(err)
		}
	}

	unsub, err := s.live.Subscribe(ctx, q, deliver, liveErr)
	if err != nil {
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return nil, err
		}
		s.fallback(q, err)
		if err := startPolling(); err != nil {
			return nil, err
		}
		return sub.unsubscribe, nil
	}
	sub.replace(unsub, ModeLive)
	close(installed)
	return sub.unsubscribe, nil
}

func (s *Session) fallback(q Query, err error) {
	metrics.SyncFallbacksTotal.Inc()
	s.setStatus(ModePolling)
	s.logger.Warn().Err(err).
		Str("tenant_id", q.TenantID).
		Str("collection", q.Collection).
		Str("branch_id", q.BranchID).
		Msg("live subscription failed, falling back to polling")
}
