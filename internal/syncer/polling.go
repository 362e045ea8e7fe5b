package syncer

import (
	"context"
	"sync"
	"time"
)

const (
	MinPollInterval = 5 * time.Second
	MaxPollInterval = 30 * time.Second
)

func ClampInterval(d time.Duration) time.Duration {
	if d < MinPollInterval {
		return MinPollInterval
	}
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}

// PollingSource reads the scoped collection on a fixed interval and emits
// when the revision moved. The first read is emitted immediately.
type PollingSource struct {
	reader   Reader
	interval time.Duration
}

func NewPollingSource(reader Reader, interval time.Duration) *PollingSource {
	return &PollingSource{reader: reader, interval: ClampInterval(interval)}
}

func (s *PollingSource) Mode() Mode {
	return ModePolling
}

func (s *PollingSource) Interval() time.Duration {
	return s.interval
}

func (s *PollingSource) Subscribe(ctx context.Context, q Query, onData func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
		})
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var last int64 = -1
		poll := func() {
			snap, err := Load(ctx, s.reader, q)
			if err != nil {
				if ctx.Err() == nil {
					onError(err)
				}
				return
			}
			if snap.Revision == last {
				return
			}
			last = snap.Revision
			snap.Mode = ModePolling
			onData(snap)
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				poll()
			}
		}
	}()
	return unsubscribe, nil
}
