package syncer

import (
	"context"
	"errors"
	"sync"

	"dukapos/backend/internal/store"
)

var errFeedClosed = errors.New("change feed closed")

// LiveSource re-reads the scoped collection every time the notifier reports
// a change that touches it.
type LiveSource struct {
	reader   Reader
	notifier store.Notifier
}

func NewLiveSource(reader Reader, notifier store.Notifier) *LiveSource {
	return &LiveSource{reader: reader, notifier: notifier}
}

func (s *LiveSource) Mode() Mode {
	return ModeLive
}

func (s *LiveSource) Subscribe(ctx context.Context, q Query, onData func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	changes, stop, err := s.notifier.Watch(ctx, q.TenantID)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	first, err := Load(ctx, s.reader, q)
	if err != nil {
		stop()
		return nil, err
	}

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			stop()
		})
	}

	go func() {
		first.Mode = ModeLive
		onData(first)
		last := first.Revision
		for {
			select {
			case <-ctx.Done():
				unsubscribe()
				return
			case <-done:
				return
			case change, ok := <-changes:
				if !ok {
					// a feed closed by our own cancellation is not a transport failure
					if ctx.Err() != nil {
						unsubscribe()
						return
					}
					select {
					case <-done:
					default:
						onError(&TransportError{Err: errFeedClosed})
					}
					return
				}
				if !change.Touches(q.Collection) {
					continue
				}
				snap, err := Load(ctx, s.reader, q)
				if err != nil {
					onError(err)
					continue
				}
				if snap.Revision == last {
					continue
				}
				last = snap.Revision
				snap.Mode = ModeLive
				onData(snap)
			}
		}
	}()
	return unsubscribe, nil
}
