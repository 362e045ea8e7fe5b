package memory

import (
	"context"
	"sync"

	"dukapos/backend/internal/store"
)

// Notifier fans changes out to in-process watchers. Each watcher has a
// one-slot buffer; a slow watcher only ever sees the newest change.
type Notifier struct {
	mu     sync.Mutex
	next   int
	subs   map[string]map[int]chan store.Change
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[int]chan store.Change)}
}

func (n *Notifier) Watch(ctx context.Context, tenantID string) (<-chan store.Change, func(), error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, nil, store.ErrClosed
	}
	id := n.next
	n.next++
	ch := make(chan store.Change, 1)
	if n.subs[tenantID] == nil {
		n.subs[tenantID] = make(map[int]chan store.Change)
	}
	n.subs[tenantID][id] = ch
	n.mu.Unlock()

	stopped := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(stopped)
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[tenantID][id]; ok {
				delete(n.subs[tenantID], id)
				close(sub)
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-stopped:
		}
	}()
	return ch, stop, nil
}

func (n *Notifier) Publish(ctx context.Context, change store.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return store.ErrClosed
	}
	for _, ch := range n.subs[change.TenantID] {
		select {
		case ch <- change:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- change
		}
	}
	return nil
}

// Close drops every watcher. Watch channels are closed, which consumers see
// as the transport going away.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for tenantID, subs := range n.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(n.subs, tenantID)
	}
}

// Watchers reports how many watches are open for a tenant.
func (n *Notifier) Watchers(tenantID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[tenantID])
}
