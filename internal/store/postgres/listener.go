package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/store"
	"dukapos/backend/internal/store/memory"
)

// Listener holds one dedicated connection LISTENing on ChangeChannel and fans
// notifications out to watchers. When the connection drops every watch
// channel is closed.
type Listener struct {
	conn   *pgx.Conn
	store  *Store
	hub    *memory.Notifier
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewListener(ctx context.Context, databaseURL string, s *Store) (*Listener, error) {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangeChannel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		conn:   conn,
		store:  s,
		hub:    memory.NewNotifier(),
		logger: logging.For("pg-listener"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.run(runCtx)
	return l, nil
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer l.hub.Close()
	for {
		notification, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				l.logger.Error().Err(err).Msg("listen connection lost")
			}
			return
		}
		var change store.Change
		if err := json.Unmarshal([]byte(notification.Payload), &change); err != nil {
			l.logger.Warn().Err(err).Str("payload", notification.Payload).Msg("ignoring malformed change")
			continue
		}
		_ = l.hub.Publish(ctx, change)
	}
}

func (l *Listener) Watch(ctx context.Context, tenantID string) (<-chan store.Change, func(), error) {
	return l.hub.Watch(ctx, tenantID)
}

func (l *Listener) Publish(ctx context.Context, change store.Change) error {
	return l.store.Publish(ctx, change)
}

func (l *Listener) Close() error {
	l.cancel()
	<-l.done
	return l.conn.Close(context.Background())
}
