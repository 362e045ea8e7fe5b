package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dukapos/backend/internal/syncer"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 70 * time.Second
)

type streamMessage struct {
	Type     string           `json:"type"`
	Status   syncer.Mode      `json:"status"`
	Snapshot *syncer.Snapshot `json:"snapshot,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || a.allowedOrigin == "*" || strings.EqualFold(origin, a.allowedOrigin)
		},
	}
}

// handleStream pushes a collection's scoped snapshot over a WebSocket each
// time it changes. Live or polling delivery is the session's business; the
// client sees the same messages either way.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.sync == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("sync is not configured"))
		return
	}
	collection := strings.TrimSpace(r.URL.Query().Get("collection"))
	if err := readable(r, collection); err != nil {
		writeError(w, http.StatusForbidden, err)
		return
	}
	q := queryFor(r, collection)
	if err := q.Validate(); err != nil {
		writeCoreError(w, err)
		return
	}

	upgrader := a.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates := make(chan syncer.Snapshot, 1)
	failures := make(chan error, 1)
	unsubscribe, err := a.sync.Subscribe(ctx, q, func(snap syncer.Snapshot) {
		select {
		case updates <- snap:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- snap:
			default:
			}
		}
	}, func(err error) {
		select {
		case failures <- err:
		default:
		}
	})
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		_ = conn.WriteJSON(streamMessage{Type: "error", Status: a.sync.Status(), Error: err.Error()})
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscribe failed"), time.Now().Add(streamWriteWait))
		return
	}
	defer unsubscribe()

	// reads only to notice the client going away and to take pongs
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		var msg streamMessage
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			msg = streamMessage{Type: "snapshot", Status: a.sync.Status(), Snapshot: &snap}
		case err := <-failures:
			msg = streamMessage{Type: "error", Status: a.sync.Status(), Error: err.Error()}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			a.logger.Debug().Err(err).Str("collection", q.Collection).Msg("stream closed")
			return
		}
	}
}
