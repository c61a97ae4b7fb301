package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"printkiosk/internal/logging"
)

const (
	wsWriteWait = 10 * time.Second
	wsReadLimit = 4096
)

// handleJobSocket streams full job snapshots: one on connect and one
// after every store change. Clients only ever render the latest frame.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil || s.jobs == nil {
		s.unavailable(w, r, "job events")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.WithContext(r.Context(), s.logger).Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	logger := logging.WithContext(ctx, s.logger)

	events := s.deps.Hub.Subscribe(ctx)
	go s.readPump(conn, cancel)

	if err := s.sendSnapshot(ctx, conn); err != nil {
		logger.Debug("websocket snapshot failed", logging.Error(err))
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			drain(events)
			if err := s.sendSnapshot(ctx, conn); err != nil {
				logger.Debug("websocket snapshot failed", logging.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and cancels the stream when the peer
// goes away.
func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Server) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	seq := s.deps.Hub.Sequence()
	visible, err := s.jobs.Visible(ctx)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(JobSnapshot{Status: StatusSuccess, Sequence: seq, Jobs: visible})
}

// drain collapses a burst of queued events into one snapshot.
func drain[T any](ch <-chan T) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
