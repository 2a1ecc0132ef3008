package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/routerwatch/internal/events"
)

const (
	streamBuffer  = 64
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

// StreamMessage is one frame on the /v1/events WebSocket.
type StreamMessage struct {
	Type      string        `json:"type"` // "event", "ping"
	Event     *events.Event `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams bus events to a WebSocket client, starting with
// the retained history.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	sub := s.cfg.Bus.Subscribe(streamBuffer)
	defer s.cfg.Bus.Unsubscribe(sub)

	s.logger.Info("event stream connected", "remote", r.RemoteAddr)
	defer s.logger.Info("event stream closed", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readUntilClosed(conn, cancel)

	for _, e := range s.cfg.Bus.Recent() {
		if err := writeEvent(conn, e); err != nil {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				s.logger.Debug("event stream write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		case <-ticker.C:
			if err := writeMessage(conn, StreamMessage{Type: "ping", Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client frames so control messages are
// processed, and cancels when the client goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	return writeMessage(conn, StreamMessage{Type: "event", Event: &e, Timestamp: time.Now()})
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}
