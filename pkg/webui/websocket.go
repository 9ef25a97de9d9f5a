package webui

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
)

// SafeConn serializes writes to a websocket connection.
type SafeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  bool
}

// NewSafeConn wraps conn.
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteJSON writes v as one text message. Writes after Close are dropped.
func (sc *SafeConn) WriteJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.closed {
		return nil
	}
	_ = sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.conn.WriteJSON(v)
}

// Ping sends a control ping.
func (sc *SafeConn) Ping() error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if sc.closed {
		return nil
	}
	return sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// CloseWith sends a close frame carrying code and text, then closes.
func (sc *SafeConn) CloseWith(code int, text string) error {
	sc.writeMu.Lock()
	if !sc.closed {
		_ = sc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	}
	sc.closed = true
	sc.writeMu.Unlock()
	return sc.conn.Close()
}

// Close closes the underlying connection.
func (sc *SafeConn) Close() error {
	sc.writeMu.Lock()
	sc.closed = true
	sc.writeMu.Unlock()
	return sc.conn.Close()
}

// clientMessage is what a websocket client may send.
type clientMessage struct {
	Type      string     `json:"type"`
	ProjectID string     `json:"projectId"`
	Prompt    string     `json:"prompt"`
	Mode      types.Mode `json:"mode"`
}

// handleWebSocket subscribes the connection to one project's stream. Client
// disconnects never affect server-side runs.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project query parameter is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	safeConn := NewSafeConn(conn)
	defer safeConn.Close()

	s.connections.Store(safeConn, &ConnectionInfo{
		ProjectID:   projectID,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	})
	defer s.connections.Delete(safeConn)

	sub := s.deps.Events.Subscribe(projectID)
	defer sub.Close()

	s.logger.Debug("websocket client connected",
		zap.String("project", projectID),
		zap.String("remote", r.RemoteAddr))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read ended", zap.String("project", projectID), zap.Error(err))
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			s.handleClientMessage(safeConn, projectID, msg)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Evicted as a slow consumer or the broadcaster shut down.
				s.logger.Warn("event subscription ended", zap.String("project", projectID), zap.Bool("evicted", sub.Evicted()))
				_ = safeConn.CloseWith(websocket.CloseTryAgainLater, "subscription ended; resubscribe")
				return
			}
			if err := safeConn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", zap.String("project", projectID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := safeConn.Ping(); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

func (s *Server) handleClientMessage(conn *SafeConn, projectID string, msg clientMessage) {
	switch msg.Type {
	case "ping":
		_ = conn.WriteJSON(map[string]any{"type": "pong", "timestamp": time.Now().Unix()})
	case "start":
		if msg.ProjectID == "" {
			msg.ProjectID = projectID
		}
		if msg.ProjectID != projectID {
			_ = conn.WriteJSON(map[string]any{"type": "error", "error": "start must target the subscribed project"})
			return
		}
		// The run outlives this connection; the ack is node_change RETRIEVE.
		_, err := s.deps.Runner.Start(context.Background(), orchestration.StartRequest{
			ProjectID: msg.ProjectID,
			Prompt:    msg.Prompt,
			Mode:      msg.Mode,
		})
		if err != nil {
			reply := map[string]any{"type": "error", "error": err.Error()}
			var conflict *orchestration.ConflictError
			if errors.As(err, &conflict) {
				reply["runId"] = conflict.RunID
			}
			_ = conn.WriteJSON(reply)
		}
	default:
		_ = conn.WriteJSON(map[string]any{"type": "error", "error": "unknown message type " + msg.Type})
	}
}
