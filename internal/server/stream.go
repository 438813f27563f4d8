package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"helmsman/internal/bus"
	"helmsman/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API binds to loopback; viewers are local tooling.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientFrame is what viewers send: keystrokes and terminal geometry
type clientFrame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// handleSessionStream attaches a WebSocket viewer to a session's stream.
// Binary frames carry raw PTY bytes, text frames carry JSON events.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}

	sub := s.streams.Subscribe(id)
	defer s.streams.Unsubscribe(sub)

	logging.Logger.Info("viewer attached",
		"session_id", id,
		"subscriber_id", sub.ID,
		"remote", r.RemoteAddr)

	go s.readClientFrames(conn, id)
	s.writeFrames(conn, sub)

	logging.Logger.Info("viewer detached", "session_id", id, "subscriber_id", sub.ID)
}

// writeFrames pumps bus frames to the socket until the subscription or
// the connection dies
func (s *Server) writeFrames(conn *websocket.Conn, sub *bus.Subscription) {
	defer conn.Close()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := writeFrame(conn, frame); err != nil {
				return
			}
		case <-sub.Closed():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame bus.Frame) error {
	if frame.Type == bus.FrameOutput {
		return conn.WriteMessage(websocket.BinaryMessage, frame.Data)
	}
	payload, err := json.Marshal(frame.Event)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// readClientFrames pumps viewer input and resize frames into the session
func (s *Server) readClientFrames(conn *websocket.Conn, sessionID string) {
	defer conn.Close()

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		// Binary frames are raw keystrokes, text frames structured.
		if msgType == websocket.BinaryMessage {
			ctx, cancel := contextWithTimeout()
			if err := s.sessions.SendInput(ctx, sessionID, payload); err != nil {
				logging.Logger.Debug("viewer input rejected", "session_id", sessionID, "error", err)
			}
			cancel()
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			logging.Logger.Debug("discarding malformed viewer frame", "session_id", sessionID, "error", err)
			continue
		}
		s.applyClientFrame(sessionID, frame)
	}
}

func (s *Server) applyClientFrame(sessionID string, frame clientFrame) {
	ctx, cancel := contextWithTimeout()
	defer cancel()

	switch frame.Type {
	case "input":
		if err := s.sessions.SendInput(ctx, sessionID, []byte(frame.Data)); err != nil {
			logging.Logger.Debug("viewer input rejected", "session_id", sessionID, "error", err)
		}
	case "resize":
		if frame.Cols == 0 || frame.Rows == 0 {
			return
		}
		if err := s.sessions.Resize(ctx, sessionID, frame.Cols, frame.Rows); err != nil {
			logging.Logger.Debug("viewer resize rejected", "session_id", sessionID, "error", err)
		}
	default:
		logging.Logger.Debug("unknown viewer frame type",
			"session_id", sessionID,
			"frame_type", frame.Type)
	}
}

func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
