package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Same-origin browsers and native clients; the server carries no
	// credentials worth forging requests for.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 30 * time.Second
	wsPongTimeout  = 90 * time.Second
	wsPingInterval = 60 * time.Second
)

// handleChatWS answers GET /api/chat/ws. Each text frame is a
// chatRequest; each reply frame is a chatResponse or chatError. The
// connection stays open across turns so clients keep one conversation
// without re-handshaking.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(conn, done)

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

		if req.Message == "" {
			s.writeWS(conn, chatError{Error: "message is required"})
			continue
		}

		key := req.contextKey(s.cfg.Scope)
		reply, err := s.agent.Respond(r.Context(), key, req.Message)
		if err != nil {
			msg, _ := userFacingError(err)
			s.logger.Error("websocket chat failed", "context", key, "error", err)
			s.writeWS(conn, chatError{Error: msg})
			continue
		}

		if s.memory != nil {
			s.memory.AddTurn(key, req.Message, reply, map[string]string{"via": "ws"})
		}

		s.writeWS(conn, chatResponse{
			Reply:      reply,
			HTML:       renderMarkdown(reply),
			ContextKey: key,
		})
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}

// pingLoop keeps the connection alive through idle proxies.
func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// WriteControl is safe concurrently with WriteJSON and
			// carries its own deadline.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
