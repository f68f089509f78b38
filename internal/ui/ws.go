package ui

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadLimit = 64 << 10
	wsWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsRequest struct {
	Message string `json:"message"`
}

// handleChatWS runs chat turns over a websocket. Each text frame
// {"message": ...} gets one {"sender", "message"} reply; blank messages are
// ignored.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Lookup(r)
	header := http.Header{}
	if !ok {
		sess = s.sessions.Create()
		header.Add("Set-Cookie", sess.Cookie().String())
	}

	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket closed", "session", sess.ID, "error", err)
			}
			return
		}

		reply, ok := s.chatTurn(r.Context(), sess, req.Message)
		if !ok {
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(Message{Sender: SenderAssistant, Text: reply}); err != nil {
			slog.Warn("WebSocket write failed", "session", sess.ID, "error", err)
			return
		}
	}
}
