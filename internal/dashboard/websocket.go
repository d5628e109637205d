package dashboard

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
)

const (
	// Subprotocol is the only WebSocket subprotocol /ws speaks
	Subprotocol = "echo"

	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  maxMessageSize,
	WriteBufferSize: maxMessageSize,
	Subprotocols:    []string{Subprotocol},
}

// handleWebSocket echoes every text and binary message back to the sender.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	remoteAddr := r.RemoteAddr
	defer func() {
		_ = conn.Close()
		logging.Debug("WebSocket closed", zap.String("remote_addr", remoteAddr))
	}()

	conn.SetReadLimit(maxMessageSize)
	logging.Debug("WebSocket opened",
		zap.String("remote_addr", remoteAddr),
		zap.String("subprotocol", conn.Subprotocol()),
	)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info("WebSocket error",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		logging.LogWebSocketMessage(remoteAddr, "received", messageType, data)

		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := conn.WriteMessage(messageType, data); err != nil {
			logging.Info("WebSocket write failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
		logging.LogWebSocketMessage(remoteAddr, "sent", messageType, data)
	}
}
