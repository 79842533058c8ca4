package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamWriteTimeout = 10 * time.Second

// handleChatStream pushes every appended chat message to the client as JSON
// until the client goes away or the server shuts down.
func (s *Server) handleChatStream(c *gin.Context) {
	// Subscribe before the handshake so nothing appended after the client
	// sees the upgrade is missed.
	id := uuid.NewString()
	messages := s.stream.Subscribe(id)
	defer s.stream.Unsubscribe(id)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	s.logger.Debug("chat stream opened", zap.String("subscriber", id))

	// Incoming frames are discarded; the read loop only notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			s.logger.Debug("chat stream closed by client", zap.String("subscriber", id))
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("chat stream write failed", zap.String("subscriber", id), zap.Error(err))
				return
			}
		}
	}
}
