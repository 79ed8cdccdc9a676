package server

import (
	"net/http"
	"time"

	"github.com/Eyob-smax/AfriQueue-sub000/internal/metrics"
	"github.com/Eyob-smax/AfriQueue-sub000/internal/realtime/hub"

	"github.com/gorilla/websocket"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/rs/zerolog/log"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 54 * time.Second
	maxCommandBytes = 512
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := s.connect(identity)
	metrics.RealtimeConnections.WithLabelValues("websocket").Inc()
	go writePump(conn, client)
	s.readPump(conn, client)
}

func (s *Server) readPump(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		s.hub.Unregister(client)
		metrics.RealtimeConnections.WithLabelValues("websocket").Dec()
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxCommandBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client_id", client.ID).Msg("websocket closed")
			}
			return
		}
		s.handleCommand(client, data)
	}
}

// writePump owns all writes to conn. It exits when the hub closes the
// client's send channel or a write fails.
func writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSockJS(session sockjs.Session) {
	identity, err := s.authenticate(session.Request())
	if err != nil {
		_ = session.Close(4001, "unauthorized")
		return
	}

	client := s.connect(identity)
	metrics.RealtimeConnections.WithLabelValues("sockjs").Inc()
	defer func() {
		s.hub.Unregister(client)
		metrics.RealtimeConnections.WithLabelValues("sockjs").Dec()
	}()

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		s.handleCommand(client, []byte(msg))
	}
}
