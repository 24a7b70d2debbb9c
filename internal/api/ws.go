package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
)

const maxStreamClients = 32

// AlertStream pushes published alert events to connected WebSocket clients.
type AlertStream struct {
	connections map[*websocket.Conn]bool
	mutex       sync.Mutex
	upgrader    websocket.Upgrader
	logger      *logging.Logger
}

func NewAlertStream(logger *logging.Logger) *AlertStream {
	return &AlertStream{
		connections: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve upgrades the request and keeps the connection registered until the
// client goes away.
func (s *AlertStream) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mutex.Lock()
	if len(s.connections) >= maxStreamClients {
		s.mutex.Unlock()
		s.logger.Warnf("Max WebSocket clients reached, rejecting connection")
		_ = conn.Close()
		return
	}
	s.connections[conn] = true
	s.logger.Infof("WebSocket client connected (total: %d)", len(s.connections))
	s.mutex.Unlock()

	// Drain reads so we notice the close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.remove(conn)
				return
			}
		}
	}()
}

// Broadcast sends an alert event to every connected client, dropping
// connections that fail to write.
func (s *AlertStream) Broadcast(evt models.AlertEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for conn := range s.connections {
		if err := conn.WriteJSON(evt); err != nil {
			s.logger.Errorf("Failed to send WebSocket message: %v", err)
			_ = conn.Close()
			delete(s.connections, conn)
		}
	}
}

func (s *AlertStream) remove(conn *websocket.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.connections[conn] {
		delete(s.connections, conn)
		_ = conn.Close()
		s.logger.Infof("WebSocket client disconnected (remaining: %d)", len(s.connections))
	}
}
