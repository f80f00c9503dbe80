package monitor

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
	"go.uber.org/zap"
)

// streamEvent is the frame pushed to stream clients after every sealed cycle.
type streamEvent struct {
	Event  string            `json:"event"`
	Record types.CycleRecord `json:"record"`
}

// handleStream handles GET /ws. The stream is server-to-client only; client
// frames are drained and discarded.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Stream upgrade failed", zap.Error(err))
		return
	}

	s.wsMu.Lock()
	s.wsConns[conn] = true
	s.wsMu.Unlock()

	go func() {
		defer s.dropStreamClient(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// BroadcastCycle pushes a sealed cycle record to every connected stream
// client. A client whose write fails is dropped.
func (s *Server) BroadcastCycle(record types.CycleRecord) {
	event := streamEvent{
		Event:  "cycle_end",
		Record: record,
	}

	s.wsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsConns))

	for conn := range s.wsConns {
		conns = append(conns, conn)
	}
	s.wsMu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			s.logger.Debug("Dropping stream client", zap.Error(err))
			s.dropStreamClient(conn)
		}
	}
}

// StreamClients returns the number of connected stream clients.
func (s *Server) StreamClients() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	return len(s.wsConns)
}

func (s *Server) dropStreamClient(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsConns, conn)
	s.wsMu.Unlock()
	conn.Close()
}
