package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/wsconn"
)

// HandleWebSocket upgrades the request and serves it as a rendezvous
// connection. Binary messages carry raw frame bytes, so the TCP handler
// runs unchanged.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsconn.Accept(w, r)
	if err != nil {
		s.logger.Info("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s.serveConn(conn, "websocket")
}
