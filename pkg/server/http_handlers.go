package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PeerInfo is the JSON view of one ready directory entry
type PeerInfo struct {
	Nickname      string `json:"nickname"`
	IP            string `json:"ip"`
	DiscoveryPort int    `json:"discovery_port"`
	ChatPort      int    `json:"chat_port"`
}

// HTTPHandler returns the mux for the HTTP listener
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/peers", s.PeersJSONHandler)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) startHTTP() error {
	listener, err := net.Listen("tcp", s.config.HTTPAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTPAddress, err)
	}
	s.httpListener = listener
	s.httpServer = &http.Server{
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP gateway listening",
		zap.String("address", listener.Addr().String()),
		zap.Strings("paths", []string{"/ws", "/health", "/peers", "/metrics"}),
	)
	return nil
}

// PeersJSONHandler serves the ready directory entries as JSON
func (s *Server) PeersJSONHandler(w http.ResponseWriter, r *http.Request) {
	records := s.directory.Snapshot("")
	peers := make([]PeerInfo, 0, len(records))
	for _, rec := range records {
		peers = append(peers, PeerInfo{
			Nickname:      rec.Nickname,
			IP:            rec.IP,
			DiscoveryPort: rec.DiscoveryPort,
			ChatPort:      rec.ChatPort,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"peers": peers,
		"count": len(peers),
	}); err != nil {
		s.logger.Debug("error encoding peers JSON", zap.Error(err))
	}
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"peers":          len(s.directory.Nicknames()),
		"running":        s.running.Load(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Debug("error encoding health JSON", zap.Error(err))
	}
}
