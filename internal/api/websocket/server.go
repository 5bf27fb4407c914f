package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server is the device-facing listener. Devices connect to "/" (or "/ws")
// and speak the envelope protocol.
type Server struct {
	hub    *Hub
	server *http.Server
	logger *zap.Logger
	addr   net.Addr
}

func NewServer(addr string, hub *Hub, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.ServeWs)
	mux.HandleFunc("/ws", hub.ServeWs)

	return &Server{
		hub:    hub,
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start binds the listener. A bind failure is returned; serving happens
// in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.addr = lis.Addr()

	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Device listener error", zap.Error(err))
		}
	}()

	s.logger.Info("Device listener started", zap.String("addr", s.addr.String()))
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() net.Addr { return s.addr }

// Shutdown closes every device connection with a normal-closure frame
// before releasing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll(websocket.CloseNormalClosure, "server shutting down")
	return s.server.Shutdown(ctx)
}
