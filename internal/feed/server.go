package feed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server exposes the broker at /events and, when given, a metrics handler at
// /metrics.
type Server struct {
	broker *Broker
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a server for addr. metrics may be nil.
func NewServer(addr string, broker *Broker, metrics http.Handler, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/events", broker)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return &Server{
		broker: broker,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start listens on the configured address and serves in the background. It
// returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("feed server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("event feed listening")
	return ln.Addr(), nil
}

// Shutdown disconnects subscribers and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broker.Close()
	return s.srv.Shutdown(ctx)
}
