package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Server exposes /metrics over HTTP until its context is cancelled.
type Server struct {
	address string
	metrics *Metrics
	logger  logging.Logger
	ready   chan net.Addr
}

func NewServer(address string, m *Metrics, l logging.Logger) *Server {
	return &Server{
		address: address,
		metrics: m,
		logger:  l.With("module", "metrics_server"),
		ready:   make(chan net.Addr, 1),
	}
}

// Addr returns the bound address once the listener is up.
func (s *Server) Addr() <-chan net.Addr {
	return s.ready
}

func (s *Server) Run(ctx context.Context) error {
	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting metrics server", "address", listen.Addr().String())
	s.ready <- listen.Addr()

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
