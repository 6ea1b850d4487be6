package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

const shutdownTimeout = 5 * time.Second

// Server runs the signaling hub behind HTTP.
type Server struct {
	cfg  *config.Server
	hub  *signaling.Hub
	http *http.Server
}

// New builds a server with its own metrics registry.
func New(cfg *config.Server) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := signaling.NewHub(signaling.NewMetrics(reg))

	return &Server{
		cfg: cfg,
		hub: hub,
		http: &http.Server{
			Handler:           NewRouter(hub, reg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Hub returns the server's hub.
func (s *Server) Hub() *signaling.Hub {
	return s.hub
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.hub.Run(ctx, s.cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	slog.Info("signaling server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down signaling server")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	err := s.http.Shutdown(shutdownCtx)
	if n := s.hub.CloseAll(); n > 0 {
		slog.Info("closed signaling connections", "count", n)
	}
	return err
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
