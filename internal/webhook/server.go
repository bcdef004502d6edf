package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/metrics"
)

// Server owns the HTTP surface: the webhook endpoint, a liveness probe,
// and optionally the metrics endpoint.
type Server struct {
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

type ServerConfig struct {
	Host            string
	Port            int
	Path            string // webhook URL path (default: /webhook)
	MetricsEndpoint string // empty disables metrics
	Handler         *Handler
	Logger          *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, cfg.Handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.MetricsEndpoint != "" {
		mux.HandleFunc(cfg.MetricsEndpoint, metrics.Collector.Handler())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully with a
// bounded timeout.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("webhook server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}
