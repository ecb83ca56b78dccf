// Package web serves the settings form, the chart data endpoint and metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"goldwatch/internal/config"
	"goldwatch/internal/service"
	"goldwatch/internal/storage"
)

// Poller is the slice of the poll service the web layer drives.
type Poller interface {
	RunCycle(ctx context.Context) (service.Outcome, error)
	TodayReadings(ctx context.Context) ([]storage.Reading, error)
	Location() *time.Location
}

// Store is the persistence the handlers read and write.
type Store interface {
	storage.SettingsStore
	ListRecentReadings(ctx context.Context, limit int) ([]storage.Reading, error)
}

// Server hosts the HTTP interface.
type Server struct {
	cfg      config.HTTPConfig
	poller   Poller
	store    Store
	currency string
	unit     string
	logger   zerolog.Logger
}

// NewServer wires handlers to the poll service and store.
func NewServer(cfg config.HTTPConfig, poller Poller, store Store, currency, unit string, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		poller:   poller,
		store:    store,
		currency: currency,
		unit:     unit,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /settings", s.getSettings)
	mux.HandleFunc("POST /settings", s.postSettings)
	mux.HandleFunc("GET /api/today", s.today)
	mux.HandleFunc("POST /api/poll", s.poll)
	mux.HandleFunc("GET /chart.png", s.chart)
	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	return Chain(mux, Recovery(s.logger), Logging(s.logger))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
