// Package statusserver exposes a minimal read-only HTTP surface over the
// pipeline's metrics collector: current phase, LSN position, throughput,
// and recent logs. It carries none of the teacher's REST API for cluster
// management, job submission, or a browser dashboard — those concerns do
// not exist for a single CDC pipeline process.
package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jcrane-labs/walcdc/internal/config"
	"github.com/jcrane-labs/walcdc/internal/metrics"
)

// Server serves /status and /logs as JSON for operators and monitoring
// tooling.
type Server struct {
	collector *metrics.Collector
	cfg       config.Config
	logger    zerolog.Logger
	srv       *http.Server
}

// New creates a Server backed by the given metrics collector.
func New(collector *metrics.Collector, cfg config.Config, logger zerolog.Logger) *Server {
	return &Server{
		collector: collector,
		cfg:       cfg,
		logger:    logger.With().Str("component", "statusserver").Logger(),
	}
}

// Start begins serving on the given port. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /config", s.handleConfig)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info().Int("port", port).Msg("starting status server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}

// StartBackground starts the server in a goroutine, logging a failure
// instead of propagating it — the status surface is diagnostic, not load-
// bearing for the pipeline itself.
func (s *Server) StartBackground(ctx context.Context, port int) {
	go func() {
		if err := s.Start(ctx, port); err != nil {
			s.logger.Err(err).Msg("status server error")
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.collector.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.collector.Logs())
}

type redactedConfig struct {
	SourceHost      string `json:"source_host"`
	SourcePort      uint16 `json:"source_port"`
	SourceDB        string `json:"source_db"`
	PublicationName string `json:"publication_name"`
	SlotName        string `json:"slot_name"`
	Plugin          string `json:"plugin"`
	BatchSize       int    `json:"batch_size"`
	MaxRetries      int    `json:"max_retries"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, redactedConfig{
		SourceHost:      s.cfg.Source.Host,
		SourcePort:      s.cfg.Source.Port,
		SourceDB:        s.cfg.Source.DBName,
		PublicationName: s.cfg.PublicationName,
		SlotName:        s.cfg.SlotName,
		Plugin:          s.cfg.Plugin,
		BatchSize:       s.cfg.BatchSize,
		MaxRetries:      s.cfg.MaxRetries,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
