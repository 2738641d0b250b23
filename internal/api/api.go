// Package api serves the gleand control API over a Unix socket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/internal/metrics"
	"github.com/sekia-ai/gleanrelay/internal/registry"
	"github.com/sekia-ai/gleanrelay/internal/relay"
	"github.com/sekia-ai/gleanrelay/pkg/glean"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

// maxEventBytes bounds a POST /api/v1/events body.
const maxEventBytes = 1 << 20

// ReloadFunc re-reads the glean identity from config and returns the identity
// now in effect.
type ReloadFunc func() (protocol.ReloadResponse, error)

// Server serves the control API.
type Server struct {
	socketPath string
	registry   *registry.Registry
	relay      *relay.Relay
	reload     ReloadFunc
	startedAt  time.Time
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates an API server. reload may be nil when the daemon runs without a
// config file.
func New(socketPath string, reg *registry.Registry, rl *relay.Relay, reload ReloadFunc, startedAt time.Time, logger zerolog.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		registry:   reg,
		relay:      rl,
		reload:     reload,
		startedAt:  startedAt,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/producers", s.handleProducers)
	mux.HandleFunc("POST /api/v1/events", s.handleRecord)
	mux.HandleFunc("POST /api/v1/config/reload", s.handleReload)
	return mux
}

// Start begins listening on the Unix socket. Blocks until Shutdown.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	os.Chmod(s.socketPath, 0600)

	s.logger.Info().Str("socket", s.socketPath).Msg("API server listening")
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	gl := s.relay.EventLogger()
	stats := s.relay.Stats()
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Status:            "ok",
		Uptime:            time.Since(s.startedAt).Truncate(time.Second).String(),
		NATSRunning:       true,
		StartedAt:         s.startedAt,
		ApplicationID:     gl.ApplicationID(),
		AppDisplayVersion: gl.AppDisplayVersion(),
		Channel:           gl.Channel(),
		ProducerCount:     s.registry.Count(),
		EventsRecorded:    stats.Recorded,
		EventsRejected:    stats.Rejected,
		EventsOptedOut:    stats.OptedOut,
	})
}

func (s *Server) handleProducers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.ProducersResponse{
		Producers: s.registry.Producers(),
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var ev protocol.ServerEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&ev); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.Source == "" {
		ev.Source = "api"
	}

	ping, err := s.relay.Record(ev, metrics.TransportAPI)
	switch {
	case errors.Is(err, relay.ErrOptedOut):
		writeJSON(w, http.StatusOK, protocol.RecordResponse{Recorded: false, Reason: "opted_out"})
	case err != nil:
		var missing *glean.MissingFieldError
		var invalid *glean.InvalidExtraError
		if errors.As(err, &missing) || errors.As(err, &invalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeJSON(w, http.StatusOK, protocol.RecordResponse{DocumentID: ping.DocumentID, Recorded: true})
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		http.Error(w, "config reload not available", http.StatusServiceUnavailable)
		return
	}
	resp, err := s.reload()
	if err != nil {
		s.logger.Error().Err(err).Msg("config reload failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
