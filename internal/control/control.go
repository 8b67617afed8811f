// Package control is the operator surface of the PAG-ASA server: a small
// JSON API for the dashboard, an MCP tool server for agents, health probes
// and the Prometheus scrape endpoint, all on one [http.Handler].
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/conversation"
	"github.com/MrWong99/pagasa/internal/cycle"
	"github.com/MrWong99/pagasa/internal/health"
	"github.com/MrWong99/pagasa/internal/liveupdate"
	"github.com/MrWong99/pagasa/internal/observe"
	"github.com/MrWong99/pagasa/internal/resilience"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/provider/live"
)

// Cycle is the part of the cycle orchestrator the control surface drives.
type Cycle interface {
	Start(ctx context.Context, trigger cycle.Trigger) error
	ToggleAutomation(ctx context.Context) (bool, error)
	TogglePlayback(ctx context.Context) (bool, error)
	Snapshot() cycle.Snapshot
	LastFrame() (capture.Frame, bool)
}

// Conversation is the live conversation manager.
type Conversation interface {
	Toggle(ctx context.Context) (bool, error)
	Snapshot() conversation.Snapshot
}

// LiveUpdates is the live-update loop.
type LiveUpdates interface {
	Toggle(ctx context.Context) bool
	Snapshot() liveupdate.Snapshot
}

// Config wires a [Server].
type Config struct {
	Cycle        Cycle
	Conversation Conversation
	LiveUpdates  LiveUpdates

	// Location reports the operator location. May be nil.
	Location func() string

	// Breakers reports provider breaker states by role. May be nil.
	Breakers func() map[string][]resilience.BreakerStatus

	// Health serves /healthz and /readyz. May be nil.
	Health *health.Handler

	// Metrics instruments requests. May be nil.
	Metrics *observe.Metrics

	// Version is reported by the MCP server.
	Version string
}

// Status is the aggregate view returned by /api/status and the status tool.
type Status struct {
	Cycle        cycle.Snapshot                         `json:"cycle"`
	Conversation conversation.Snapshot                  `json:"conversation"`
	LiveUpdate   liveupdate.Snapshot                    `json:"live_update"`
	Location     string                                 `json:"location,omitempty"`
	Breakers     map[string][]resilience.BreakerStatus `json:"breakers,omitempty"`
}

// Toggled is the response of every toggle operation.
type Toggled struct {
	On bool `json:"on"`
}

// Server serves the control API.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds the routes. Cycle, Conversation and LiveUpdates are required.
func New(cfg Config) (*Server, error) {
	if cfg.Cycle == nil || cfg.Conversation == nil || cfg.LiveUpdates == nil {
		return nil, errors.New("control: cycle, conversation and live updates are required")
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/cycle/start", s.handleStartCycle)
	s.mux.HandleFunc("POST /api/automation/toggle", s.handleToggleAutomation)
	s.mux.HandleFunc("POST /api/playback/toggle", s.handleTogglePlayback)
	s.mux.HandleFunc("POST /api/liveupdate/toggle", s.handleToggleLiveUpdates)
	s.mux.HandleFunc("POST /api/conversation/toggle", s.handleToggleConversation)
	s.mux.HandleFunc("GET /api/conversation/turns", s.handleTurns)
	s.mux.HandleFunc("GET /api/frame", s.handleFrame)
	s.mux.Handle("/mcp", newMCPHandler(s))
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Health != nil {
		cfg.Health.Register(s.mux)
	}
	return s, nil
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return observe.Middleware(s.cfg.Metrics)(s.mux)
}

// Status assembles the aggregate view.
func (s *Server) Status() Status {
	st := Status{
		Cycle:        s.cfg.Cycle.Snapshot(),
		Conversation: s.cfg.Conversation.Snapshot(),
		LiveUpdate:   s.cfg.LiveUpdates.Snapshot(),
	}
	if s.cfg.Location != nil {
		st.Location = s.cfg.Location()
	}
	if s.cfg.Breakers != nil {
		st.Breakers = s.cfg.Breakers()
	}
	return st
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleStartCycle(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Cycle.Start(r.Context(), cycle.TriggerManual); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.cfg.Cycle.Snapshot())
}

func (s *Server) handleToggleAutomation(w http.ResponseWriter, r *http.Request) {
	on, err := s.cfg.Cycle.ToggleAutomation(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, Toggled{On: on})
}

func (s *Server) handleTogglePlayback(w http.ResponseWriter, r *http.Request) {
	playing, err := s.cfg.Cycle.TogglePlayback(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, Toggled{On: playing})
}

func (s *Server) handleToggleLiveUpdates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Toggled{On: s.cfg.LiveUpdates.Toggle(r.Context())})
}

func (s *Server) handleToggleConversation(w http.ResponseWriter, r *http.Request) {
	on, err := s.cfg.Conversation.Toggle(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, Toggled{On: on})
}

type turnsResponse struct {
	Turns   []conversation.Turn  `json:"turns"`
	Pending conversation.Pending `json:"pending"`
}

func (s *Server) handleTurns(w http.ResponseWriter, _ *http.Request) {
	snap := s.cfg.Conversation.Snapshot()
	writeJSON(w, http.StatusOK, turnsResponse{Turns: snap.Turns, Pending: snap.Pending})
}

func (s *Server) handleFrame(w http.ResponseWriter, _ *http.Request) {
	f, ok := s.cfg.Cycle.LastFrame()
	if !ok || len(f.Data) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no frame captured yet"})
		return
	}
	w.Header().Set("Content-Type", f.MIMEType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Data)
}

// ── Responses ────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cycle.ErrCycleInProgress),
		errors.Is(err, cycle.ErrNoReport),
		errors.Is(err, conversation.ErrActive):
		return http.StatusConflict
	case errors.Is(err, audio.ErrDeviceUnavailable),
		errors.Is(err, cycle.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, live.ErrConnection):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		observe.Logger(ctx).Warn("control request failed", "status", code, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("control: encode response", "err", err)
	}
}
