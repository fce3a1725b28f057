// Package statusapi serves a read-only JSON snapshot of the
// scheduler's in-memory state (GET /status) and a plain liveness probe
// (GET /healthz), grounded on the teacher's chi-routed internal/server
// package but trimmed to these two routes: there is no mutation
// surface here, no UI, and no multi-host concern, matching the
// Non-goals this endpoint must not violate.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nixos/hydra-evaluator/internal/scheduler"
)

// Server serves GET /status over the given scheduler state.
type Server struct {
	router    chi.Router
	state     *scheduler.State
	logger    *slog.Logger
	startTime time.Time
}

// New builds a Server reading from state.
func New(state *scheduler.State, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		state:     state,
		logger:    logger.With("component", "statusapi"),
		startTime: time.Now(),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/healthz", s.handleHealthz)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

type jobsetStatus struct {
	Project         string `json:"project"`
	Name            string `json:"name"`
	EvaluationStyle string `json:"evaluation_style"`
	LastCheckedTime int64  `json:"last_checked_time,omitempty"`
	Triggered       bool   `json:"triggered"`
	Running         bool   `json:"running"`
}

type statusResponse struct {
	Uptime       string         `json:"uptime"`
	GoVersion    string         `json:"go_version"`
	RunningEvals int            `json:"running_evals"`
	MaxEvals     int            `json:"max_evals"`
	Jobsets      []jobsetStatus `json:"jobsets"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.state.Mu.Lock()
	resp := statusResponse{
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		RunningEvals: s.state.RunningEvals,
		MaxEvals:     s.state.MaxEvals,
	}
	for _, js := range s.state.Jobsets {
		entry := jobsetStatus{
			Project:         js.Name.Project,
			Name:            js.Name.Name,
			EvaluationStyle: string(js.EvaluationStyle),
			Triggered:       js.Triggered(),
			Running:         js.Running != nil,
		}
		if !js.LastCheckedTime.IsZero() {
			entry.LastCheckedTime = js.LastCheckedTime.Unix()
		}
		resp.Jobsets = append(resp.Jobsets, entry)
	}
	s.state.Mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode status response", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
