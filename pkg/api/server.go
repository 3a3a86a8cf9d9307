package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/metrics"
	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
)

// ConfigView is the non-secret slice of the configuration snapshot that
// /status exposes.
type ConfigView struct {
	MaxConcurrent    int      `json:"max_concurrent"`
	TimeoutMinutes   int      `json:"timeout_minutes"`
	WatchedRepos     []string `json:"watched_repos"`
	MinionImage      string   `json:"minion_image"`
	StubMode         bool     `json:"stub_mode"`
	CronSchedule     string   `json:"cron_schedule"`
	HeartbeatTimeout string   `json:"heartbeat_timeout"`
}

// Status is the control-plane view served by GET /status.
type Status struct {
	Paused           bool                    `json:"paused"`
	RuntimeAvailable bool                    `json:"runtime_available"`
	MaxConcurrent    int                     `json:"max_concurrent"`
	Active           []types.WorkerRecord    `json:"active"`
	Containers       []string                `json:"containers,omitempty"`
	Questions        []types.PendingQuestion `json:"questions,omitempty"`
	Config           ConfigView              `json:"config"`
	RateLimit        *types.RateLimit        `json:"rate_limit,omitempty"`
	Evaluations      []types.Evaluation      `json:"evaluations,omitempty"`
}

// QueueSnapshot is the last queue scan, served by GET /queue.
type QueueSnapshot struct {
	Paused    bool              `json:"paused"`
	ScannedAt time.Time         `json:"scanned_at"`
	Items     []types.QueueItem `json:"items"`
}

// Core is the slice of the orchestrator the HTTP surface needs.
type Core interface {
	HandleReport(ctx context.Context, rep types.Report) error
	PendingAnswer(minionID string) (string, bool)
	Status(ctx context.Context) Status
	Queue() QueueSnapshot
}

// Server exposes the reporter endpoint and the read-only control plane.
type Server struct {
	core Core
	srv  *http.Server
}

func NewServer(core Core, port int) *Server {
	s := &Server{core: core}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/queue", s.handleQueue)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/minion/report", s.handleReport)
	r.Get("/minion/answer/{id}", s.handleAnswer)
	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("addr", s.srv.Addr).Msg("Control plane listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.core.Status(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_minions":   len(st.Active),
		"paused":           st.Paused,
		"docker_available": st.RuntimeAvailable,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status(r.Context()))
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Queue())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var rep types.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if rep.MinionID == "" || rep.Event == "" {
		writeError(w, http.StatusBadRequest, "minion_id and event are required")
		return
	}
	if !rep.Event.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event %q", rep.Event))
		return
	}

	metrics.ReportEventsTotal.WithLabelValues(string(rep.Event)).Inc()

	if err := s.core.HandleReport(r.Context(), rep); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown minion")
			return
		}
		log.WithComponent("api").Error().Err(err).
			Str("minion_id", rep.MinionID).Str("event", string(rep.Event)).
			Msg("Report handling failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	answer, ok := s.core.PendingAnswer(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"answered": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"answered": true, "answer": answer})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": msg})
}
