// Package api exposes the HTTP interface for the monitor service: manual
// run triggers, stop signals, run-state queries and the live detail stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitewatch/internal/metrics"
	"sitewatch/internal/monitor"
	"sitewatch/internal/runner"
	"sitewatch/internal/store"
)

// readTimeout bounds the read-only endpoints. The run trigger is exempt
// because a manual run is synchronous and can legitimately take minutes.
const readTimeout = 10 * time.Second

// Runner is the run-control surface the server exposes over HTTP.
type Runner interface {
	RunTask(ctx context.Context, taskID int64) (monitor.RunLog, error)
	RequestStop(taskID int64) bool
	IsRunning(taskID int64) bool
	RunningTasks() []int64
}

// Server wires HTTP handlers to the runner and run store.
type Server struct {
	router chi.Router
	runs   store.RunStore
	runner Runner
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs store.RunStore, r Runner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{runs: runs, runner: r, logger: logger}

	router := chi.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.recoverMiddleware)
	router.Use(metrics.Middleware)

	router.Get("/healthz", s.healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	router.Route("/v1", func(router chi.Router) {
		router.Route("/tasks", func(router chi.Router) {
			router.With(timeoutMiddleware(readTimeout)).Get("/running", s.listRunning)
			router.Route("/{task_id}", func(router chi.Router) {
				router.Post("/run", s.runTask)
				router.With(timeoutMiddleware(readTimeout)).Post("/stop", s.stopTask)
				router.With(timeoutMiddleware(readTimeout)).Get("/running", s.isRunning)
			})
		})
		router.Route("/runs/{run_id}", func(router chi.Router) {
			router.With(timeoutMiddleware(readTimeout)).Get("/details", s.listDetails)
		})
	})

	s.router = router
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	run, err := s.runner.RunTask(r.Context(), taskID)
	switch {
	case errors.Is(err, runner.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "task already running")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
		return
	case err != nil:
		s.logger.Error("run task failed to start", zap.Int64("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"found": s.runner.RequestStop(taskID)})
}

func (s *Server) isRunning(w http.ResponseWriter, r *http.Request) {
	taskID, ok := taskIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.runner.IsRunning(taskID)})
}

func (s *Server) listRunning(w http.ResponseWriter, _ *http.Request) {
	ids := s.runner.RunningTasks()
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"task_ids": ids})
}

func (s *Server) listDetails(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	after := 0
	if raw := r.URL.Query().Get("after"); raw != "" {
		after, err = strconv.Atoi(raw)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
	}

	run, err := s.runs.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	} else if err != nil {
		s.logger.Error("load run failed", zap.Stringer("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	details, err := s.runs.ListDetails(r.Context(), runID, after)
	if err != nil {
		s.logger.Error("list details failed", zap.Stringer("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list details")
		return
	}
	writeJSON(w, http.StatusOK, detailsResponse{
		Run:     toRunDTO(run),
		Details: toDetailDTOs(details),
	})
}

func taskIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	taskID, err := strconv.ParseInt(chi.URLParam(r, "task_id"), 10, 64)
	if err != nil || taskID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return taskID, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
