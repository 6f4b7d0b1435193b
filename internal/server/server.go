// Package server is the admin HTTP surface: health, job inspection,
// on-demand job runs, and prometheus metrics.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tidelake/maintd/internal/config"
	"github.com/tidelake/maintd/pkg/catalog"
	"github.com/tidelake/maintd/pkg/policy"
)

type Server struct {
	http *http.Server
	log  *zap.Logger
}

func New(cfg config.ServerConfig, metricsEnabled bool, db *sql.DB, exec *policy.Executor, log *zap.Logger) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", handleHealth(db))
	r.Get("/v1/jobs", handleListJobs(db, log))
	r.Get("/v1/jobs/{id}/events", handleListEvents(db, log))
	r.Post("/v1/jobs/{id}/run", handleRunJob(db, exec, log))
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler exposes the router (tests).
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.log.Info("admin server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func handleHealth(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "catalog unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type jobResponse struct {
	ID               int64     `json:"id"`
	Type             string    `json:"type"`
	ScheduleInterval string    `json:"schedule_interval"`
	MaxRuntime       string    `json:"max_runtime"`
	MaxRetries       int       `json:"max_retries"`
	RetryPeriod      string    `json:"retry_period"`
	NextStart        time.Time `json:"next_start"`
}

func toJobResponse(j catalog.Job) jobResponse {
	return jobResponse{
		ID:               j.ID,
		Type:             string(j.Type),
		ScheduleInterval: j.ScheduleInterval.String(),
		MaxRuntime:       j.MaxRuntime.String(),
		MaxRetries:       j.MaxRetries,
		RetryPeriod:      j.RetryPeriod.String(),
		NextStart:        j.NextStart,
	}
}

func handleListJobs(db *sql.DB, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := catalog.ListJobs(r.Context(), db)
		if err != nil {
			log.Error("list jobs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list jobs failed"})
			return
		}
		out := make([]jobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, toJobResponse(j))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListEvents(db *sql.DB, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
			return
		}
		events, err := catalog.ListRunEvents(r.Context(), db, id)
		if err != nil {
			log.Error("list run events failed", zap.Int64("job_id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "list run events failed"})
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

type runResponse struct {
	JobID int64 `json:"job_id"`
	Ran   bool  `json:"ran"`
}

func handleRunJob(db *sql.DB, exec *policy.Executor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid job id"})
			return
		}

		job, err := catalog.FindJob(r.Context(), db, id)
		if err != nil {
			log.Error("find job failed", zap.Int64("job_id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "find job failed"})
			return
		}
		if job == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("job #%d not found", id)})
			return
		}

		ran, err := exec.Execute(r.Context(), job)
		if err != nil {
			writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runResponse{JobID: id, Ran: ran})
	}
}

func statusForError(err error) int {
	var entitlement *policy.EntitlementError
	var configuration *policy.ConfigurationError
	switch {
	case errors.As(err, &entitlement):
		return http.StatusForbidden
	case errors.As(err, &configuration):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
