// Package api exposes the operational HTTP interface for the intake
// service: source health, triage listing and publication lookup.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/health"
	"github.com/jurisia/intake/internal/metrics"
	"github.com/jurisia/intake/internal/pipeline"
	"github.com/jurisia/intake/internal/scheduler"
)

const recentRunsShown = 10

// Server wires HTTP handlers to the scheduler, stores and health monitor.
type Server struct {
	router    chi.Router
	scheduler *scheduler.Scheduler
	monitor   *health.Monitor
	runs      pipeline.RunStore
	pubs      pipeline.PublicationStore
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sched *scheduler.Scheduler,
	monitor *health.Monitor,
	runs pipeline.RunStore,
	pubs pipeline.PublicationStore,
	logger *zap.Logger,
) *Server {
	metrics.Init()
	s := &Server{
		scheduler: sched,
		monitor:   monitor,
		runs:      runs,
		pubs:      pubs,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Route("/{source_id}", func(r chi.Router) {
				r.Post("/enable", s.enableSource)
				r.Post("/disable", s.disableSource)
				r.Post("/ack", s.ackSource)
			})
		})
		r.Get("/triage", s.listTriage)
		r.Get("/publications/{publication_id}", s.getPublication)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type sourceView struct {
	scheduler.SourceInfo
	Health     *health.Status       `json:"health,omitempty"`
	RecentRuns []pipeline.SourceRun `json:"recent_runs"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	infos := s.scheduler.Sources()
	out := make([]sourceView, 0, len(infos))
	for _, info := range infos {
		view := sourceView{SourceInfo: info, RecentRuns: []pipeline.SourceRun{}}
		if st, ok := s.monitor.Status(info.SourceID); ok {
			view.Health = &st
		}
		runs, err := s.runs.RecentRuns(r.Context(), info.SourceID, recentRunsShown)
		if err != nil {
			s.logger.Error("list recent runs",
				zap.String("source_id", info.SourceID),
				zap.Error(err),
			)
		} else if runs != nil {
			view.RecentRuns = runs
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) enableSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceEnabled(w, r, true)
}

func (s *Server) disableSource(w http.ResponseWriter, r *http.Request) {
	s.setSourceEnabled(w, r, false)
}

func (s *Server) setSourceEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	sourceID := chi.URLParam(r, "source_id")
	if !s.scheduler.SetEnabled(sourceID, enabled) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": sourceID, "enabled": enabled})
}

func (s *Server) ackSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source_id")
	if !s.monitor.Acknowledge(sourceID) {
		writeError(w, http.StatusConflict, "source is not blocked")
		return
	}
	s.logger.Info("blocked source acknowledged", zap.String("source_id", sourceID))
	writeJSON(w, http.StatusOK, map[string]string{"source_id": sourceID, "state": string(pipeline.HealthHealthy)})
}

func (s *Server) listTriage(w http.ResponseWriter, r *http.Request) {
	filter := pipeline.TriageFilter{
		SourceID: r.URL.Query().Get("source_id"),
		Reason:   pipeline.TriageReason(r.URL.Query().Get("reason")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	pubs, err := s.pubs.ListTriaged(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list triage queue")
		return
	}
	if pubs == nil {
		pubs = []pipeline.Publication{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"publications": pubs})
}

func (s *Server) getPublication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "publication_id")
	pub, err := s.pubs.GetPublication(r.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			writeError(w, http.StatusNotFound, "publication not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load publication")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"publication": pub})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
