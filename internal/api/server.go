// Package api serves a read-only view of an in-flight submission run:
// job states as JSON and the pipeline metrics in Prometheus text format.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/common/expfmt"

	"github.com/pxpalacios/ladruno/internal/metrics"
	"github.com/pxpalacios/ladruno/pkg/logging"
	"github.com/pxpalacios/ladruno/pkg/models"
)

// JobLister provides a snapshot of the jobs in the current run.
type JobLister interface {
	Jobs() []*models.Job
}

// Server is the local status HTTP endpoint.
type Server struct {
	router  *mux.Router
	jobs    JobLister
	metrics *metrics.Metrics
	log     *logging.Logger
	httpSrv *http.Server
}

// NewServer wires the routes.
func NewServer(jobs JobLister, m *metrics.Metrics, log *logging.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		jobs:    jobs,
		metrics: m,
		log:     log,
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	return s
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		s.log.Info("status server listening", map[string]interface{}{"addr": addr})
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("status server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	jobs := s.jobs.Jobs()
	if jobs == nil {
		jobs = []*models.Job{}
	}
	if err := json.NewEncoder(w).Encode(jobs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	families, err := s.metrics.Registry().Gather()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
