package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kantan-tools/kscrape/internal/model"
	"github.com/kantan-tools/kscrape/internal/protocol"
	"github.com/kantan-tools/kscrape/internal/service"
)

// Submitter creates a job and starts its scrape in the background
type Submitter interface {
	Submit(ctx context.Context, params model.TaskParams) (string, error)
}

// Jobs gives read access to job records
type Jobs interface {
	Get(id string) (model.Job, bool)
}

// Server is the HTTP gateway in front of the job registry.
type Server struct {
	submitter Submitter
	jobs      Jobs
	artifacts *os.Root
	gatherer  prometheus.Gatherer
}

type Option func(*Server)

// WithGatherer exposes a custom prometheus registry on /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer serves CSV downloads from the artifacts directory. Close must be
// called to release it.
func NewServer(submitter Submitter, jobs Jobs, artifacts string, opts ...Option) (*Server, error) {
	root, err := os.OpenRoot(artifacts)
	if err != nil {
		return nil, fmt.Errorf("opening artifacts directory: %w", err)
	}
	s := &Server{
		submitter: submitter,
		jobs:      jobs,
		artifacts: root,
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Close() error {
	return s.artifacts.Close()
}

// Handler returns the router with all routes and middlewares.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLog)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobId}", s.handleGetJob)
		r.Get("/download/{filename}", s.handleDownload)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

type createJobRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "malformed request body")
		return
	}
	params := model.TaskParams(req)
	if err := validateParams(params); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.submitter.Submit(ctx, params)
	switch {
	case errors.Is(err, service.ErrShuttingDown):
		writeError(ctx, w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		slog.ErrorContext(ctx, "submitting job failed", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(ctx, w, http.StatusOK, createJobResponse{JobID: id})
}

func validateParams(p model.TaskParams) error {
	switch {
	case p.Year == 0 || p.Month == 0:
		return errors.New("year and month are required")
	case p.Month < 1 || p.Month > 12:
		return fmt.Errorf("month must be within 1-12, got %d", p.Month)
	case p.Day < 0 || p.Day > 31:
		return fmt.Errorf("day must be within 1-31, got %d", p.Day)
	case p.Year < 0:
		return fmt.Errorf("year must be positive, got %d", p.Year)
	}
	return nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "jobId")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeError(ctx, w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(ctx, w, http.StatusOK, job)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "filename")
	if err := protocol.ValidateFilename(name); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := s.artifacts.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		writeError(ctx, w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "opening artifact failed", "filename", name, "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "download failed")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(ctx, w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.DebugContext(ctx, "writing response failed", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	writeJSON(ctx, w, code, errorResponse{Error: msg})
}
