// Package opshttp is the read-only ops/query HTTP surface (spec.md §6.8):
// health, Prometheus metrics, and a handful of graph-read endpoints for
// operators inspecting the causal graph. Built as a gorilla/mux router with
// a small middleware chain and a graceful Start/Shutdown lifecycle, narrowed
// to read-only query handlers.
package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/ceg"
	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

// Server is the local-only ops HTTP server.
type Server struct {
	router *mux.Router
	http   *http.Server
	cfg    config.HTTPConfig

	repo   *persistence.Repository
	health persistence.RepositoryHealth
	eng    *ceg.Engine
}

func New(cfg config.HTTPConfig, repo *persistence.Repository, health persistence.RepositoryHealth, eng *ceg.Engine) *Server {
	s := &Server{cfg: cfg, repo: repo, health: health, eng: eng}
	s.router = mux.NewRouter()
	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/news/{id}", s.handleGetNews).Methods(http.MethodGet)
	s.router.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	s.router.HandleFunc("/events/{id}/chains", s.handleGetChains).Methods(http.MethodGet)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.http.Addr).Msg("opshttp: starting ops server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.New().String())
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("duration", time.Since(start)).Msg("opshttp: request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	check := s.health.Health(r.Context())
	status := http.StatusOK
	if !check.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, check)
}

func (s *Server) handleGetNews(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	news, err := s.repo.News.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, news)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	event, err := s.repo.Events.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleGetChains(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	maxDepth := 3
	if v := r.URL.Query().Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid max_depth: %q", v))
			return
		}
		maxDepth = n
	}

	minConf := 0.0
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid min_confidence: %q", v))
			return
		}
		minConf = f
	}

	chains, err := s.eng.Chains(r.Context(), id, ceg.ChainOptions{MaxDepth: maxDepth, MinConfidence: minConf})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, chains)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}

func statusFor(err error) int {
	switch domain.Classify(err) {
	case domain.DispositionSkip:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("opshttp: encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
