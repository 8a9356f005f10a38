package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ncaaf_v5/feedcache/internal/fetcher"
	"ncaaf_v5/feedcache/internal/readapi"
	"ncaaf_v5/feedcache/internal/scheduler"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/cache/{key...}", s.handleCache)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/sources/{id}/tick", s.handleTick)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return mux
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	res, err := s.reader.ReadCached(key)
	if errors.Is(err, readapi.ErrNoData) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if res.Stale {
		w.Header().Set("X-Cache-Stale", "true")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

type tickResponse struct {
	Source  string `json:"source"`
	Result  string `json:"result"`
	Reason  string `json:"reason,omitempty"`
	Status  int    `json:"upstream_status,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.sched.ForceTick(r.Context(), id)
	code, resp := tickResult(id, err)

	if code >= http.StatusInternalServerError {
		log.Warn().Err(err).Str("source", id).Msg("Forced tick failed")
	} else {
		log.Info().Str("source", id).Str("result", resp.Result).Msg("Forced tick")
	}
	writeJSON(w, code, resp)
}

// tickResult maps a ForceTick error onto an HTTP status and body.
func tickResult(id string, err error) (int, tickResponse) {
	resp := tickResponse{Source: id}
	if err == nil {
		resp.Result = "updated"
		return http.StatusOK, resp
	}
	resp.Message = err.Error()

	var failure *fetcher.Failure
	switch {
	case errors.Is(err, scheduler.ErrUnknownSource):
		resp.Result = "unknown_source"
		return http.StatusNotFound, resp
	case errors.Is(err, scheduler.ErrRateLimited):
		resp.Result = "rate_limited"
		return http.StatusTooManyRequests, resp
	case errors.Is(err, scheduler.ErrWindowClosed):
		resp.Result = "window_closed"
		return http.StatusConflict, resp
	case errors.Is(err, scheduler.ErrStaleResult):
		resp.Result = "discarded"
		return http.StatusConflict, resp
	case errors.Is(err, scheduler.ErrStopped), errors.Is(err, scheduler.ErrSourceStopped):
		resp.Result = "stopped"
		return http.StatusServiceUnavailable, resp
	case errors.As(err, &failure):
		resp.Result = "failed"
		resp.Reason = failure.Reason.String()
		resp.Status = failure.StatusCode
		return http.StatusBadGateway, resp
	default:
		resp.Result = "error"
		return http.StatusInternalServerError, resp
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(s.checks))
	for _, name := range s.checkNames() {
		if err := s.checks[name](ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	st := s.sched.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"sources":       len(st.PerSource),
		"active_timers": st.ActiveTimers,
		"cache_entries": st.Cache.Count,
		"checks":        checks,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
