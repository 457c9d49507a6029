// Package httpapi implements the §6.2 HTTP surface: a static client
// page, health/status/session introspection endpoints, and the
// Prometheus scrape endpoint, all routed with go-chi/chi — the router
// most represented across the pack's small voice-agent HTTP manifests.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurevox-ai/aurevox-orchestrator/pkg/orchestrator"
)

// sessionSummary is one entry of the §6.2 GET /sessions response.
type sessionSummary struct {
	ID               string `json:"id"`
	UserID           string `json:"userId"`
	IsProcessing     bool   `json:"isProcessing"`
	HasTranscription bool   `json:"hasTranscription"`
	DurationMillis   int64  `json:"duration"`
	LanguageCode     string `json:"languageCode"`
}

// NewRouter builds the chi router for the whole §6.2 surface.
// staticDir may be empty, in which case GET / serves a minimal inline
// placeholder rather than a file from disk — this repo's core scope is
// the orchestrator, not the client page.
func NewRouter(orch *orchestrator.Orchestrator, reg *prometheus.Registry, staticDir string, startedAt time.Time) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	if staticDir != "" {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, staticDir+"/index.html")
		})
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fileServer))
	} else {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<!doctype html><title>aurevox</title><p>voice orchestrator running</p>"))
		})
	}

	r.Get("/health-check", healthHandler(orch, startedAt))
	r.Get("/health", healthHandler(orch, startedAt))
	r.Get("/status", statusHandler(orch))
	r.Get("/sessions", sessionsHandler(orch))

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r
}

func healthHandler(orch *orchestrator.Orchestrator, startedAt time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":               "ok",
			"activeSessions":       orch.Registry().Count(),
			"activeTranscriptions": orch.Registry().CountTranscribing(),
			"uptime":               time.Since(startedAt).Seconds(),
			"timestamp":            time.Now().UnixMilli(),
		})
	}
}

func statusHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":        "aurevox orchestrator online",
			"activeSessions": orch.Registry().Count(),
		})
	}
}

func sessionsHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := orch.Registry().List()
		out := make([]sessionSummary, 0, len(sessions))
		now := time.Now().UnixMilli()
		for _, s := range sessions {
			out = append(out, sessionSummary{
				ID:               s.ID,
				UserID:           s.UserID,
				IsProcessing:     s.IsProcessing(),
				HasTranscription: s.HasOpenTranscriber(),
				DurationMillis:   now - s.CreatedAt,
				LanguageCode:     string(s.Language),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
