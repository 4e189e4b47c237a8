package hubapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabwire/tabwire/internal/config"
	"github.com/tabwire/tabwire/internal/httpapi"
	"github.com/tabwire/tabwire/internal/hub"
)

// New constructs the HTTP handler for the hub: endpoint management, discovery
// and aggregated tool access.
func New(mgr *hub.Manager, cfg config.HubConfig) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range httpapi.MiddlewareChain() {
		r.Use(m)
	}

	r.Get("/endpoints", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, mgr.ListEndpoints())
	})
	r.Post("/endpoints/discover", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Candidates []string `json:"candidates"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		if len(body.Candidates) == 0 {
			body.Candidates = cfg.Candidates
		}
		found := mgr.Discover(req.Context(), body.Candidates)
		writeJSON(w, http.StatusOK, found)
	})
	r.Post("/endpoints/connect", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing url"})
			return
		}
		rec, err := mgr.ConnectEndpoint(req.Context(), body.URL)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
	r.Delete("/endpoints/{id}", func(w http.ResponseWriter, req *http.Request) {
		if err := mgr.DisconnectEndpoint(chi.URLParam(req, "id")); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
	})
	r.Get("/tools", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tools": mgr.ListTools()})
	})
	r.Post("/tools/call", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Name     string         `json:"name"`
			Args     map[string]any `json:"args"`
			Endpoint string         `json:"endpoint"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Name == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing tool name"})
			return
		}
		result, err := mgr.CallTool(req.Context(), body.Name, body.Args, body.Endpoint)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
