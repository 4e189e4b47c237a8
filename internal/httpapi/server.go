package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tabwire/tabwire/internal/bridge"
	"github.com/tabwire/tabwire/internal/config"
)

var startTime = time.Now()

// New constructs the HTTP handler for the bridge: the synchronous browser
// façade, the agent and peer WebSocket endpoints, health and metrics.
func New(router *bridge.Router, cfg config.BridgeConfig, version string) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range MiddlewareChain() {
		r.Use(m)
	}

	r.Post("/browser", browserHandler(router))
	r.Get("/browser", statusHandler(router, version))
	r.Handle(cfg.AgentWSPath, bridge.WSHandler(router, cfg.AgentKey))
	r.Handle(cfg.PeerWSPath, bridge.PeerWSHandler(router, version))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// browserHandler accepts {action, ...params} and answers 200 {result} or
// 500 {error}.
func browserHandler(router *bridge.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
			return
		}
		action, _ := body["action"].(string)
		if action == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing action"})
			return
		}
		delete(body, "action")
		result, err := router.Browser(r.Context(), action, body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
	}
}

// statusHandler reports supported actions, agent attachment and host stats.
// It never requires an agent round trip.
func statusHandler(router *bridge.Router, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actions := bridge.Actions()
		sort.Strings(actions)
		doc := map[string]any{
			"version":       version,
			"actions":       actions,
			"agent":         router.Status(),
			"uptimeSeconds": int(time.Since(startTime).Seconds()),
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			doc["memoryUsedPercent"] = vm.UsedPercent
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
