package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/catalog"
	"github.com/relcore/enginecore/internal/config"
)

// Handler holds the shared resources the sideband serves from.
type Handler struct {
	Catalog *catalog.Catalog
	Config  config.Config
	Hub     *Hub
	Log     *zap.Logger
}

// SetupRoutes builds the sideband's router. The websocket route is mounted
// before the logging middleware so nothing wraps its response writer
// before the upgrade.
func (h *Handler) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/debug/telemetry/ws", h.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(h.loggingMiddleware)
		r.Get("/debug/catalog", h.handleCatalog)
		r.Get("/debug/config", h.handleConfig)
	})

	return r
}

func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	dbs := h.Catalog.Databases()
	out := make([]map[string]any, 0, len(dbs))
	for _, db := range dbs {
		out = append(out, db.SnapshotView())
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"compilation_mode":          h.Config.Compilation.String(),
		"execution_mode":            h.Config.Execution.String(),
		"optimizer_task_timeout_ms": h.Config.OptimizerTaskTimeoutMS,
		"metrics": map[string]bool{
			"counters":     h.Config.Metrics.Counters,
			"pipeline":     h.Config.Metrics.PipelineMetrics,
			"bind_execute": h.Config.Metrics.BindExecuteCommandMetrics,
		},
		"telemetry_subscribers": h.Hub.Subscribers(),
	})
}
