package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JW-TS-QC/Cornell-MOE/internal/apikey"
	"github.com/JW-TS-QC/Cornell-MOE/internal/bandit"
	"github.com/JW-TS-QC/Cornell-MOE/internal/events"
	"github.com/JW-TS-QC/Cornell-MOE/internal/idempotency"
	"github.com/JW-TS-QC/Cornell-MOE/internal/metrics"
	"github.com/JW-TS-QC/Cornell-MOE/internal/stats"
	"github.com/JW-TS-QC/Cornell-MOE/internal/store"
	"github.com/JW-TS-QC/Cornell-MOE/internal/tsdb"
)

// Dependencies carries the shared subsystems handlers need. Nil fields are
// tolerated: each handler skips the sinks that are not configured.
type Dependencies struct {
	Tracker  *stats.Tracker
	Store    store.Store
	Metrics  *metrics.Registry
	EventBus *events.Bus

	// API key management (nil disables public-endpoint auth).
	APIKeyMgr *apikey.Manager

	// Admin token for /admin/v1 routes.
	AdminToken *AdminTokenHolder

	// Allocation and win-rate history (nil disables the history endpoints).
	History *tsdb.Store

	// Idempotency-Key replay cache for mutating public endpoints.
	Idem *idempotency.Cache

	// Defaults applied when a request or experiment leaves them unset.
	DefaultEpsilon float64
	DefaultSubtype string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		// The service is healthy when at least one policy is registered.
		subtypes := bandit.Subtypes()
		if len(subtypes) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "unhealthy",
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"subtypes":    subtypes,
			"experiments": len(d.Tracker.Experiments()),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		// Apply API key auth middleware if key manager is configured.
		if d.APIKeyMgr != nil {
			r.Use(apikey.AuthMiddleware(d.APIKeyMgr))
		}
		if d.Idem != nil {
			r.Use(idempotency.Middleware(d.Idem))
		}
		r.Post("/allocate", AllocateHandler(d))
		r.Post("/sample", SampleHandler(d))
		r.Post("/outcomes", OutcomesHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != nil {
			r.Use(AdminAuthMiddleware(d.AdminToken))
		}

		r.Post("/experiments", ExperimentsUpsertHandler(d))
		r.Get("/experiments", ExperimentsListHandler(d))
		r.Get("/experiments/{id}", ExperimentGetHandler(d))
		r.Delete("/experiments/{id}", ExperimentsDeleteHandler(d))
		r.Get("/experiments/{id}/stats", ExperimentStatsHandler(d))

		r.Get("/stats", StatsHandler(d))

		r.Get("/allocations", AllocationLogsHandler(d))
		r.Get("/outcomes", OutcomeLogsHandler(d))
		r.Get("/audit", AuditLogsHandler(d))

		r.Post("/apikeys", APIKeysCreateHandler(d))
		r.Get("/apikeys", APIKeysListHandler(d))
		r.Post("/apikeys/{id}/rotate", APIKeysRotateHandler(d))
		r.Patch("/apikeys/{id}", APIKeysPatchHandler(d))
		r.Delete("/apikeys/{id}", APIKeysDeleteHandler(d))

		if d.History != nil {
			r.Get("/history/query", HistoryQueryHandler(d))
			r.Get("/history/metrics", HistoryMetricsHandler(d))
			r.Post("/history/prune", HistoryPruneHandler(d))
			r.Post("/history/retention", HistoryRetentionHandler(d))
		}

		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}
