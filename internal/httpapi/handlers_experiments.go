package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JW-TS-QC/Cornell-MOE/internal/bandit"
	"github.com/JW-TS-QC/Cornell-MOE/internal/events"
	"github.com/JW-TS-QC/Cornell-MOE/internal/store"
)

func auditChange(d Dependencies, r *http.Request, action, resource, detail string) {
	reqID := middleware.GetReqID(r.Context())
	if d.Store != nil {
		warnOnErr("audit", d.Store.LogAudit(r.Context(), store.AuditEntry{
			Timestamp: time.Now().UTC(),
			Action:    action,
			Resource:  resource,
			Detail:    detail,
			RequestID: reqID,
		}))
	}
	if d.EventBus != nil {
		d.EventBus.Publish(events.Event{
			Type:       events.EventExperimentChange,
			Experiment: resource,
			Action:     action,
			RequestID:  reqID,
		})
	}
}

// ExperimentsUpsertHandler handles POST /admin/v1/experiments.
func ExperimentsUpsertHandler(d Dependencies) http.HandlerFunc {
	type upsertReq struct {
		ID      string   `json:"id"`
		Subtype string   `json:"subtype"`
		Epsilon *float64 `json:"epsilon"`
		Arms    []string `json:"arms"`
		Enabled *bool    `json:"enabled"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "store not configured", http.StatusServiceUnavailable)
			return
		}

		var req upsertReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			jsonError(w, "id required", http.StatusBadRequest)
			return
		}
		if len(req.Arms) == 0 {
			jsonError(w, "at least one arm required", http.StatusBadRequest)
			return
		}
		seen := make(map[string]bool, len(req.Arms))
		for _, arm := range req.Arms {
			if arm == "" {
				jsonError(w, "arm names must be non-empty", http.StatusBadRequest)
				return
			}
			if seen[arm] {
				jsonError(w, "duplicate arm: "+arm, http.StatusBadRequest)
				return
			}
			seen[arm] = true
		}

		if req.Subtype == "" {
			req.Subtype = d.DefaultSubtype
		}
		if req.Subtype == "" {
			req.Subtype = bandit.SubtypeGreedy
		}
		if _, ok := bandit.ForSubtype(req.Subtype); !ok {
			jsonError(w, "unknown subtype: "+req.Subtype, http.StatusBadRequest)
			return
		}

		epsilon := d.DefaultEpsilon
		if req.Epsilon != nil {
			epsilon = *req.Epsilon
		}
		if epsilon < 0 || epsilon >= 1 {
			jsonError(w, "epsilon must be in [0, 1)", http.StatusBadRequest)
			return
		}

		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}

		rec := store.ExperimentRecord{
			ID:      req.ID,
			Subtype: req.Subtype,
			Epsilon: epsilon,
			Arms:    req.Arms,
			Enabled: enabled,
		}
		if err := d.Store.UpsertExperiment(r.Context(), rec); err != nil {
			jsonError(w, "upsert failed: "+err.Error(), http.StatusInternalServerError)
			return
		}

		// Pre-register arms so the first allocation sees them at payoff 0.
		for _, arm := range req.Arms {
			d.Tracker.RegisterArm(req.ID, arm)
		}

		detail, _ := json.Marshal(rec)
		auditChange(d, r, "experiment.upsert", req.ID, string(detail))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "experiment": rec})
	}
}

// ExperimentsListHandler handles GET /admin/v1/experiments.
func ExperimentsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		experiments, err := d.Store.ListExperiments(r.Context())
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if experiments == nil {
			experiments = []store.ExperimentRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"experiments": experiments})
	}
}

// ExperimentGetHandler handles GET /admin/v1/experiments/{id}.
func ExperimentGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		id := chi.URLParam(r, "id")
		rec, err := d.Store.GetExperiment(r.Context(), id)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if rec == nil {
			jsonError(w, "experiment not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rec)
	}
}

// ExperimentsDeleteHandler handles DELETE /admin/v1/experiments/{id}.
func ExperimentsDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			jsonError(w, "experiment id required", http.StatusBadRequest)
			return
		}
		if err := d.Store.DeleteExperiment(r.Context(), id); err != nil {
			jsonError(w, "delete failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		d.Tracker.DropExperiment(id)

		auditChange(d, r, "experiment.delete", id, "")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}
}

// ExperimentStatsHandler handles GET /admin/v1/experiments/{id}/stats:
// per-arm windowed aggregates plus the current cumulative counts and the
// allocation those counts produce.
func ExperimentStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		hist, ok := d.Tracker.HistoricalInfo(id)
		if !ok {
			jsonError(w, "unknown experiment", http.StatusNotFound)
			return
		}

		resp := map[string]any{
			"experiment_id": id,
			"arms":          hist.ArmsSampled,
			"windows":       d.Tracker.SummaryByArm(id),
		}

		// Include the live allocation when the experiment record resolves.
		epsilon := d.DefaultEpsilon
		subtype := d.DefaultSubtype
		if subtype == "" {
			subtype = bandit.SubtypeGreedy
		}
		if d.Store != nil {
			if rec, err := d.Store.GetExperiment(r.Context(), id); err == nil && rec != nil {
				epsilon = rec.Epsilon
				subtype = rec.Subtype
			}
		}
		if policy, ok := bandit.ForSubtype(subtype); ok {
			if alloc, err := policy.AllocateArms(hist, epsilon); err == nil {
				resp["allocations"] = alloc
				resp["epsilon"] = epsilon
				resp["subtype"] = subtype
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// StatsHandler handles GET /admin/v1/stats: windowed aggregates for every
// experiment plus service-wide totals.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"global":      d.Tracker.Global(),
			"experiments": d.Tracker.Summary(),
		})
	}
}
