package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/JW-TS-QC/Cornell-MOE/internal/tsdb"
)

// HistoryQueryHandler handles GET /admin/v1/history/query. Query parameters:
// metric (required), experiment, arm, start, end (RFC 3339), step_ms.
func HistoryQueryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		metric := q.Get("metric")
		if metric == "" {
			jsonError(w, "metric parameter required", http.StatusBadRequest)
			return
		}

		params := tsdb.QueryParams{
			Metric:     metric,
			Experiment: q.Get("experiment"),
			Arm:        q.Get("arm"),
		}
		if v := q.Get("start"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				jsonError(w, "invalid start time", http.StatusBadRequest)
				return
			}
			params.Start = t
		}
		if v := q.Get("end"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				jsonError(w, "invalid end time", http.StatusBadRequest)
				return
			}
			params.End = t
		}
		if v := q.Get("step_ms"); v != "" {
			step, err := strconv.ParseInt(v, 10, 64)
			if err != nil || step < 0 {
				jsonError(w, "invalid step_ms", http.StatusBadRequest)
				return
			}
			params.StepMs = step
		}

		series, err := d.History.Query(r.Context(), params)
		if err != nil {
			jsonError(w, "history query failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if series == nil {
			series = []tsdb.Series{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"series": series})
	}
}

// HistoryMetricsHandler handles GET /admin/v1/history/metrics: the distinct
// metric names available for querying.
func HistoryMetricsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, err := d.History.Metrics(r.Context())
		if err != nil {
			jsonError(w, "history metrics failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if metrics == nil {
			metrics = []string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"metrics": metrics})
	}
}

// HistoryPruneHandler handles POST /admin/v1/history/prune: deletes points
// older than the retention period immediately.
func HistoryPruneHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := d.History.Prune(r.Context())
		if err != nil {
			jsonError(w, "history prune failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "pruned": n})
	}
}

// HistoryRetentionHandler handles POST /admin/v1/history/retention with a
// body of {"retention": "168h"}.
func HistoryRetentionHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Retention string `json:"retention"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		dur, err := time.ParseDuration(req.Retention)
		if err != nil || dur <= 0 {
			jsonError(w, "retention must be a positive duration", http.StatusBadRequest)
			return
		}
		d.History.SetRetention(dur)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "retention": dur.String()})
	}
}
