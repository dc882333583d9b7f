package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JW-TS-QC/Cornell-MOE/internal/events"
	"github.com/JW-TS-QC/Cornell-MOE/internal/stats"
	"github.com/JW-TS-QC/Cornell-MOE/internal/store"
	"github.com/JW-TS-QC/Cornell-MOE/internal/tsdb"
)

// OutcomeInput is one trial result reported by a client.
type OutcomeInput struct {
	ExperimentID string `json:"experiment_id"`
	Arm          string `json:"arm"`
	Win          bool   `json:"win"`
}

// OutcomesRequest is the JSON body for /v1/outcomes. Clients report either a
// single outcome at the top level or a batch in the outcomes array.
type OutcomesRequest struct {
	OutcomeInput
	Outcomes []OutcomeInput `json:"outcomes,omitempty"`
}

// OutcomesHandler handles POST /v1/outcomes: feeds trial results back into
// the tracker so future allocations shift toward the winning arms.
func OutcomesHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OutcomesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}

		batch := req.Outcomes
		if len(batch) == 0 {
			batch = []OutcomeInput{req.OutcomeInput}
		}
		for i, o := range batch {
			if o.ExperimentID == "" || o.Arm == "" {
				jsonError(w, "experiment_id and arm required", http.StatusBadRequest)
				return
			}
			batch[i] = o
		}

		reqID := middleware.GetReqID(r.Context())
		now := time.Now().UTC()

		for _, o := range batch {
			d.Tracker.Record(stats.Outcome{
				Timestamp:  now,
				Experiment: o.ExperimentID,
				Arm:        o.Arm,
				Win:        o.Win,
			})

			if d.Metrics != nil {
				result := "loss"
				if o.Win {
					result = "win"
				}
				d.Metrics.OutcomesTotal.WithLabelValues(o.ExperimentID, o.Arm, result).Inc()
			}
			if d.Store != nil {
				warnOnErr("log_outcome", d.Store.LogOutcome(r.Context(), store.OutcomeRecord{
					Timestamp:    now,
					ExperimentID: o.ExperimentID,
					Arm:          o.Arm,
					Win:          o.Win,
					RequestID:    reqID,
				}))
			}
			if d.History != nil {
				if hist, ok := d.Tracker.HistoricalInfo(o.ExperimentID); ok {
					if arm := hist.ArmsSampled[o.Arm]; arm.Total > 0 {
						d.History.Write(tsdb.Point{
							Timestamp:  now,
							Metric:     "win_rate",
							Experiment: o.ExperimentID,
							Arm:        o.Arm,
							Value:      float64(arm.Wins) / float64(arm.Total),
						})
					}
				}
			}
			if d.EventBus != nil {
				d.EventBus.Publish(events.Event{
					Type:       events.EventOutcomeRecorded,
					Experiment: o.ExperimentID,
					Arm:        o.Arm,
					Win:        o.Win,
					RequestID:  reqID,
				})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":       true,
			"recorded": len(batch),
		})
	}
}
