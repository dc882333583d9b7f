package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/JW-TS-QC/Cornell-MOE/internal/bandit"
	"github.com/JW-TS-QC/Cornell-MOE/internal/events"
	"github.com/JW-TS-QC/Cornell-MOE/internal/store"
	"github.com/JW-TS-QC/Cornell-MOE/internal/tsdb"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// observeParams captures the fields required to log an allocation result
// across the Store, Metrics and EventBus subsystems.
type observeParams struct {
	// Context for store operations.
	Ctx context.Context

	Experiment string
	Subtype    string
	Epsilon    float64
	NumArms    int
	// WinningArms is a JSON array of the arms that received the greedy share.
	WinningArms string
	// ChosenArm is empty for pure allocation requests.
	ChosenArm string
	// Allocations feed the per-arm probability history.
	Allocations bandit.Allocation
	LatencyUs   int64
	Success     bool
	ErrorMsg    string

	RequestID string
}

// recordAllocation writes a completed allocation to all configured
// observability sinks. It consolidates the recording blocks shared by the
// allocate and sample handlers into a single call site.
//
// The caller determines success/failure and populates observeParams
// accordingly. All nil-safe: each subsystem is skipped when the
// corresponding dependency is nil.
func recordAllocation(d Dependencies, p observeParams) {
	// --- Prometheus metrics ---
	if d.Metrics != nil {
		status := "ok"
		if !p.Success {
			status = "error"
		}
		d.Metrics.AllocationsTotal.WithLabelValues(p.Experiment, p.Subtype, status).Inc()
		if p.Success {
			d.Metrics.AllocationLatency.WithLabelValues(p.Experiment, p.Subtype).Observe(float64(p.LatencyUs))
		}
	}

	// --- Store: allocation log ---
	if d.Store != nil && p.Success {
		warnOnErr("log_allocation", d.Store.LogAllocation(p.Ctx, store.AllocationRecord{
			Timestamp:    time.Now().UTC(),
			ExperimentID: p.Experiment,
			Subtype:      p.Subtype,
			Epsilon:      p.Epsilon,
			NumArms:      p.NumArms,
			WinningArms:  p.WinningArms,
			ChosenArm:    p.ChosenArm,
			LatencyUs:    p.LatencyUs,
			RequestID:    p.RequestID,
		}))
	}

	// --- History: per-arm allocation probabilities ---
	if d.History != nil && p.Success {
		now := time.Now().UTC()
		for arm, prob := range p.Allocations {
			d.History.Write(tsdb.Point{
				Timestamp:  now,
				Metric:     "allocation_prob",
				Experiment: p.Experiment,
				Arm:        arm,
				Value:      prob,
			})
		}
	}

	// --- EventBus ---
	if d.EventBus != nil {
		if !p.Success {
			d.EventBus.Publish(events.Event{
				Type:       events.EventAllocationError,
				Experiment: p.Experiment,
				Subtype:    p.Subtype,
				ErrorMsg:   p.ErrorMsg,
				RequestID:  p.RequestID,
			})
		} else if p.ChosenArm != "" {
			d.EventBus.Publish(events.Event{
				Type:       events.EventArmChosen,
				Experiment: p.Experiment,
				Subtype:    p.Subtype,
				Epsilon:    p.Epsilon,
				ChosenArm:  p.ChosenArm,
				RequestID:  p.RequestID,
			})
		} else {
			d.EventBus.Publish(events.Event{
				Type:       events.EventAllocationComputed,
				Experiment: p.Experiment,
				Subtype:    p.Subtype,
				Epsilon:    p.Epsilon,
				RequestID:  p.RequestID,
			})
		}
	}
}
