package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JW-TS-QC/Cornell-MOE/internal/bandit"
)

// AllocateRequest is the JSON body for /v1/allocate and /v1/sample.
//
// Callers either name a registered experiment or pass the sampled history
// inline. When both are present the inline history wins.
type AllocateRequest struct {
	ExperimentID string                `json:"experiment_id,omitempty"`
	ArmsSampled  map[string]bandit.Arm `json:"arms_sampled,omitempty"`

	// Overrides; fall back to the experiment record, then server defaults.
	Epsilon *float64 `json:"epsilon,omitempty"`
	Subtype string   `json:"subtype,omitempty"`
}

// AllocateResponse is the JSON body returned by /v1/allocate.
type AllocateResponse struct {
	ExperimentID string            `json:"experiment_id,omitempty"`
	Subtype      string            `json:"subtype"`
	Epsilon      float64           `json:"epsilon"`
	Allocations  bandit.Allocation `json:"allocations"`
	ChosenArm    string            `json:"chosen_arm,omitempty"`
}

// resolved holds the inputs of one allocation after merging the request with
// the experiment record and server defaults.
type resolved struct {
	hist       bandit.HistoricalInfo
	policy     bandit.Policy
	epsilon    float64
	subtype    string
	experiment string // label used for metrics and logs
}

// resolve merges the request with the experiment record (if any) and the
// configured defaults. It writes the error response itself and returns ok =
// false when the request cannot be served.
func resolve(d Dependencies, w http.ResponseWriter, r *http.Request, req AllocateRequest) (resolved, bool) {
	var out resolved
	out.subtype = req.Subtype
	out.experiment = req.ExperimentID

	epsilonSet := req.Epsilon != nil
	if epsilonSet {
		out.epsilon = *req.Epsilon
	}

	switch {
	case req.ArmsSampled != nil:
		out.hist = bandit.HistoricalInfo{ArmsSampled: req.ArmsSampled}
		if out.experiment == "" {
			out.experiment = "inline"
		}
	case req.ExperimentID != "":
		if d.Store != nil {
			rec, err := d.Store.GetExperiment(r.Context(), req.ExperimentID)
			if err != nil {
				jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
				return out, false
			}
			if rec != nil {
				if !rec.Enabled {
					jsonError(w, "experiment disabled", http.StatusForbidden)
					return out, false
				}
				if out.subtype == "" {
					out.subtype = rec.Subtype
				}
				if !epsilonSet {
					out.epsilon = rec.Epsilon
					epsilonSet = true
				}
				// Known arms always appear in the allocation, even before
				// their first trial.
				for _, arm := range rec.Arms {
					d.Tracker.RegisterArm(req.ExperimentID, arm)
				}
			}
		}
		hist, ok := d.Tracker.HistoricalInfo(req.ExperimentID)
		if !ok {
			jsonError(w, "unknown experiment", http.StatusNotFound)
			return out, false
		}
		out.hist = hist
	default:
		jsonError(w, "experiment_id or arms_sampled required", http.StatusBadRequest)
		return out, false
	}

	if out.subtype == "" {
		out.subtype = d.DefaultSubtype
	}
	if out.subtype == "" {
		out.subtype = bandit.SubtypeGreedy
	}
	if !epsilonSet {
		out.epsilon = d.DefaultEpsilon
	}
	if out.epsilon < 0 || out.epsilon >= 1 {
		jsonError(w, "epsilon must be in [0, 1)", http.StatusBadRequest)
		return out, false
	}

	policy, ok := bandit.ForSubtype(out.subtype)
	if !ok {
		jsonError(w, "unknown subtype: "+out.subtype, http.StatusBadRequest)
		return out, false
	}
	out.policy = policy
	return out, true
}

// winningArmsJSON returns the arms at the best average payoff as a JSON
// array, for the allocation log.
func winningArmsJSON(hist bandit.HistoricalInfo, alloc bandit.Allocation) string {
	best := -1.0
	for name := range alloc {
		if p := hist.ArmsSampled[name].AvgPayoff(); p > best {
			best = p
		}
	}
	var winners []string
	for name := range alloc {
		if hist.ArmsSampled[name].AvgPayoff() == best {
			winners = append(winners, name)
		}
	}
	sort.Strings(winners)
	b, _ := json.Marshal(winners)
	return string(b)
}

// AllocateHandler handles POST /v1/allocate: computes the probability each
// arm should be served next, without choosing one.
func AllocateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AllocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}

		res, ok := resolve(d, w, r, req)
		if !ok {
			return
		}
		reqID := middleware.GetReqID(r.Context())

		start := time.Now()
		alloc, err := res.policy.AllocateArms(res.hist, res.epsilon)
		latencyUs := time.Since(start).Microseconds()

		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, bandit.ErrEmptyHistory) {
				code = http.StatusUnprocessableEntity
			}
			recordAllocation(d, observeParams{
				Ctx:        r.Context(),
				Experiment: res.experiment,
				Subtype:    res.subtype,
				Epsilon:    res.epsilon,
				Success:    false,
				ErrorMsg:   err.Error(),
				RequestID:  reqID,
			})
			jsonError(w, err.Error(), code)
			return
		}

		recordAllocation(d, observeParams{
			Ctx:         r.Context(),
			Experiment:  res.experiment,
			Subtype:     res.subtype,
			Epsilon:     res.epsilon,
			NumArms:     res.hist.NumArms(),
			WinningArms: winningArmsJSON(res.hist, alloc),
			Allocations: alloc,
			LatencyUs:   latencyUs,
			Success:     true,
			RequestID:   reqID,
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AllocateResponse{
			ExperimentID: req.ExperimentID,
			Subtype:      res.subtype,
			Epsilon:      res.epsilon,
			Allocations:  alloc,
		})
	}
}

// SampleHandler handles POST /v1/sample: computes the allocation and draws a
// single arm from it. This is the endpoint most clients call per visitor.
func SampleHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AllocateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}

		res, ok := resolve(d, w, r, req)
		if !ok {
			return
		}
		reqID := middleware.GetReqID(r.Context())

		start := time.Now()
		alloc, err := res.policy.AllocateArms(res.hist, res.epsilon)
		var chosen string
		if err == nil {
			chosen, err = bandit.ChooseArm(alloc, nil)
		}
		latencyUs := time.Since(start).Microseconds()

		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, bandit.ErrEmptyHistory) {
				code = http.StatusUnprocessableEntity
			}
			recordAllocation(d, observeParams{
				Ctx:        r.Context(),
				Experiment: res.experiment,
				Subtype:    res.subtype,
				Epsilon:    res.epsilon,
				Success:    false,
				ErrorMsg:   err.Error(),
				RequestID:  reqID,
			})
			jsonError(w, err.Error(), code)
			return
		}

		recordAllocation(d, observeParams{
			Ctx:         r.Context(),
			Experiment:  res.experiment,
			Subtype:     res.subtype,
			Epsilon:     res.epsilon,
			NumArms:     res.hist.NumArms(),
			WinningArms: winningArmsJSON(res.hist, alloc),
			ChosenArm:   chosen,
			Allocations: alloc,
			LatencyUs:   latencyUs,
			Success:     true,
			RequestID:   reqID,
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AllocateResponse{
			ExperimentID: req.ExperimentID,
			Subtype:      res.subtype,
			Epsilon:      res.epsilon,
			Allocations:  alloc,
			ChosenArm:    chosen,
		})
	}
}
