// Package stats tracks per-arm trial outcomes. It is the statistics
// collaborator the allocation policies read from: it owns the mutable
// win/loss counters and hands out immutable bandit.HistoricalInfo snapshots.
package stats

import (
	"sync"
	"time"

	"github.com/JW-TS-QC/Cornell-MOE/internal/bandit"
)

// Outcome is a single recorded trial result.
type Outcome struct {
	Timestamp  time.Time
	Experiment string
	Arm        string
	Win        bool
}

// Window defines a named time window for dashboard aggregation.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the standard set of rolling windows.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Duration: time.Minute},
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate holds computed outcome stats for a time window.
type Aggregate struct {
	Window     string  `json:"window"`
	Experiment string  `json:"experiment,omitempty"`
	Arm        string  `json:"arm,omitempty"`
	Trials     int     `json:"trials"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	WinRate    float64 `json:"win_rate"`
}

// SeedRow is a persisted cumulative count loaded at startup.
type SeedRow struct {
	Experiment string
	Arm        string
	Wins       int64
	Losses     int64
	Total      int64
}

// Tracker maintains cumulative per-(experiment, arm) counters plus rolling
// outcome snapshots for windowed aggregates. Cumulative counters are never
// pruned; only the windowed snapshots age out.
type Tracker struct {
	mu       sync.RWMutex
	counters map[string]map[string]bandit.Arm // experiment -> arm -> counts
	outcomes []Outcome
	maxAge   time.Duration
	windows  []Window
}

// NewTracker creates an outcome tracker with the default windows.
func NewTracker() *Tracker {
	return &Tracker{
		counters: make(map[string]map[string]bandit.Arm),
		windows:  DefaultWindows(),
		maxAge:   25 * time.Hour, // keep slightly more than the largest window
	}
}

// RegisterArm ensures an arm exists with zero counts so that never-tried
// arms still appear in allocations (at payoff 0).
func (t *Tracker) RegisterArm(experiment, arm string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armLocked(experiment, arm)
}

// DropExperiment removes all counters for an experiment (used when the
// experiment is deleted). Windowed snapshots age out on their own.
func (t *Tracker) DropExperiment(experiment string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, experiment)
}

// Record applies one trial outcome: increments the arm's cumulative counts
// and appends a windowed snapshot.
func (t *Tracker) Record(o Outcome) {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	arm := t.armLocked(o.Experiment, o.Arm)
	arm.Total++
	if o.Win {
		arm.Wins++
	} else {
		arm.Losses++
	}
	t.counters[o.Experiment][o.Arm] = arm
	t.outcomes = append(t.outcomes, o)
}

// Seed bulk-loads persisted cumulative counts (e.g. from the database on
// startup) so allocations are not cold after a restart. Seeded counts
// replace whatever is currently held for the same (experiment, arm).
func (t *Tracker) Seed(rows []SeedRow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		if t.counters[r.Experiment] == nil {
			t.counters[r.Experiment] = make(map[string]bandit.Arm)
		}
		t.counters[r.Experiment][r.Arm] = bandit.Arm{Wins: r.Wins, Losses: r.Losses, Total: r.Total}
	}
}

// HistoricalInfo returns an immutable snapshot of the experiment's arms.
// The second return is false when the experiment has no arms at all.
func (t *Tracker) HistoricalInfo(experiment string) (bandit.HistoricalInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	arms, ok := t.counters[experiment]
	if !ok || len(arms) == 0 {
		return bandit.HistoricalInfo{}, false
	}
	cp := make(map[string]bandit.Arm, len(arms))
	for name, a := range arms {
		cp[name] = a
	}
	return bandit.NewHistoricalInfo(cp), true
}

// Experiments returns the tracked experiment IDs.
func (t *Tracker) Experiments() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.counters))
	for id := range t.counters {
		ids = append(ids, id)
	}
	return ids
}

// armLocked returns the current counts for (experiment, arm), creating the
// zero entry if needed. Caller must hold t.mu (write lock).
func (t *Tracker) armLocked(experiment, arm string) bandit.Arm {
	if t.counters[experiment] == nil {
		t.counters[experiment] = make(map[string]bandit.Arm)
	}
	a, ok := t.counters[experiment][arm]
	if !ok {
		t.counters[experiment][arm] = bandit.Arm{}
	}
	return a
}

// Prune removes windowed snapshots older than maxAge.
func (t *Tracker) Prune() {
	cutoff := time.Now().Add(-t.maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(cutoff)
}

// pruneLocked drops expired snapshots. Caller must hold t.mu (write lock).
func (t *Tracker) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(t.outcomes) && t.outcomes[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.outcomes = t.outcomes[i:]
	}
}

// outcomesAfterPrune prunes under the write lock and returns a copy of the
// remaining snapshots, avoiding a lock gap between prune and read.
func (t *Tracker) outcomesAfterPrune() []Outcome {
	cutoff := time.Now().Add(-t.maxAge)
	t.mu.Lock()
	t.pruneLocked(cutoff)
	cp := make([]Outcome, len(t.outcomes))
	copy(cp, t.outcomes)
	t.mu.Unlock()
	return cp
}

// Summary returns windowed aggregates grouped by experiment.
func (t *Tracker) Summary() map[string][]Aggregate {
	outcomes := t.outcomesAfterPrune()

	now := time.Now()
	result := make(map[string][]Aggregate)

	for _, w := range t.windows {
		cutoff := now.Add(-w.Duration)

		byExperiment := make(map[string][]Outcome)
		for _, o := range outcomes {
			if o.Timestamp.After(cutoff) {
				byExperiment[o.Experiment] = append(byExperiment[o.Experiment], o)
			}
		}
		for id, os := range byExperiment {
			result[w.Name] = append(result[w.Name], computeAggregate(w.Name, id, "", os))
		}
	}
	return result
}

// SummaryByArm returns windowed aggregates grouped by (experiment, arm).
func (t *Tracker) SummaryByArm(experiment string) map[string][]Aggregate {
	outcomes := t.outcomesAfterPrune()

	now := time.Now()
	result := make(map[string][]Aggregate)

	for _, w := range t.windows {
		cutoff := now.Add(-w.Duration)

		byArm := make(map[string][]Outcome)
		for _, o := range outcomes {
			if o.Experiment == experiment && o.Timestamp.After(cutoff) {
				byArm[o.Arm] = append(byArm[o.Arm], o)
			}
		}
		for arm, os := range byArm {
			result[w.Name] = append(result[w.Name], computeAggregate(w.Name, experiment, arm, os))
		}
	}
	return result
}

// Global returns aggregates across all experiments and arms.
func (t *Tracker) Global() []Aggregate {
	outcomes := t.outcomesAfterPrune()

	now := time.Now()
	var result []Aggregate

	for _, w := range t.windows {
		cutoff := now.Add(-w.Duration)
		var os []Outcome
		for _, o := range outcomes {
			if o.Timestamp.After(cutoff) {
				os = append(os, o)
			}
		}
		if len(os) > 0 {
			result = append(result, computeAggregate(w.Name, "", "", os))
		}
	}
	return result
}

// OutcomeCount returns the number of stored windowed snapshots.
func (t *Tracker) OutcomeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.outcomes)
}

func computeAggregate(window, experiment, arm string, os []Outcome) Aggregate {
	a := Aggregate{
		Window:     window,
		Experiment: experiment,
		Arm:        arm,
		Trials:     len(os),
	}
	for _, o := range os {
		if o.Win {
			a.Wins++
		} else {
			a.Losses++
		}
	}
	if a.Trials > 0 {
		a.WinRate = float64(a.Wins) / float64(a.Trials)
	}
	return a
}
