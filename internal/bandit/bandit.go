// Package bandit implements multi-armed bandit arm allocation.
//
// The central operation is AllocateArms: given a read-only snapshot of each
// arm's historical win/loss record and a policy-specific hyperparameter, it
// returns a normalized probability distribution over arms. Callers sample
// from that distribution (see ChooseArm) to decide which arm to pull next.
package bandit

import "errors"

// ErrEmptyHistory is returned when a policy is asked to allocate over an
// empty arm set. There is no defined distribution over zero arms, so this is
// a hard validation failure rather than a degenerate result.
var ErrEmptyHistory = errors.New("bandit: no arms sampled")

// DefaultEpsilon is the conventional exploration rate used when neither the
// experiment nor the request specifies one.
const DefaultEpsilon = 0.1

// SubtypeGreedy identifies the epsilon-greedy policy. The subtype tag is
// used for dispatch and logging only; it carries no shared state.
const SubtypeGreedy = "epsilon_greedy"

// Arm is one arm's historical record. Counts are maintained by the outcome
// tracker; the allocation policies treat an Arm as an immutable snapshot.
// By convention Total >= Wins and Total >= Losses, but Total == Wins+Losses
// is not required (trials may resolve to neither outcome).
type Arm struct {
	Wins   int64 `json:"win"`
	Losses int64 `json:"loss"`
	Total  int64 `json:"total"`
}

// AvgPayoff is the arm's point estimate of quality: (wins-losses)/total.
// An arm with zero trials is exactly neutral (payoff 0). That is a policy
// decision, not an approximation: a never-tried arm ties with any arm whose
// realized payoff is zero instead of being favored for exploration.
func (a Arm) AvgPayoff() float64 {
	if a.Total <= 0 {
		return 0
	}
	return float64(a.Wins-a.Losses) / float64(a.Total)
}

// HistoricalInfo is a read-only snapshot of every arm's record for one
// allocation request. Policies never mutate it.
type HistoricalInfo struct {
	ArmsSampled map[string]Arm
}

// NewHistoricalInfo wraps an arm map in a HistoricalInfo snapshot.
func NewHistoricalInfo(arms map[string]Arm) HistoricalInfo {
	return HistoricalInfo{ArmsSampled: arms}
}

// NumArms returns the number of distinct arms in the snapshot.
func (h HistoricalInfo) NumArms() int {
	return len(h.ArmsSampled)
}

// Allocation maps arm name to the probability mass assigned to it. Values
// are non-negative and sum to 1.0 across all arms in the input snapshot.
type Allocation map[string]float64

// Policy is the contract every bandit subtype satisfies. AllocateArms must
// be pure: no side effects, no retained references to the input, safe for
// concurrent use.
type Policy interface {
	Subtype() string
	AllocateArms(hist HistoricalInfo, epsilon float64) (Allocation, error)
}

// policies is the subtype dispatch table. Only epsilon-greedy ships today;
// additional subtypes register here.
var policies = map[string]Policy{
	SubtypeGreedy: EpsilonGreedy{},
}

// ForSubtype returns the policy registered under the given subtype tag.
func ForSubtype(subtype string) (Policy, bool) {
	p, ok := policies[subtype]
	return p, ok
}

// Subtypes returns the registered subtype tags.
func Subtypes() []string {
	out := make([]string, 0, len(policies))
	for s := range policies {
		out = append(out, s)
	}
	return out
}
