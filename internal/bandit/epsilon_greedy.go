package bandit

// EpsilonGreedy computes the epsilon-greedy arm allocation. Works with
// k-armed bandits (k >= 1).
//
// The policy pulls a best-performing arm with probability 1-epsilon and a
// uniformly random arm with probability epsilon. Ties for best payoff split
// the 1-epsilon exploitation mass evenly. For example, with three arms where
// arm1 and arm2 both have average payoff 0.5, arm3 has payoff 0, and
// epsilon = 0.12: arm1 and arm2 each get (1-0.12)/2 + 0.12/3 = 0.48 and
// arm3 gets 0.12/3 = 0.04.
type EpsilonGreedy struct{}

// Subtype returns the policy's dispatch tag.
func (EpsilonGreedy) Subtype() string { return SubtypeGreedy }

// AllocateArms returns the per-arm allocation for the given history and
// exploration rate. Returns ErrEmptyHistory when the snapshot has no arms.
//
// Epsilon is a caller precondition: values in [0, 1) are meaningful, and the
// policy performs no range check. Winning arms are found by exact equality
// on the computed average payoff; true ties (including multiple unsampled
// arms at payoff 0) are expected and share the exploitation mass.
func (EpsilonGreedy) AllocateArms(hist HistoricalInfo, epsilon float64) (Allocation, error) {
	arms := hist.ArmsSampled
	if len(arms) == 0 {
		return nil, ErrEmptyHistory
	}

	bestPayoff := 0.0
	first := true
	for _, a := range arms {
		if p := a.AvgPayoff(); first || p > bestPayoff {
			bestPayoff = p
			first = false
		}
	}

	numWinning := 0
	for _, a := range arms {
		if a.AvgPayoff() == bestPayoff {
			numWinning++
		}
	}

	// Every arm gets an even share of the exploration mass; winners
	// additionally split the exploitation mass.
	epsilonAllocation := epsilon / float64(hist.NumArms())
	winningAllocation := (1.0 - epsilon) / float64(numWinning)

	alloc := make(Allocation, len(arms))
	for name, a := range arms {
		alloc[name] = epsilonAllocation
		if a.AvgPayoff() == bestPayoff {
			alloc[name] += winningAllocation
		}
	}
	return alloc, nil
}
