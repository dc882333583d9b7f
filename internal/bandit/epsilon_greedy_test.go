package bandit

import (
	"errors"
	"math"
	"testing"
)

const tolerance = 1e-9

func allocate(t *testing.T, arms map[string]Arm, epsilon float64) Allocation {
	t.Helper()
	alloc, err := EpsilonGreedy{}.AllocateArms(NewHistoricalInfo(arms), epsilon)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return alloc
}

func TestAllocateArmsEmptyHistory(t *testing.T) {
	_, err := EpsilonGreedy{}.AllocateArms(NewHistoricalInfo(nil), 0.1)
	if !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory, got %v", err)
	}

	_, err = EpsilonGreedy{}.AllocateArms(NewHistoricalInfo(map[string]Arm{}), 0.1)
	if !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("expected ErrEmptyHistory for empty map, got %v", err)
	}
}

func TestAllocateArmsSingleArm(t *testing.T) {
	// The sole arm is trivially the sole winner: epsilon/1 + (1-epsilon)/1 = 1.
	for _, epsilon := range []float64{0, 0.1, 0.5, 0.99} {
		alloc := allocate(t, map[string]Arm{"only": {Wins: 2, Losses: 1, Total: 5}}, epsilon)
		if len(alloc) != 1 {
			t.Fatalf("epsilon=%v: expected 1 entry, got %d", epsilon, len(alloc))
		}
		if math.Abs(alloc["only"]-1.0) > tolerance {
			t.Errorf("epsilon=%v: expected 1.0, got %v", epsilon, alloc["only"])
		}
	}
}

func TestAllocateArmsDocumentedTieSplit(t *testing.T) {
	// Two arms at payoff 0.5 split 1-epsilon; the unsampled arm gets only
	// the epsilon/3 exploration share.
	alloc := allocate(t, map[string]Arm{
		"arm1": {Wins: 5, Losses: 0, Total: 10},
		"arm2": {Wins: 5, Losses: 0, Total: 10},
		"arm3": {},
	}, 0.12)

	want := map[string]float64{"arm1": 0.48, "arm2": 0.48, "arm3": 0.04}
	for name, w := range want {
		if math.Abs(alloc[name]-w) > tolerance {
			t.Errorf("%s: expected %v, got %v", name, w, alloc[name])
		}
	}
}

func TestAllocateArmsAllTied(t *testing.T) {
	// Every arm unsampled: all tie at payoff 0, so baseline plus split
	// exploitation collapses to a uniform 1/numArms.
	arms := map[string]Arm{"a": {}, "b": {}, "c": {}, "d": {}}
	alloc := allocate(t, arms, 0.3)
	for name := range arms {
		if math.Abs(alloc[name]-0.25) > tolerance {
			t.Errorf("%s: expected 0.25, got %v", name, alloc[name])
		}
	}
}

func TestAllocateArmsZeroEpsilon(t *testing.T) {
	alloc := allocate(t, map[string]Arm{
		"good": {Wins: 9, Losses: 1, Total: 10},
		"bad":  {Wins: 1, Losses: 9, Total: 10},
	}, 0)
	if math.Abs(alloc["good"]-1.0) > tolerance {
		t.Errorf("expected winner to receive full mass, got %v", alloc["good"])
	}
	if alloc["bad"] != 0 {
		t.Errorf("expected loser to receive exactly 0, got %v", alloc["bad"])
	}
}

func TestAllocateArmsNormalizationAndCoverage(t *testing.T) {
	cases := []struct {
		name    string
		arms    map[string]Arm
		epsilon float64
	}{
		{"mixed", map[string]Arm{
			"a": {Wins: 3, Losses: 7, Total: 10},
			"b": {Wins: 8, Losses: 2, Total: 10},
			"c": {Wins: 1, Losses: 0, Total: 2},
			"d": {},
		}, 0.1},
		{"negative_payoffs", map[string]Arm{
			"x": {Wins: 0, Losses: 10, Total: 10},
			"y": {Wins: 1, Losses: 9, Total: 10},
		}, 0.25},
		{"high_epsilon", map[string]Arm{
			"p": {Wins: 5, Losses: 5, Total: 10},
			"q": {Wins: 6, Losses: 4, Total: 10},
			"r": {Wins: 4, Losses: 6, Total: 10},
		}, 0.9},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alloc := allocate(t, tc.arms, tc.epsilon)

			if len(alloc) != len(tc.arms) {
				t.Fatalf("expected %d entries, got %d", len(tc.arms), len(alloc))
			}
			sum := 0.0
			for name, v := range alloc {
				if _, ok := tc.arms[name]; !ok {
					t.Errorf("unexpected arm %q in result", name)
				}
				if v < 0 {
					t.Errorf("%s: negative allocation %v", name, v)
				}
				sum += v
			}
			if math.Abs(sum-1.0) > tolerance {
				t.Errorf("allocations sum to %v, want 1.0", sum)
			}
		})
	}
}

func TestAllocateArmsUnsampledTiesWithZeroPayoff(t *testing.T) {
	// A never-tried arm ties exactly with an arm whose realized payoff is
	// zero; both share the exploitation mass.
	alloc := allocate(t, map[string]Arm{
		"realized_zero": {Wins: 5, Losses: 5, Total: 10},
		"untried":       {},
		"loser":         {Wins: 0, Losses: 4, Total: 4},
	}, 0.12)

	if math.Abs(alloc["realized_zero"]-alloc["untried"]) > tolerance {
		t.Errorf("expected tie between realized-zero and untried arms: %v vs %v",
			alloc["realized_zero"], alloc["untried"])
	}
	if math.Abs(alloc["loser"]-0.04) > tolerance {
		t.Errorf("expected losing arm to get epsilon/3 = 0.04, got %v", alloc["loser"])
	}
}

func TestAllocateArmsExactRatioTieAcrossDifferentTotals(t *testing.T) {
	// 2/4 and 5/10 produce the identical float ratio 0.5; exact-equality tie
	// detection treats them as joint winners.
	alloc := allocate(t, map[string]Arm{
		"small": {Wins: 3, Losses: 1, Total: 4},  // (3-1)/4 = 0.5
		"large": {Wins: 10, Losses: 5, Total: 10}, // (10-5)/10 = 0.5
		"other": {Wins: 1, Losses: 1, Total: 10},
	}, 0.12)

	if math.Abs(alloc["small"]-0.48) > tolerance || math.Abs(alloc["large"]-0.48) > tolerance {
		t.Errorf("expected 0.48 for both tied winners, got small=%v large=%v",
			alloc["small"], alloc["large"])
	}
}

func TestAllocateArmsDeterministic(t *testing.T) {
	arms := map[string]Arm{
		"a": {Wins: 2, Losses: 1, Total: 3},
		"b": {Wins: 4, Losses: 4, Total: 9},
		"c": {},
	}
	first := allocate(t, arms, 0.2)
	for i := 0; i < 10; i++ {
		again := allocate(t, arms, 0.2)
		for name := range first {
			if first[name] != again[name] {
				t.Fatalf("run %d: allocation for %s changed: %v vs %v", i, name, first[name], again[name])
			}
		}
	}
}

func TestAllocateArmsDoesNotMutateInput(t *testing.T) {
	arms := map[string]Arm{
		"a": {Wins: 2, Losses: 1, Total: 3},
		"b": {Wins: 1, Losses: 2, Total: 3},
	}
	before := map[string]Arm{}
	for k, v := range arms {
		before[k] = v
	}

	if _, err := (EpsilonGreedy{}).AllocateArms(NewHistoricalInfo(arms), 0.1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for k, v := range before {
		if arms[k] != v {
			t.Errorf("input arm %s mutated: %+v vs %+v", k, arms[k], v)
		}
	}
}

func TestAvgPayoff(t *testing.T) {
	tests := []struct {
		arm  Arm
		want float64
	}{
		{Arm{}, 0},
		{Arm{Wins: 5, Losses: 0, Total: 10}, 0.5},
		{Arm{Wins: 0, Losses: 5, Total: 10}, -0.5},
		{Arm{Wins: 5, Losses: 5, Total: 10}, 0},
		{Arm{Wins: 3, Losses: 0, Total: 3}, 1},
	}
	for _, tc := range tests {
		if got := tc.arm.AvgPayoff(); got != tc.want {
			t.Errorf("AvgPayoff(%+v) = %v, want %v", tc.arm, got, tc.want)
		}
	}
}

func TestForSubtype(t *testing.T) {
	p, ok := ForSubtype(SubtypeGreedy)
	if !ok {
		t.Fatal("expected epsilon_greedy policy to be registered")
	}
	if p.Subtype() != SubtypeGreedy {
		t.Errorf("expected subtype %q, got %q", SubtypeGreedy, p.Subtype())
	}

	if _, ok := ForSubtype("ucb1"); ok {
		t.Error("expected unknown subtype to be unregistered")
	}
}
