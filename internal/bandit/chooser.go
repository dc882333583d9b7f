package bandit

import (
	"math/rand"
	"sort"
)

// ChooseArm samples one arm from an allocation, with probability equal to
// each arm's assigned mass. Iteration is over sorted arm names so that a
// seeded *rand.Rand yields a reproducible choice. A nil rnd uses the shared
// math/rand source.
//
// Returns ErrEmptyHistory when the allocation has no arms.
func ChooseArm(alloc Allocation, rnd *rand.Rand) (string, error) {
	if len(alloc) == 0 {
		return "", ErrEmptyHistory
	}

	names := make([]string, 0, len(alloc))
	for name := range alloc {
		names = append(names, name)
	}
	sort.Strings(names)

	var r float64
	if rnd != nil {
		r = rnd.Float64()
	} else {
		r = rand.Float64()
	}

	cumulative := 0.0
	for _, name := range names {
		cumulative += alloc[name]
		if r < cumulative {
			return name, nil
		}
	}
	// Float round-off can leave the cumulative sum a hair under 1.
	return names[len(names)-1], nil
}
