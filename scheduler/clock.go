package scheduler

import "math/rand"

// Rand is the seedable jitter source the scheduler uses for probe spacing
// and response-aggregation delays (§9: "inject a seedable random source for
// deterministic testing").
type Rand interface {
	Int63n(n int64) int64
}

type goRand struct{ r *rand.Rand }

func (g goRand) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return g.r.Int63n(n)
}

// NewRand builds a Rand seeded deterministically, suitable for both
// production (seed from a time source) and tests (a fixed seed).
func NewRand(seed int64) Rand {
	return goRand{r: rand.New(rand.NewSource(seed))}
}

// jitter returns base+[0,spread) milliseconds.
func jitter(r Rand, base, spread int64) int64 {
	if spread <= 0 {
		return base
	}
	return base + r.Int63n(spread)
}
