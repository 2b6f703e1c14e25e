package engine

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible simulation run. Two
// simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results.
//
// Grounded on sim/rng.go's SimulationKey/PartitionedRNG (teacher),
// extended with an undo stack per draw so that a forward handler's
// rand_uniform/rand_exponential calls can be unwound exactly by the
// matching reverse handler (spec.md §4.3, §5).
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey { return SimulationKey(seed) }

// ReversibleRNG wraps a math/rand generator with a call-count based
// undo mechanism: reversing means re-seeding from the subsystem's
// derived seed and replaying every draw except the last. math/rand
// does not expose generator state, so replay-from-seed is the only
// exact way to "pop" a draw — this is the idiom spec.md §5 asks for
// ("supports reverse() that pops the last draw") without requiring a
// custom PRNG implementation.
type ReversibleRNG struct {
	seed  int64
	rng   *rand.Rand
	calls []call
}

type call struct {
	kind string // "uniform" | "exponential"
	mean float64
}

// NewReversibleRNG seeds a generator deterministically from seed.
func NewReversibleRNG(seed int64) *ReversibleRNG {
	return &ReversibleRNG{seed: seed, rng: rand.New(rand.NewSource(seed))}
}

// Uniform draws a uniform [0,1) value and records the draw.
func (r *ReversibleRNG) Uniform() float64 {
	v := r.rng.Float64()
	r.calls = append(r.calls, call{kind: "uniform"})
	return v
}

// Exponential draws an Exp(mean) value and records the draw.
func (r *ReversibleRNG) Exponential(mean float64) float64 {
	v := mean * r.rng.ExpFloat64()
	r.calls = append(r.calls, call{kind: "exponential", mean: mean})
	return v
}

// Reverse pops the last draw, replaying every prior call from the
// original seed. Panics if there is nothing to reverse: a reverse
// handler calling Reverse with no matching forward draw is an
// unreversible-event bug (spec.md §4.3's central correctness
// invariant).
func (r *ReversibleRNG) Reverse() {
	if len(r.calls) == 0 {
		panic("engine: Reverse called with no outstanding draw")
	}
	r.calls = r.calls[:len(r.calls)-1]
	r.rng = rand.New(rand.NewSource(r.seed))
	for _, c := range r.calls {
		switch c.kind {
		case "uniform":
			r.rng.Float64()
		case "exponential":
			r.rng.ExpFloat64()
		}
	}
}

// CallCount returns the number of outstanding (not-yet-reversed) draws.
// Used by tests asserting PRNG symmetry (spec.md §8).
func (r *ReversibleRNG) CallCount() int { return len(r.calls) }

// PartitionedRNG provides deterministic, isolated reversible RNG
// instances per subsystem (one per LP, keyed by LP id or a named
// subsystem). Grounded on sim/rng.go's PartitionedRNG.ForSubsystem
// derivation formula.
//
// Thread-safety: NOT thread-safe, matching the teacher's documented
// contract — each LP owns its slice of the partition and is driven by
// a single goroutine (spec.md §5).
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*ReversibleRNG
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, subsystems: make(map[string]*ReversibleRNG)}
}

// ForSubsystem returns a deterministically-seeded, reversible RNG for
// the named subsystem (cached on first use). Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *ReversibleRNG {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	seed := int64(p.key) ^ fnv1a64(name)
	rng := NewReversibleRNG(seed)
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey { return p.key }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// JitterSeconds computes an endpoint self-event jitter delay:
// lookahead + 0.1 + Exp(noise), per spec.md §4.1. noise is the fixed
// Exp mean parameter; lookahead is supplied by the host engine.
func JitterSeconds(rng *ReversibleRNG, lookahead, noise float64) float64 {
	if noise <= 0 || math.IsNaN(noise) {
		panic(fmt.Sprintf("engine: invalid jitter noise parameter %v", noise))
	}
	return lookahead + 0.1 + rng.Exponential(noise)
}
