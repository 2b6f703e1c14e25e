package engine

import "fmt"

// Mode selects how Engine drives the event loop. Sequential never
// rolls back; Optimistic additionally supports InjectStraggler for
// exercising the reverse-computation discipline (spec.md §5, §8
// scenario 6) without a real multi-rank PDES host.
type Mode int

const (
	Sequential Mode = iota
	Optimistic
)

// Engine is the minimal host-PDES shim the core LPs are driven by.
// Grounded on sim/cluster/simulator.go's Run loop (pop -> advance
// clock with a monotonicity check -> Execute) generalized with a
// straggler/rollback path for Optimistic mode, plus the
// Schedule/Now/Lookahead/rand_* surface spec.md §6 names as an
// external collaborator interface.
type Engine struct {
	heap      *eventHeap
	clock     int64
	horizon   int64
	lookahead float64
	mode      Mode

	rng       *PartitionedRNG
	rcStacks  map[LPID]*RCStack
	committed []Event // in execution order, for Optimistic rollback

	nextEventID uint64
}

// NewEngine creates an Engine with the given horizon (inclusive upper
// bound on processed event timestamps) and lookahead.
func NewEngine(key SimulationKey, horizon int64, lookahead float64, mode Mode) *Engine {
	return &Engine{
		heap:      newEventHeap(),
		horizon:   horizon,
		lookahead: lookahead,
		mode:      mode,
		rng:       NewPartitionedRNG(key),
		rcStacks:  make(map[LPID]*RCStack),
	}
}

// Now returns the engine's current simulated time.
func (e *Engine) Now() int64 { return e.clock }

// Lookahead returns the minimum delay a handler must use when
// scheduling a cross-LP event, per spec.md §6.
func (e *Engine) Lookahead() float64 { return e.lookahead }

// Horizon returns the simulation horizon.
func (e *Engine) Horizon() int64 { return e.horizon }

// nextID allocates a monotonically increasing event id, used as the
// deterministic tie-breaker in the event heap (spec.md §8's identical-
// output-across-runs property depends on this being assigned the same
// way on every run of the same workload).
func (e *Engine) nextID() uint64 {
	e.nextEventID++
	return e.nextEventID
}

// NextEventID exposes the allocator to sim/network constructors that
// build events outside the engine package.
func (e *Engine) NextEventID() uint64 { return e.nextID() }

// Schedule enqueues an event for future execution.
func (e *Engine) Schedule(ev Event) { e.heap.schedule(ev) }

// RCStackFor returns (creating if necessary) the per-LP deferred-
// destruction stack for lp.
func (e *Engine) RCStackFor(lp LPID) *RCStack {
	s, ok := e.rcStacks[lp]
	if !ok {
		s = &RCStack{}
		e.rcStacks[lp] = s
	}
	return s
}

// RNGFor returns the reversible RNG for the given LP's named
// subsystem (e.g. "jitter", "adaptive-routing").
func (e *Engine) RNGFor(lp LPID, subsystem string) *ReversibleRNG {
	return e.rng.ForSubsystem(fmt.Sprintf("%d/%s", lp, subsystem))
}

// Run drains the event heap until it is empty or the horizon is
// passed, executing events in (timestamp, kind-priority, id) order.
// In Optimistic mode every executed event is retained in commit order
// so a later InjectStraggler can roll back and replay.
func (e *Engine) Run() {
	for {
		ev := e.heap.peek()
		if ev == nil || ev.Timestamp() > e.horizon {
			return
		}
		e.heap.popNext()
		e.advanceAndExecute(ev)
	}
}

func (e *Engine) advanceAndExecute(ev Event) {
	if ev.Timestamp() < e.clock {
		panic(fmt.Sprintf("engine: clock went backwards: %d < %d", ev.Timestamp(), e.clock))
	}
	e.clock = ev.Timestamp()
	ev.Execute(e)
	if e.mode == Optimistic {
		e.committed = append(e.committed, ev)
	}
}

// InjectStraggler delivers a late event whose timestamp is less than
// or equal to the timestamp of some already-committed event. Every
// committed event with a strictly greater timestamp is rolled back (in
// reverse commit order, calling Reverse), the straggler and the rolled-
// back events are rescheduled, and Run resumes. This is the minimal
// rollback path needed to exercise spec.md §8 scenario 6
// (rollback equivalence) — the full optimistic scheduler, GVT
// computation, and anti-message cancellation protocol belong to the
// host engine and are out of scope (spec.md §1).
func (e *Engine) InjectStraggler(ev Event) {
	if e.mode != Optimistic {
		panic("engine: InjectStraggler requires Optimistic mode")
	}
	cut := len(e.committed)
	for cut > 0 && e.committed[cut-1].Timestamp() > ev.Timestamp() {
		cut--
	}
	toReplay := append([]Event(nil), e.committed[cut:]...)
	for i := len(toReplay) - 1; i >= 0; i-- {
		toReplay[i].Reverse(e)
	}
	e.committed = e.committed[:cut]
	e.clock = 0
	if cut > 0 {
		e.clock = e.committed[cut-1].Timestamp()
	}

	e.heap.schedule(ev)
	for _, r := range toReplay {
		e.heap.schedule(r)
	}
	e.Run()
}
