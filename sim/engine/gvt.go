package engine

// GVTTracker reports the commit horizon below which no rollback can
// occur. The real host engine (out of scope per spec.md §1) computes
// this across all MPI ranks; this package only needs a narrow enough
// surface to exercise each LP's RCStack.GC and the rollback-
// equivalence property (spec.md §8 scenario 6) without a real
// multi-rank host.
type GVTTracker interface {
	GVT() int64
}

// SequentialGVT always reports the engine's current clock as the
// commit horizon, matching a single-threaded (non-speculative) run
// where nothing is ever rolled back. Engine does not construct or
// consult a GVTTracker in either mode.
type SequentialGVT struct{ eng *Engine }

func (g SequentialGVT) GVT() int64 { return g.eng.Now() }

// WindowedGVT reports clock minus a fixed optimism window, modeling an
// optimistic-parallel engine that may still roll back events within
// the window. Engine's Optimistic mode does not use it: rollback there
// is driven by InjectStraggler against the engine's own commit log.
type WindowedGVT struct {
	eng    *Engine
	Window int64
}

func (g WindowedGVT) GVT() int64 {
	gvt := g.eng.Now() - g.Window
	if gvt < 0 {
		return 0
	}
	return gvt
}
