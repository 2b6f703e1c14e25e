package engine

import "testing"

// recordingEvent appends its own label to a shared log on Execute, and
// removes it on Reverse, letting tests assert both ordering and that
// rollback exactly undoes forward execution.
type recordingEvent struct {
	ts    int64
	id    uint64
	lp    LPID
	label string
	log   *[]string
}

func (e *recordingEvent) Timestamp() int64    { return e.ts }
func (e *recordingEvent) EventID() uint64     { return e.id }
func (e *recordingEvent) Target() LPID        { return e.lp }
func (e *recordingEvent) Execute(*Engine)     { *e.log = append(*e.log, e.label) }
func (e *recordingEvent) Reverse(*Engine) {
	// Undo by dropping the last occurrence of this label.
	log := *e.log
	for i := len(log) - 1; i >= 0; i-- {
		if log[i] == e.label {
			*e.log = append(log[:i], log[i+1:]...)
			return
		}
	}
}

func TestEngine_RunExecutesInTimestampOrder(t *testing.T) {
	var log []string
	eng := NewEngine(NewSimulationKey(1), 1000, 1.0, Sequential)
	eng.Schedule(&recordingEvent{ts: 30, id: eng.NextEventID(), label: "c", log: &log})
	eng.Schedule(&recordingEvent{ts: 10, id: eng.NextEventID(), label: "a", log: &log})
	eng.Schedule(&recordingEvent{ts: 20, id: eng.NextEventID(), label: "b", log: &log})

	eng.Run()

	want := []string{"a", "b", "c"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestEngine_RunStopsAtHorizon(t *testing.T) {
	var log []string
	eng := NewEngine(NewSimulationKey(1), 50, 1.0, Sequential)
	eng.Schedule(&recordingEvent{ts: 10, id: eng.NextEventID(), label: "in", log: &log})
	eng.Schedule(&recordingEvent{ts: 100, id: eng.NextEventID(), label: "out-of-horizon", log: &log})

	eng.Run()

	if len(log) != 1 || log[0] != "in" {
		t.Errorf("log = %v, want only [\"in\"]", log)
	}
}

func TestEngine_TieBreaksByRegisteredKindPriority(t *testing.T) {
	RegisterPriority("kinded-test-low", 0)
	RegisterPriority("kinded-test-high", 10)

	var log []string
	eng := NewEngine(NewSimulationKey(1), 1000, 1.0, Sequential)
	eng.Schedule(&kindedRecordingEvent{recordingEvent{ts: 5, id: eng.NextEventID(), label: "high", log: &log}, "kinded-test-high"})
	eng.Schedule(&kindedRecordingEvent{recordingEvent{ts: 5, id: eng.NextEventID(), label: "low", log: &log}, "kinded-test-low"})

	eng.Run()

	if len(log) != 2 || log[0] != "low" || log[1] != "high" {
		t.Errorf("log = %v, want [low high] (lower priority executes first at the same timestamp)", log)
	}
}

type kindedRecordingEvent struct {
	recordingEvent
	kind string
}

func (e *kindedRecordingEvent) Kind() string { return e.kind }

func TestEngine_InjectStragglerRollsBackAndReplays(t *testing.T) {
	var log []string
	eng := NewEngine(NewSimulationKey(1), 1000, 1.0, Optimistic)
	eng.Schedule(&recordingEvent{ts: 10, id: eng.NextEventID(), label: "a", log: &log})
	eng.Schedule(&recordingEvent{ts: 20, id: eng.NextEventID(), label: "b", log: &log})
	eng.Run()

	if len(log) != 2 {
		t.Fatalf("log after initial run = %v, want 2 entries", log)
	}

	// A straggler at ts=15 must roll back "b" (committed at ts=20), then
	// replay the straggler followed by "b" again.
	eng.InjectStraggler(&recordingEvent{ts: 15, id: eng.NextEventID(), label: "straggler", log: &log})

	want := []string{"a", "straggler", "b"}
	if len(log) != len(want) {
		t.Fatalf("log after straggler = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q (full log: %v)", i, log[i], want[i], log)
		}
	}
}

func TestEngine_InjectStragglerRequiresOptimisticMode(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic calling InjectStraggler in Sequential mode, got none")
		}
	}()
	eng := NewEngine(NewSimulationKey(1), 1000, 1.0, Sequential)
	eng.InjectStraggler(&recordingEvent{ts: 1, id: eng.NextEventID(), label: "x", log: &[]string{}})
}

func TestEngine_RCStackForCreatesOnePerLP(t *testing.T) {
	eng := NewEngine(NewSimulationKey(1), 1000, 1.0, Sequential)
	a := eng.RCStackFor(LPID(1))
	b := eng.RCStackFor(LPID(1))
	if a != b {
		t.Error("RCStackFor(same LP) returned distinct stacks")
	}
	c := eng.RCStackFor(LPID(2))
	if a == c {
		t.Error("RCStackFor(different LPs) returned the same stack")
	}
}
