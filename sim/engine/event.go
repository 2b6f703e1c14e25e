// Package engine hosts the minimal PDES shim the core LPs run against:
// a deterministic event heap, a reversible per-subsystem RNG, and a
// per-LP deferred-destruction stack. The real host engine (scheduling
// across MPI ranks, GVT computation, the rollback driver) is an
// external collaborator; this package only supplies enough of its
// contract to drive and test the endpoint and router LPs standalone.
package engine

import "container/heap"

// LPID identifies a logical process (an endpoint or a router) within
// the simulation.
type LPID int64

// Event is anything schedulable on the event heap. Handlers never
// suspend; all asynchrony is expressed by scheduling future events.
type Event interface {
	Timestamp() int64
	EventID() uint64
	Target() LPID
	Execute(eng *Engine)
	Reverse(eng *Engine)
}

// eventTypePriority breaks timestamp ties deterministically. Lower
// values execute first at the same timestamp, matching the teacher's
// EventHeap ordering (sim/cluster/event_heap.go: timestamp -> type
// priority -> event id).
var eventTypePriority = map[string]int{}

// RegisterPriority assigns a tie-break priority to an event kind name.
// Call during package init from sim/network so that, e.g., a credit
// event at the same timestamp as a send event orders deterministically.
func RegisterPriority(kind string, priority int) {
	eventTypePriority[kind] = priority
}

// priorityOf returns the tie-break priority for an event's kind, or 0 if
// unregistered.
func priorityOf(kind string) int {
	return eventTypePriority[kind]
}

// KindedEvent is implemented by events that participate in the
// tie-break ordering above.
type KindedEvent interface {
	Kind() string
}

// eventHeap implements container/heap.Interface with deterministic
// ordering: timestamp, then registered kind priority, then event id.
// Grounded on sim/cluster/event_heap.go.
type eventHeap struct {
	events []Event
}

func newEventHeap() *eventHeap {
	h := &eventHeap{events: make([]Event, 0)}
	heap.Init(h)
	return h
}

func (h *eventHeap) Len() int { return len(h.events) }

func (h *eventHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]
	if ei.Timestamp() != ej.Timestamp() {
		return ei.Timestamp() < ej.Timestamp()
	}
	pi, pj := kindPriority(ei), kindPriority(ej)
	if pi != pj {
		return pi < pj
	}
	return ei.EventID() < ej.EventID()
}

func kindPriority(e Event) int {
	if ke, ok := e.(KindedEvent); ok {
		return priorityOf(ke.Kind())
	}
	return 0
}

func (h *eventHeap) Swap(i, j int) { h.events[i], h.events[j] = h.events[j], h.events[i] }

func (h *eventHeap) Push(x any) { h.events = append(h.events, x.(Event)) }

func (h *eventHeap) Pop() any {
	old := h.events
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.events = old[:n-1]
	return item
}

func (h *eventHeap) schedule(e Event) { heap.Push(h, e) }

func (h *eventHeap) popNext() Event {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(Event)
}

func (h *eventHeap) peek() Event {
	if h.Len() == 0 {
		return nil
	}
	return h.events[0]
}
