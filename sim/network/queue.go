package network

import "github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"

// QueueEntry is one unmatched incoming send or one posted receive
// still waiting for a match — the shared element shape of
// arrival_queue and pending_recvs_queue (spec.md §3.1).
type QueueEntry struct {
	SrcRank      topology.RankID
	DstRank      topology.RankID
	Tag          int
	Bytes        int64
	OpKind       OpKind
	ReqID        int64
	ArrivalTime  int64 // sim time the entry was created (arrival or post)
}

// MsgQueue is an index-stable FIFO: RemoveAt returns the removed
// element's original position so the matching reverse handler can
// reinstate it there (spec.md §4.3's "insert at original index" rule),
// and InsertAt puts an element back at a specific index rather than
// only at head or tail.
//
// Grounded on sim/queue.go's WaitQueue (teacher), generalized from
// FIFO-only push/pop to arbitrary-index remove/insert per spec.md §9's
// "arena + index" recommendation. A plain slice is enough here: queue
// depths are bounded by in-flight sends/recvs per rank, not by packet
// volume, so the O(n) shift on RemoveAt/InsertAt is not a hot-path
// concern the way it would be for the packet-level queues in router.go.
type MsgQueue struct {
	entries []QueueEntry
}

// Len returns the number of entries currently queued.
func (q *MsgQueue) Len() int { return len(q.entries) }

// PushTail enqueues e at the tail, returning its index (always
// len-1 at the moment of the call — exposed for symmetry with
// InsertAt/RemoveAt call sites).
func (q *MsgQueue) PushTail(e QueueEntry) int {
	q.entries = append(q.entries, e)
	return len(q.entries) - 1
}

// InsertAt reinstates e at position idx. idx == 0 means head-insert;
// idx >= current length means tail-insert; otherwise e is inserted
// immediately before the element currently at idx. This is the
// reverse-handler counterpart to RemoveAt and must be called with the
// same idx RemoveAt returned for the entry being undone (spec.md
// §4.3).
func (q *MsgQueue) InsertAt(idx int, e QueueEntry) {
	if idx < 0 {
		idx = 0
	}
	if idx >= len(q.entries) {
		q.entries = append(q.entries, e)
		return
	}
	q.entries = append(q.entries, QueueEntry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e
}

// RemoveAt removes and returns the entry at idx along with idx itself
// (returned for call-site symmetry with InsertAt; the caller already
// knows it, and the endpoint's restore closures capture the index
// directly to pass back to InsertAt on undo).
func (q *MsgQueue) RemoveAt(idx int) (QueueEntry, int) {
	e := q.entries[idx]
	q.entries = append(q.entries[:idx:idx], q.entries[idx+1:]...)
	return e, idx
}

// Entries returns the live entries in queue order. Callers must treat
// this as read-only; mutate via RemoveAt/InsertAt/PushTail.
func (q *MsgQueue) Entries() []QueueEntry { return q.entries }

// Wildcard is the spec.md §4.1/GLOSSARY placeholder for "matches any
// tag" / "matches any source" on a posted receive.
const Wildcard = -1

// MatchAgainstArrivals scans arrival_queue (head to tail) for the
// first arrival matching a newly posted receive with (postedSrc,
// postedTag, bytes), where the *posted* side may carry Wildcard.
// Arrivals themselves are always concrete (a send always names a real
// source and tag). First match wins (spec.md §4.1).
//
// Resolves spec.md §9's open question toward exact byte equality
// (recv.bytes == send.bytes), matching original_source's
// match_receive — not the looser >= variant an earlier multi-job
// matcher used instead.
func (q *MsgQueue) MatchAgainstArrivals(postedSrc topology.RankID, postedTag int, bytes int64) (QueueEntry, int, bool) {
	for i, e := range q.entries {
		if e.Bytes != bytes {
			continue
		}
		if matches(postedTag, e.Tag) && matches(int(postedSrc), int(e.SrcRank)) {
			return q.RemoveAt(i)
		}
	}
	return QueueEntry{}, -1, false
}

// MatchAgainstPostedRecvs scans pending_recvs_queue (head to tail) for
// the first posted receive matching an incoming, always-concrete
// arrival (arrivalSrc, arrivalTag, bytes). The *posted* receive entries
// may themselves carry Wildcard in their Tag/SrcRank fields.
func (q *MsgQueue) MatchAgainstPostedRecvs(arrivalSrc topology.RankID, arrivalTag int, bytes int64) (QueueEntry, int, bool) {
	for i, e := range q.entries {
		if e.Bytes != bytes {
			continue
		}
		if matches(e.Tag, arrivalTag) && matches(int(e.SrcRank), int(arrivalSrc)) {
			return q.RemoveAt(i)
		}
	}
	return QueueEntry{}, -1, false
}

// matches reports whether a concrete value satisfies a posted
// selector that may be Wildcard.
func matches(posted, concrete int) bool {
	return posted == Wildcard || posted == concrete
}
