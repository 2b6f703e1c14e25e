package network

import (
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/engine"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/workload"
)

// WaitKind mirrors the four blocking operations an endpoint's
// pending_wait can be installed for (spec.md §3.1, §4.1).
type WaitKind int

const (
	WaitSingle WaitKind = iota
	WaitAll
	WaitAny
	WaitSome
)

// PendingWait is the single-slot wait-group an endpoint may have live
// at any time (spec.md §3.1's "at most one pending_wait" invariant).
// ReqIDs holds only the still-outstanding request ids; RequiredCount is
// the target CompletedCount must reach to satisfy the wait.
type PendingWait struct {
	Kind           WaitKind
	ReqIDs         []int64
	RequiredCount  int
	CompletedCount int
	StartSimTime   int64
}

// Endpoint is the MPI endpoint LP: one per simulated rank. Grounded on
// spec.md §3.1 and the teacher's per-LP-state-struct convention
// (sim/cluster/instance.go).
type Endpoint struct {
	LP         topology.EndpointLPID
	Rank       topology.RankID
	Provider   workload.Provider
	WorkloadID int
	AppID      int

	ArrivalQueue      MsgQueue
	PendingRecvs      MsgQueue
	CompletedReqs     []int64
	PendingWait       *PendingWait

	StartSimTime int64
	Ended        bool

	NumBytesSent  int64
	NumBytesRecvd int64
	NumSends      int64
	NumRecvs      int64
	NumCols       int64
	NumDelays     int64
	NumWaits      int64
	NumWaitAlls   int64
	NumWaitAnys   int64
	NumWaitSomes  int64

	ElapsedSimTime int64
	ComputeTime    int64
	SendTime       int64
	RecvTime       int64
	WaitTime       int64

	DroppedSendAttempts int64
}

// NewEndpoint constructs an Endpoint for rank, driven by provider.
func NewEndpoint(lp topology.EndpointLPID, rank topology.RankID, provider workload.Provider, appID int) *Endpoint {
	return &Endpoint{LP: lp, Rank: rank, Provider: provider, AppID: appID}
}

func (f *Fabric) rcFor(ep *Endpoint) *engine.RCStack { return f.Eng.RCStackFor(endpointLP(ep.LP)) }

func (f *Fabric) routerRCFor(r *Router) *engine.RCStack { return f.Eng.RCStackFor(routerLP(r.ID)) }

// executeEndpoint dispatches an incoming Message to the matching
// forward handler by kind.
func (f *Fabric) executeEndpoint(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	switch msg.Kind {
	case MPIOpGetNext:
		f.forwardOpGetNext(eng, ep, msg, now)
	case MPISendPosted:
		f.forwardSendPosted(eng, ep, msg, now)
	case MPISendArrived:
		f.forwardSendArrived(eng, ep, msg, now)
	case MPISendArrivedCB:
		f.forwardSendArrivedCB(ep, msg, now)
	case TGenerate:
		f.forwardGenerate(eng, ep, msg, now)
	case TArrive:
		f.forwardTerminalArrive(eng, ep, msg, now)
	default:
		f.fatalf("network: endpoint %d received unhandled message kind %s", ep.LP, msg.Kind)
	}
}

func (f *Fabric) reverseEndpoint(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	switch msg.Kind {
	case MPIOpGetNext, MPISendPosted, MPISendArrived, TGenerate, TArrive:
		f.rcFor(ep).Pop()
	case MPISendArrivedCB:
		f.reverseSendArrivedCB(ep, msg)
	default:
		f.fatalf("network: endpoint %d reverse for unhandled message kind %s", ep.LP, msg.Kind)
	}
}

// jitterRNG returns the endpoint's "jitter" subsystem RNG, shared by
// jitter() and every reverse handler that must undo one of its draws.
func (f *Fabric) jitterRNG(eng *engine.Engine, lp topology.EndpointLPID) *engine.ReversibleRNG {
	return eng.RNGFor(endpointLP(lp), "jitter")
}

// jitter draws the endpoint self-event delay spec.md §4.1 specifies:
// lookahead + 0.1 + Exp(noise). Every call here must have a matching
// rng.Reverse() in the caller's RC-stack restore closure (spec.md
// §4.3's "every rand call on the forward path has exactly one matching
// reverse call").
func (f *Fabric) jitter(eng *engine.Engine, lp topology.EndpointLPID) float64 {
	return engine.JitterSeconds(f.jitterRNG(eng, lp), eng.Lookahead(), f.Cfg.JitterNoise)
}

func (f *Fabric) scheduleGetNext(eng *engine.Engine, ep *Endpoint, now int64) {
	delay := f.jitter(eng, ep.LP)
	f.ScheduleToEndpoint(ep.LP, now+int64(delay), &Message{Kind: MPIOpGetNext})
}

// forwardOpGetNext pulls one op from the workload and dispatches it,
// per spec.md §4.1's main loop. Every op-kind branch pushes exactly one
// combined RC-stack entry (provider rewind plus whatever state the
// branch mutated) so the matching reverse handler can undo the whole
// turn with a single Pop.
func (f *Fabric) forwardOpGetNext(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	if ep.Ended {
		f.rcFor(ep).Push(now, func() {})
		return
	}
	op, err := ep.Provider.NextOp(ep.WorkloadID, ep.AppID, ep.Rank)
	if err != nil {
		f.fatalf("network: rank %d: %v", ep.Rank, err)
		return
	}

	undoProvider := func() { _ = ep.Provider.NextOpRC(ep.WorkloadID, ep.AppID, ep.Rank) }

	switch op.Code {
	case workload.OpSend, workload.OpISend:
		f.handleSendOp(eng, ep, op, now, undoProvider)
	case workload.OpRecv, workload.OpIRecv:
		f.handleRecvOp(eng, ep, op, now, undoProvider)
	case workload.OpWait:
		f.handleWaitOp(eng, ep, WaitSingle, op.ReqIDs, 1, now, undoProvider)
	case workload.OpWaitAll:
		f.handleWaitOp(eng, ep, WaitAll, op.ReqIDs, len(op.ReqIDs), now, undoProvider)
	case workload.OpWaitAny:
		f.handleWaitOp(eng, ep, WaitAny, op.ReqIDs, 1, now, undoProvider)
	case workload.OpWaitSome:
		f.handleWaitOp(eng, ep, WaitSome, op.ReqIDs, op.RequiredCount, now, undoProvider)
	case workload.OpDelay:
		f.handleDelayOp(eng, ep, op, now, undoProvider)
	case workload.OpCollective:
		ep.NumCols++
		f.rcFor(ep).Push(now, func() { ep.NumCols--; f.jitterRNG(eng, ep.LP).Reverse(); undoProvider() })
		f.scheduleGetNext(eng, ep, now)
	case workload.OpEnd:
		ep.Ended = true
		ep.ElapsedSimTime = now - ep.StartSimTime
		f.rcFor(ep).Push(now, func() { ep.Ended = false; ep.ElapsedSimTime = 0; undoProvider() })
	default:
		f.fatalf("network: rank %d: unrecognized op code %v", ep.Rank, op.Code)
	}
}

func (f *Fabric) handleSendOp(eng *engine.Engine, ep *Endpoint, op workload.Op, now int64, undoProvider func()) {
	blocking := op.Code == workload.OpSend
	destLP := f.Mapping.EndpointLP(op.Dst)

	opKind := OpISend
	if blocking {
		opKind = OpSend
	}
	msg := &Message{
		Kind:         TGenerate,
		SrcTerminal:  ep.LP,
		DestTerminal: destLP,
		PacketID:     NewPacketID(),
		PacketSize:   op.Bytes,
		Tag:          op.Tag,
		OpKind:       opKind,
		ReqID:        op.ReqID,
		PathType:     Minimal,
		IntmGroupID:  -1,
		SavedSendTime: now,
	}
	f.ScheduleToEndpoint(ep.LP, now, msg)

	ep.NumSends++
	ep.NumBytesSent += op.Bytes
	completedNow := false
	if !blocking {
		ep.CompletedReqs = append(ep.CompletedReqs, op.ReqID)
		completedNow = true
	}
	f.rcFor(ep).Push(now, func() {
		if completedNow {
			ep.CompletedReqs = ep.CompletedReqs[:len(ep.CompletedReqs)-1]
		}
		ep.NumBytesSent -= op.Bytes
		ep.NumSends--
		if !blocking {
			f.jitterRNG(eng, ep.LP).Reverse()
		}
		undoProvider()
	})

	if blocking {
		// Wait for the local MPI_SEND_POSTED echo (scheduled from
		// forwardGenerate) before advancing; do not schedule GET_NEXT here.
		return
	}
	if completedNow {
		f.notifyPendingWait(ep, op.ReqID, now)
	}
	f.scheduleGetNext(eng, ep, now)
}

func (f *Fabric) handleRecvOp(eng *engine.Engine, ep *Endpoint, op workload.Op, now int64, undoProvider func()) {
	blocking := op.Code == workload.OpRecv
	opKind := OpIRecv
	if blocking {
		opKind = OpRecv
	}

	matched, idx, ok := ep.ArrivalQueue.MatchAgainstArrivals(op.Src, op.Tag, op.Bytes)
	if ok {
		ep.RecvTime += now - matched.ArrivalTime
		ep.NumRecvs++
		ep.NumBytesRecvd += op.Bytes
		completedNow := !blocking
		if completedNow {
			ep.CompletedReqs = append(ep.CompletedReqs, op.ReqID)
		}
		f.rcFor(ep).Push(now, func() {
			if completedNow {
				ep.CompletedReqs = ep.CompletedReqs[:len(ep.CompletedReqs)-1]
			}
			ep.NumBytesRecvd -= op.Bytes
			ep.NumRecvs--
			ep.RecvTime -= now - matched.ArrivalTime
			ep.ArrivalQueue.InsertAt(idx, matched)
			f.jitterRNG(eng, ep.LP).Reverse()
			undoProvider()
		})
		if completedNow {
			f.notifyPendingWait(ep, op.ReqID, now)
		}
		f.scheduleGetNext(eng, ep, now)
		return
	}

	entry := QueueEntry{SrcRank: op.Src, DstRank: ep.Rank, Tag: op.Tag, Bytes: op.Bytes, OpKind: opKind, ReqID: op.ReqID, ArrivalTime: now}
	ep.PendingRecvs.PushTail(entry)
	f.rcFor(ep).Push(now, func() {
		ep.PendingRecvs.entries = ep.PendingRecvs.entries[:len(ep.PendingRecvs.entries)-1]
		if !blocking {
			f.jitterRNG(eng, ep.LP).Reverse()
		}
		undoProvider()
	})
	if !blocking {
		f.scheduleGetNext(eng, ep, now)
	}
	// Blocking RECV installs no follow-up event: the endpoint stays
	// quiescent until a matching MPI_SEND_ARRIVED resumes it.
}

// handleWaitOp implements every wait op as genuinely blocking,
// resolving spec.md §9's WAITANY/WAITSOME open question toward the
// "correct model" it describes rather than the source's non-blocking
// shortcut: a WAITANY/WAITSOME that isn't already satisfied installs a
// pending_wait and stalls the endpoint exactly like WAIT/WAITALL do.
func (f *Fabric) handleWaitOp(eng *engine.Engine, ep *Endpoint, kind WaitKind, reqIDs []int64, required int, now int64, undoProvider func()) {
	if len(reqIDs) >= MaxWaitReqs {
		f.fatalf("network: rank %d: wait over %d requests exceeds MaxWaitReqs", ep.Rank, len(reqIDs))
		return
	}
	if ep.PendingWait != nil {
		f.fatalf("network: rank %d: pending_wait already installed", ep.Rank)
		return
	}

	remaining := make([]int64, 0, len(reqIDs))
	removed := make([]int64, 0, len(reqIDs))
	completed := 0
	for _, id := range reqIDs {
		if removeCompleted(ep, id) {
			completed++
			removed = append(removed, id)
		} else {
			remaining = append(remaining, id)
		}
	}

	if completed >= required {
		f.rcFor(ep).Push(now, func() {
			bumpWaitCounter(ep, kind, -1)
			ep.CompletedReqs = append(ep.CompletedReqs, removed...)
			f.jitterRNG(eng, ep.LP).Reverse()
			undoProvider()
		})
		bumpWaitCounter(ep, kind, 1)
		f.scheduleGetNext(eng, ep, now)
		return
	}

	ep.PendingWait = &PendingWait{Kind: kind, ReqIDs: remaining, RequiredCount: required, CompletedCount: completed, StartSimTime: now}
	bumpWaitCounter(ep, kind, 1)
	f.rcFor(ep).Push(now, func() {
		bumpWaitCounter(ep, kind, -1)
		ep.CompletedReqs = append(ep.CompletedReqs, removed...)
		ep.PendingWait = nil
		undoProvider()
	})
}

func bumpWaitCounter(ep *Endpoint, kind WaitKind, delta int64) {
	switch kind {
	case WaitSingle:
		ep.NumWaits += delta
	case WaitAll:
		ep.NumWaitAlls += delta
	case WaitAny:
		ep.NumWaitAnys += delta
	case WaitSome:
		ep.NumWaitSomes += delta
	}
}

func removeCompleted(ep *Endpoint, reqID int64) bool {
	for i, id := range ep.CompletedReqs {
		if id == reqID {
			ep.CompletedReqs = append(ep.CompletedReqs[:i:i], ep.CompletedReqs[i+1:]...)
			return true
		}
	}
	return false
}

// notifyPendingWait applies one completion to the live wait-group, if
// any, satisfying and clearing it once CompletedCount reaches
// RequiredCount (spec.md §4.1's notify_pending_wait).
func (f *Fabric) notifyPendingWait(ep *Endpoint, reqID int64, now int64) {
	w := ep.PendingWait
	if w == nil {
		return
	}
	for i, id := range w.ReqIDs {
		if id == reqID {
			w.ReqIDs = append(w.ReqIDs[:i:i], w.ReqIDs[i+1:]...)
			w.CompletedCount++
			break
		}
	}
	if w.CompletedCount >= w.RequiredCount {
		ep.WaitTime += now - w.StartSimTime
		ep.PendingWait = nil
	}
}

func (f *Fabric) handleDelayOp(eng *engine.Engine, ep *Endpoint, op workload.Op, now int64, undoProvider func()) {
	ep.NumDelays++
	delayNS := int64(0)
	if !f.Cfg.DisableDelay {
		delayNS = secToNS(op.DelaySeconds)
		ep.ComputeTime += delayNS
	}
	f.rcFor(ep).Push(now, func() {
		ep.ComputeTime -= delayNS
		ep.NumDelays--
		f.jitterRNG(eng, ep.LP).Reverse()
		undoProvider()
	})
	jitterDelay := int64(f.jitter(eng, ep.LP))
	f.ScheduleToEndpoint(ep.LP, now+delayNS+jitterDelay, &Message{Kind: MPIOpGetNext})
}

func secToNS(seconds float64) int64 { return int64(seconds * 1e9) }

// forwardSendPosted is the local echo a blocking SEND waits on before
// advancing (spec.md §4.1).
func (f *Fabric) forwardSendPosted(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	f.rcFor(ep).Push(now, func() { f.jitterRNG(eng, ep.LP).Reverse() })
	f.scheduleGetNext(eng, ep, now)
}

// forwardGenerate splits a send into chunks and injects each directly
// onto the attached router as R_ARRIVE, modeling "endpoint.packet_send
// -> router.receive" (spec.md §2's data-flow diagram) as a single
// uncredited hop: terminal-to-first-router injection carries no VC
// accounting in this implementation, since spec.md §3.1 assigns no VC
// fields to EndpointState — only RouterState (§3.2) tracks them.
func (f *Fabric) forwardGenerate(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	router := f.Mapping.AttachedRouter(ep.LP)
	chunkSize := f.Cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = msg.PacketSize
	}
	numChunks := 1
	if msg.PacketSize > 0 && chunkSize > 0 {
		numChunks = int((msg.PacketSize + chunkSize - 1) / chunkSize)
		if numChunks == 0 {
			numChunks = 1
		}
	}

	remaining := msg.PacketSize
	for i := 0; i < numChunks; i++ {
		size := chunkSize
		if remaining < size || i == numChunks-1 {
			size = remaining
		}
		remaining -= size
		chunk := *msg
		chunk.Kind = RArrive
		chunk.ChunkID = i
		chunk.NumChunks = numChunks
		chunk.PacketSize = size
		chunk.LastHop = HopTerminal
		chunk.SenderLP = ep.LP
		f.ScheduleToRouter(router, now, &chunk)
	}

	if msg.OpKind == OpSend {
		// Blocking SEND's MPI_SEND_POSTED local echo fires once the
		// packet has been fully handed to the network.
		f.ScheduleToEndpoint(ep.LP, now, &Message{Kind: MPISendPosted, SavedSendTime: msg.SavedSendTime})
	}

	f.rcFor(ep).Push(now, func() {})
}

// forwardTerminalArrive is T_ARRIVE: a chunk has reached its
// destination terminal. Bytes are counted on every chunk (so the
// sent/received parity invariant holds even mid-transfer); full MPI
// send-arrived matching only runs on the last chunk. Every chunk also
// credits back the delivering router's (CreditPort, CreditVC), the
// T_BUFFER role spec.md §4.2 assigns the router-to-destination-terminal
// hop: forwardRSend's reachedTerminal branch reserves that VC per
// chunk (the same TryReserve/credit-back pipeline every other hop
// gets), so the terminal must release it per chunk too, or the VC
// never returns to IDLE and the port livelocks once DefaultBufferSizes
// is exhausted. Exactly one RC-stack entry is pushed per event,
// matching reverseEndpoint's single Pop() for this Kind.
func (f *Fabric) forwardTerminalArrive(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	ep.NumBytesRecvd += msg.PacketSize
	undoBytes := func() { ep.NumBytesRecvd -= msg.PacketSize }

	upstream := topology.RouterLPID(msg.IntmLPID)
	router := f.Routers[upstream]
	creditDelay := int64(f.Cfg.CreditDelayBytes / f.Cfg.ChannelBandwidth)
	jitterNS := int64(f.routerJitter(eng, router))
	credit := &Message{Kind: RBuffer, CreditPort: msg.CreditPort, CreditVC: msg.CreditVC}
	f.ScheduleToRouter(upstream, now+creditDelay+jitterNS, credit)
	undoCredit := func() { f.routerJitterRNG(eng, router).Reverse() }

	if msg.ChunkID != msg.NumChunks-1 {
		f.rcFor(ep).Push(now, func() { undoCredit(); undoBytes() })
		return
	}

	undoMatch := f.forwardSendArrivedFromMsg(eng, ep, msg, now)
	f.rcFor(ep).Push(now, func() { undoMatch(); undoCredit(); undoBytes() })
}

// forwardSendArrived handles an MPI_SEND_ARRIVED message delivered
// directly (used by tests driving the endpoint layer without routing
// through a full chunked T_ARRIVE). Exactly one RC-stack entry is
// pushed per event, matching reverseEndpoint's single Pop() for this
// Kind.
func (f *Fabric) forwardSendArrived(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) {
	undoMatch := f.forwardSendArrivedFromMsg(eng, ep, msg, now)
	f.rcFor(ep).Push(now, undoMatch)
}

// forwardSendArrivedFromMsg implements spec.md §4.1's "Arrival of send"
// rule: match against pending_recvs_queue, always callback the sender.
// Returns the undo closure for the structural change it made; callers
// combine it with their own Kind's RC-stack entry rather than pushing
// it here, since both call sites dispatch on a single Message Kind that
// reverseEndpoint only pops once.
func (f *Fabric) forwardSendArrivedFromMsg(eng *engine.Engine, ep *Endpoint, msg *Message, now int64) func() {
	srcRank := f.Mapping.RankOfEndpoint(msg.SrcTerminal)
	matched, idx, ok := ep.PendingRecvs.MatchAgainstPostedRecvs(srcRank, msg.Tag, msg.PacketSize)

	var undo func()
	if ok {
		ep.RecvTime += now - matched.ArrivalTime
		ep.NumRecvs++
		resumeBlocked := matched.OpKind == OpRecv
		if !resumeBlocked {
			ep.CompletedReqs = append(ep.CompletedReqs, matched.ReqID)
		}
		undo = func() {
			if !resumeBlocked {
				ep.CompletedReqs = ep.CompletedReqs[:len(ep.CompletedReqs)-1]
			}
			ep.NumRecvs--
			ep.RecvTime -= now - matched.ArrivalTime
			ep.PendingRecvs.InsertAt(idx, matched)
			if resumeBlocked {
				f.jitterRNG(eng, ep.LP).Reverse()
			}
		}
		if resumeBlocked {
			f.scheduleGetNext(eng, ep, now)
		} else {
			f.notifyPendingWait(ep, matched.ReqID, now)
		}
	} else {
		entry := QueueEntry{SrcRank: srcRank, DstRank: ep.Rank, Tag: msg.Tag, Bytes: msg.PacketSize, OpKind: msg.OpKind, ReqID: msg.ReqID, ArrivalTime: now}
		ep.ArrivalQueue.PushTail(entry)
		undo = func() {
			ep.ArrivalQueue.entries = ep.ArrivalQueue.entries[:len(ep.ArrivalQueue.entries)-1]
		}
	}

	cb := &Message{Kind: MPISendArrivedCB, SavedSendTime: msg.SavedSendTime}
	f.ScheduleToEndpoint(msg.SrcTerminal, now, cb)
	return undo
}

// forwardSendArrivedCB accumulates send_time at the original sender
// once its packet has been observed arriving (spec.md §4.1).
func (f *Fabric) forwardSendArrivedCB(ep *Endpoint, msg *Message, now int64) {
	elapsed := now - msg.SavedSendTime
	ep.SendTime += elapsed
	f.rcFor(ep).Push(now, func() { ep.SendTime -= elapsed })
}

func (f *Fabric) reverseSendArrivedCB(ep *Endpoint, msg *Message) {
	f.rcFor(ep).Pop()
}
