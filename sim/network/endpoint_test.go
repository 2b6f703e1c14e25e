package network

import (
	"testing"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/engine"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/workload"
)

// newTestFabric builds a single-rank Fabric (no routers needed — tests
// drive endpoint handlers directly) over a minimal topology.
func newTestFabric(t *testing.T, ops map[topology.RankID][]workload.Op) (*Fabric, *Endpoint) {
	t.Helper()
	params, err := topology.NewParams(4, 2)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	mapping := topology.NewMapping(params)
	eng := engine.NewEngine(engine.NewSimulationKey(1), int64(1)<<40, 1.0, engine.Sequential)
	f := NewFabric(eng, mapping, DefaultFabricConfig())
	provider := workload.NewInMemoryProvider(ops)
	ep := f.NewEndpointAndAttach(topology.RankID(0), provider, 0)
	return f, ep
}

func TestHandleRecvOp_PostsToPendingRecvsWhenNoArrivalYet(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	op := workload.Recv(true, 1, 7, 64, 1)
	f.handleRecvOp(f.Eng, ep, op, 0, func() {})

	if ep.PendingRecvs.Len() != 1 {
		t.Fatalf("PendingRecvs.Len() = %d, want 1 (no matching arrival posted)", ep.PendingRecvs.Len())
	}
	if ep.NumRecvs != 0 {
		t.Errorf("NumRecvs = %d, want 0 (not yet completed)", ep.NumRecvs)
	}
}

func TestHandleRecvOp_MatchesExistingArrival(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	ep.ArrivalQueue.PushTail(QueueEntry{SrcRank: 1, Tag: 7, Bytes: 64, ArrivalTime: 0})

	op := workload.Recv(true, 1, 7, 64, 2)
	f.handleRecvOp(f.Eng, ep, op, 100, func() {})

	if ep.ArrivalQueue.Len() != 0 {
		t.Errorf("ArrivalQueue.Len() = %d, want 0 (matched and consumed)", ep.ArrivalQueue.Len())
	}
	if ep.NumRecvs != 1 {
		t.Errorf("NumRecvs = %d, want 1", ep.NumRecvs)
	}
	if ep.NumBytesRecvd != 64 {
		t.Errorf("NumBytesRecvd = %d, want 64", ep.NumBytesRecvd)
	}
}

func TestHandleRecvOp_NonBlockingCompletesImmediatelyOnMatch(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	ep.ArrivalQueue.PushTail(QueueEntry{SrcRank: 1, Tag: 0, Bytes: 32, ArrivalTime: 0})

	op := workload.Recv(false, 1, 0, 32, 5)
	f.handleRecvOp(f.Eng, ep, op, 10, func() {})

	if len(ep.CompletedReqs) != 1 || ep.CompletedReqs[0] != 5 {
		t.Errorf("CompletedReqs = %v, want [5]", ep.CompletedReqs)
	}
}

func TestHandleSendOp_BlockingDoesNotCompleteImmediately(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	op := workload.Send(true, 0, 0, 64, 9)
	f.handleSendOp(f.Eng, ep, op, 0, func() {})

	if len(ep.CompletedReqs) != 0 {
		t.Errorf("CompletedReqs = %v, want empty (blocking SEND isn't complete at issue)", ep.CompletedReqs)
	}
	if ep.NumSends != 1 || ep.NumBytesSent != 64 {
		t.Errorf("NumSends=%d NumBytesSent=%d, want 1,64", ep.NumSends, ep.NumBytesSent)
	}
}

func TestHandleSendOp_NonBlockingCompletesAtIssueTime(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	op := workload.Send(false, 0, 0, 64, 9)
	f.handleSendOp(f.Eng, ep, op, 0, func() {})

	if len(ep.CompletedReqs) != 1 || ep.CompletedReqs[0] != 9 {
		t.Errorf("CompletedReqs = %v, want [9] (non-blocking ISEND completes at issue)", ep.CompletedReqs)
	}
}

func TestHandleWaitOp_SatisfiedImmediatelyWhenAlreadyCompleted(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	ep.CompletedReqs = []int64{42}

	f.handleWaitOp(f.Eng, ep, WaitSingle, []int64{42}, 1, 0, func() {})

	if ep.PendingWait != nil {
		t.Error("PendingWait installed even though the request was already completed")
	}
	if ep.NumWaits != 1 {
		t.Errorf("NumWaits = %d, want 1", ep.NumWaits)
	}
	if len(ep.CompletedReqs) != 0 {
		t.Errorf("CompletedReqs = %v, want empty (consumed by the wait)", ep.CompletedReqs)
	}
}

func TestHandleWaitOp_InstallsPendingWaitWhenUnsatisfied(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	f.handleWaitOp(f.Eng, ep, WaitAll, []int64{1, 2}, 2, 0, func() {})

	if ep.PendingWait == nil {
		t.Fatal("expected a PendingWait to be installed")
	}
	if ep.PendingWait.RequiredCount != 2 || ep.PendingWait.CompletedCount != 0 {
		t.Errorf("PendingWait = %+v, want RequiredCount=2 CompletedCount=0", ep.PendingWait)
	}
}

func TestNotifyPendingWait_SatisfiesAndClearsOnceRequiredCountReached(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	ep.PendingWait = &PendingWait{Kind: WaitAll, ReqIDs: []int64{1, 2}, RequiredCount: 2, StartSimTime: 0}

	f.notifyPendingWait(ep, 1, 50)
	if ep.PendingWait == nil {
		t.Fatal("PendingWait cleared too early after only 1/2 completions")
	}
	f.notifyPendingWait(ep, 2, 100)
	if ep.PendingWait != nil {
		t.Error("PendingWait should be cleared once CompletedCount reaches RequiredCount")
	}
	if ep.WaitTime != 100 {
		t.Errorf("WaitTime = %d, want 100 (now - StartSimTime at satisfaction)", ep.WaitTime)
	}
}

func TestHandleDelayOp_AccumulatesComputeTimeUnlessDisabled(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	op := workload.Delay(0.000001) // 1000 ns
	f.handleDelayOp(f.Eng, ep, op, 0, func() {})
	if ep.ComputeTime != 1000 {
		t.Errorf("ComputeTime = %d, want 1000", ep.ComputeTime)
	}

	f2, ep2 := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	f2.Cfg.DisableDelay = true
	f2.handleDelayOp(f2.Eng, ep2, op, 0, func() {})
	if ep2.ComputeTime != 0 {
		t.Errorf("ComputeTime with DisableDelay = %d, want 0", ep2.ComputeTime)
	}
}

func TestForwardSendArrived_MatchesPostedRecv(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	ep.PendingRecvs.PushTail(QueueEntry{SrcRank: 1, Tag: 3, Bytes: 128, OpKind: OpIRecv, ReqID: 77, ArrivalTime: 0})

	msg := &Message{Kind: MPISendArrived, SrcTerminal: topology.EndpointLPID(1), Tag: 3, PacketSize: 128, OpKind: OpISend}
	f.forwardSendArrived(f.Eng, ep, msg, 10)

	if ep.PendingRecvs.Len() != 0 {
		t.Errorf("PendingRecvs.Len() = %d, want 0 (matched)", ep.PendingRecvs.Len())
	}
	if len(ep.CompletedReqs) != 1 || ep.CompletedReqs[0] != 77 {
		t.Errorf("CompletedReqs = %v, want [77] (non-blocking recv completes on match)", ep.CompletedReqs)
	}
}

func TestForwardSendArrived_NoMatchQueuesArrival(t *testing.T) {
	f, ep := newTestFabric(t, map[topology.RankID][]workload.Op{0: {}})
	msg := &Message{Kind: MPISendArrived, SrcTerminal: topology.EndpointLPID(1), Tag: 3, PacketSize: 128}
	f.forwardSendArrived(f.Eng, ep, msg, 10)

	if ep.ArrivalQueue.Len() != 1 {
		t.Errorf("ArrivalQueue.Len() = %d, want 1 (queued, no matching posted recv)", ep.ArrivalQueue.Len())
	}
}
