package network

import (
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/engine"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
)

// executeRouter dispatches an incoming Message to the matching router
// forward handler by kind.
func (f *Fabric) executeRouter(eng *engine.Engine, r *Router, msg *Message, now int64) {
	switch msg.Kind {
	case RArrive:
		f.forwardRArrive(eng, r, msg, now)
	case RSend:
		f.forwardRSend(eng, r, msg, now)
	case RBuffer:
		f.forwardRBuffer(r, msg, now)
	default:
		f.fatalf("network: router %d received unhandled message kind %s", r.ID, msg.Kind)
	}
}

func (f *Fabric) reverseRouter(eng *engine.Engine, r *Router, msg *Message, now int64) {
	switch msg.Kind {
	case RArrive, RSend, RBuffer:
		f.routerRCFor(r).Pop()
	default:
		f.fatalf("network: router %d reverse for unhandled message kind %s", r.ID, msg.Kind)
	}
}

// routerJitterRNG returns the router's "r-send" subsystem RNG, shared
// by routerJitter() and every reverse handler that must undo one of
// its draws.
func (f *Fabric) routerJitterRNG(eng *engine.Engine, r *Router) *engine.ReversibleRNG {
	return eng.RNGFor(routerLP(r.ID), "r-send")
}

func (f *Fabric) routerJitter(eng *engine.Engine, r *Router) float64 {
	return engine.JitterSeconds(f.routerJitterRNG(eng, r), eng.Lookahead(), f.Cfg.JitterNoise)
}

// forwardRArrive is spec.md §4.2's R_ARRIVE step: count a hop on the
// last chunk, credit the upstream neighbor (unless it was the attached
// terminal — see forwardGenerate's design note), then self-schedule
// R_SEND to make the next-hop decision.
func (f *Fabric) forwardRArrive(eng *engine.Engine, r *Router, msg *Message, now int64) {
	hopCounted := msg.ChunkID == msg.NumChunks-1
	if hopCounted {
		r.TotalHops++
	}

	creditedTerminal := msg.LastHop == HopTerminal
	if !creditedTerminal {
		upstream := topology.RouterLPID(msg.IntmLPID)
		creditDelay := int64(f.Cfg.CreditDelayBytes / f.Cfg.ChannelBandwidth)
		jitterNS := int64(f.routerJitter(eng, r))
		credit := &Message{Kind: RBuffer, CreditPort: msg.CreditPort, CreditVC: msg.CreditVC}
		f.ScheduleToRouter(upstream, now+creditDelay+jitterNS, credit)
	}

	rSendRNG := eng.RNGFor(routerLP(r.ID), "r-send-self")
	rSendDelay := int64(rSendRNG.Exponential(f.Cfg.MeanNS/200) + eng.Lookahead())
	sendMsg := *msg
	sendMsg.Kind = RSend
	f.ScheduleToRouter(r.ID, now+rSendDelay, &sendMsg)

	f.routerRCFor(r).Push(now, func() {
		if hopCounted {
			r.TotalHops--
		}
		rSendRNG.Reverse()
		if !creditedTerminal {
			f.routerJitterRNG(eng, r).Reverse()
		}
	})
}

// forwardRSend is spec.md §4.2's next-stop decision (R_SEND): compute
// the output port via the routing policy, attempt to reserve its VC,
// and either deliver to the attached terminal, hop to the next router,
// or silently drop-and-retry on overflow (spec.md §9's open-question
// resolution: silent drop with telemetry via Router.DroppedSendAttempts).
func (f *Fabric) forwardRSend(eng *engine.Engine, r *Router, msg *Message, now int64) {
	destRouter := f.Mapping.AttachedRouter(msg.DestTerminal)
	rng := eng.RNGFor(routerLP(r.ID), "adaptive-routing")
	avgLocalQueue := f.averageLocalQueue(r)

	prevIntmGroup := msg.IntmGroupID
	// pickIntermediateGroup's rejection sampling may draw zero, one, or
	// (rarely) several Uniform values; the call-count delta is the exact
	// number the reverse handler must undo, regardless of which branch
	// NextHop took.
	drawsBefore := rng.CallCount()
	port, _ := NextHop(r, destRouter, msg, rng, avgLocalQueue)
	adaptiveDraws := rng.CallCount() - drawsBefore
	msg.SavedIntmGroupID = prevIntmGroup

	const vc = 0
	reachedTerminal := r.ID == destRouter

	if !r.TryReserve(port, vc) {
		r.DroppedSendAttempts++
		msg.Branches.Set(BranchC1)
		retryDelay := int64(f.routerJitter(eng, r))
		retryMsg := *msg
		f.ScheduleToRouter(r.ID, now+retryDelay+1, &retryMsg)
		f.routerRCFor(r).Push(now, func() {
			r.DroppedSendAttempts--
			msg.IntmGroupID = msg.SavedIntmGroupID
			f.routerJitterRNG(eng, r).Reverse()
			for i := 0; i < adaptiveDraws; i++ {
				rng.Reverse()
			}
		})
		return
	}

	sizeBytes := float64(msg.PacketSize)
	bandwidth := f.Cfg.ChannelBandwidth
	transmitNS := int64(sizeBytes / bandwidth)
	transmitRNG := eng.RNGFor(routerLP(r.ID), "transmit-jitter")
	extraJitter := int64(transmitRNG.Exponential(sizeBytes/200 + 1))
	prior := r.OutputAvailableAt(port)
	base := now
	if prior > base {
		base = prior
	}
	availableAt := base + transmitNS + extraJitter
	r.SetOutputAvailable(port, availableAt)
	prevCur, prevPrev, prevStart, rotated := r.RotateHistory(port, vc, now)
	if rotated {
		msg.Branches.Set(BranchC2)
	}

	out := *msg
	out.CreditPort = port
	out.CreditVC = vc
	out.IntmLPID = topology.RouterLPID(r.ID)

	if reachedTerminal {
		out.Kind = TArrive
		f.ScheduleToEndpoint(msg.DestTerminal, availableAt, &out)
	} else {
		out.Kind = RArrive
		switch r.PortClassOf(port) {
		case PortLocal:
			out.LastHop = HopLocal
			f.ScheduleToRouter(r.LocalPortToRouter(port), availableAt, &out)
		default:
			out.LastHop = HopGlobal
			f.ScheduleToRouter(r.GlobalPortToRouter(port), availableAt, &out)
		}
	}

	f.routerRCFor(r).Push(now, func() {
		r.UnreserveForRollback(port, vc)
		r.RestoreOutputAvailable(port, prior)
		r.RestoreHistory(port, vc, prevCur, prevPrev, prevStart)
		msg.IntmGroupID = msg.SavedIntmGroupID
		transmitRNG.Reverse()
		for i := 0; i < adaptiveDraws; i++ {
			rng.Reverse()
		}
	})
}

// averageLocalQueue estimates the router's local-port congestion for
// UGAL scoring (spec.md §4.2 point 4).
func (f *Fabric) averageLocalQueue(r *Router) float64 {
	base := r.Params.NumCN
	n := r.Params.NumRouters - 1
	if n <= 0 {
		return 0
	}
	total := 0
	for p := base; p < base+n; p++ {
		total += r.Occupancy(p, 0)
	}
	return float64(total) / float64(n)
}

// forwardRBuffer applies a credit (spec.md §4.2's "Credits (R_BUFFER /
// T_BUFFER)"): decrement occupancy, VC returns to IDLE.
func (f *Fabric) forwardRBuffer(r *Router, msg *Message, now int64) {
	wasFull := r.State(msg.CreditPort, msg.CreditVC) == VCCredit
	r.Credit(msg.CreditPort, msg.CreditVC)
	f.routerRCFor(r).Push(now, func() {
		r.ReverseCredit(msg.CreditPort, msg.CreditVC, wasFull)
	})
}
