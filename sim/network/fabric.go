package network

import (
	"github.com/sirupsen/logrus"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/engine"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/workload"
)

// MaxWaitReqs bounds the number of requests in a single wait-group
// (spec.md §4.1). Exceeding it is a fatal configuration error.
const MaxWaitReqs = 512

// FabricConfig groups the tunables spec.md leaves to deployment
// (timing constants, chunking, delay toggle), following the teacher's
// config-struct style (sim/config.go's *Config groupings).
type FabricConfig struct {
	ChunkSize        int64   // bytes per chunk; stats fire only on the last chunk
	MeanNS           float64 // mean used in R_SEND's Exp(MEAN/200) self-schedule
	JitterNoise      float64 // Exp(noise) parameter for endpoint self-event jitter
	CreditDelayBytes float64 // CREDIT_SIZE for credit_delay = CREDIT_SIZE/bandwidth
	ChannelBandwidth float64 // bytes/ns
	DisableDelay     bool    // spec.md §4.1 delay handling toggle, driven by CLI --disable_compute
}

// DefaultFabricConfig mirrors the scale the source's test topologies
// run at.
func DefaultFabricConfig() FabricConfig {
	return FabricConfig{
		ChunkSize:        65536,
		MeanNS:           200,
		JitterNoise:      10,
		CreditDelayBytes: 512,
		ChannelBandwidth: 1.0,
	}
}

// Fabric owns every LP (endpoints and routers) plus the engine and
// topology mapping they're driven through, and is the receiver for
// every forward/reverse handler. It is the wiring point the host
// engine's event bus would otherwise require — kept inside the core
// because the host engine itself is out of scope (spec.md §1) but the
// core must still be runnable and testable standalone.
type Fabric struct {
	Eng     *engine.Engine
	Mapping *topology.Mapping
	Cfg     FabricConfig

	Routers   map[topology.RouterLPID]*Router
	Endpoints map[topology.EndpointLPID]*Endpoint
}

// NewFabric builds an empty Fabric over the given topology and
// engine. Call AddRouter/AddEndpoint to populate LPs before running.
func NewFabric(eng *engine.Engine, mapping *topology.Mapping, cfg FabricConfig) *Fabric {
	return &Fabric{
		Eng:       eng,
		Mapping:   mapping,
		Cfg:       cfg,
		Routers:   make(map[topology.RouterLPID]*Router),
		Endpoints: make(map[topology.EndpointLPID]*Endpoint),
	}
}

// AddRouter registers a router LP.
func (f *Fabric) AddRouter(r *Router) { f.Routers[r.ID] = r }

// AddEndpoint registers an endpoint LP bound to a workload provider.
func (f *Fabric) AddEndpoint(e *Endpoint) { f.Endpoints[e.LP] = e }

// NewEndpointAndAttach builds an Endpoint for rank driven by provider
// and wires it into the fabric.
func (f *Fabric) NewEndpointAndAttach(rank topology.RankID, provider workload.Provider, appID int) *Endpoint {
	lp := f.Mapping.EndpointLP(rank)
	ep := NewEndpoint(lp, rank, provider, appID)
	f.AddEndpoint(ep)
	return ep
}

func (f *Fabric) warnf(format string, args ...any)   { logrus.Warnf(format, args...) }
func (f *Fabric) debugf(format string, args ...any)  { logrus.Debugf(format, args...) }
func (f *Fabric) fatalf(format string, args ...any)  { logrus.Fatalf(format, args...) }

// routerLPOffset separates router LP ids from endpoint LP ids in the
// engine's single LPID space, since topology.EndpointLPID and
// topology.RouterLPID are distinct Go types but both ultimately small
// non-negative integers — without an offset, router 0 and endpoint 0
// would collide as RC-stack/RNG partition keys.
const routerLPOffset = int64(1) << 40

func endpointLP(lp topology.EndpointLPID) engine.LPID { return engine.LPID(lp) }

func routerLP(r topology.RouterLPID) engine.LPID { return engine.LPID(int64(r) + routerLPOffset) }

// ScheduleToEndpoint enqueues msg for delivery to rank's endpoint LP at
// the given absolute timestamp.
func (f *Fabric) ScheduleToEndpoint(lp topology.EndpointLPID, ts int64, msg *Message) {
	f.Eng.Schedule(&lpEvent{f: f, endpoint: lp, isRouter: false, msg: msg, ts: ts, id: f.Eng.NextEventID()})
}

// ScheduleToRouter enqueues msg for delivery to router r's LP at the
// given absolute timestamp.
func (f *Fabric) ScheduleToRouter(r topology.RouterLPID, ts int64, msg *Message) {
	f.Eng.Schedule(&lpEvent{f: f, router: r, isRouter: true, msg: msg, ts: ts, id: f.Eng.NextEventID()})
}
