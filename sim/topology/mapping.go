package topology

// RankID identifies a simulated MPI rank. Distinct type, not an alias,
// to prevent accidental mixing with router/LP ids — following the
// teacher's InstanceID pattern (sim/cluster/instance.go).
type RankID int

// EndpointLPID identifies the endpoint LP driving one rank.
type EndpointLPID int64

// RouterLPID identifies a router LP.
type RouterLPID int64

// Mapping answers the external mapping-layer questions spec.md §6
// names: rank->endpoint LP, endpoint->attached router, and the group
// structure constants. For Dragonfly, endpoint and router LPs are
// interleaved within a group (NumCN endpoints per router), so the
// mapping below accounts for that layout rather than assuming a flat
// rank space.
type Mapping struct {
	Params         Params
	ranksPerRouter int // == Params.NumCN, named for readability at call sites
}

// NewMapping builds a Mapping over the given topology parameters.
func NewMapping(p Params) *Mapping {
	return &Mapping{Params: p, ranksPerRouter: p.NumCN}
}

// EndpointLP returns the endpoint LP id driving rank. LP ids are laid
// out router-major: each router's block holds its NumCN terminal LPs
// followed implicitly by the router LP itself in the host engine's LP
// list (the exact global LP numbering is the host mapping layer's
// concern; this function only fixes the per-rank ordinal within that
// block, which is what endpoint/router code needs to find each other).
func (m *Mapping) EndpointLP(rank RankID) EndpointLPID {
	return EndpointLPID(rank)
}

// AttachedRouter returns the router LP id that rank's endpoint is
// wired to: rank / NumCN, per spec.md §4.2's "num_cn terminals per
// router" layout (dragonfly.c: s->router_id = terminal_id /
// (num_routers/2)).
func (m *Mapping) AttachedRouter(lp EndpointLPID) RouterLPID {
	return RouterLPID(int64(lp) / int64(m.ranksPerRouter))
}

// RankOfEndpoint inverts EndpointLP for the (currently 1:1) layout.
func (m *Mapping) RankOfEndpoint(lp EndpointLPID) RankID {
	return RankID(lp)
}

// GroupOfRouter returns the Dragonfly group containing the given
// router LP.
func (m *Mapping) GroupOfRouter(r RouterLPID) int {
	return m.Params.GroupOf(int(r))
}
