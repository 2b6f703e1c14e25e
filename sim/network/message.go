// Package network implements the Dragonfly-coupled MPI endpoint and
// router LPs: the send/recv matching state machine, the credit-based
// virtual-channel fabric, the three routing policies, and the matched
// forward/reverse handler pairs that make every event undoable.
//
// Grounded on spec.md §3-§4 and original_source/src/models/networks/
// model-net/dragonfly.c + model-net-mpi-wrklds.c, with the single-
// struct-per-event-kind style of the teacher's sim/cluster/events.go.
package network

import (
	"github.com/google/uuid"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
)

// MessageKind tags the single shared envelope, per spec.md §3.3.
type MessageKind int

const (
	TGenerate MessageKind = iota
	TArrive
	TSend
	TBuffer
	RSend
	RArrive
	RBuffer
	MPIOpGetNext
	MPISendPosted
	MPISendArrived
	MPISendArrivedCB
	DCollectiveOp
)

func (k MessageKind) String() string {
	switch k {
	case TGenerate:
		return "T_GENERATE"
	case TArrive:
		return "T_ARRIVE"
	case TSend:
		return "T_SEND"
	case TBuffer:
		return "T_BUFFER"
	case RSend:
		return "R_SEND"
	case RArrive:
		return "R_ARRIVE"
	case RBuffer:
		return "R_BUFFER"
	case MPIOpGetNext:
		return "MPI_OP_GET_NEXT"
	case MPISendPosted:
		return "MPI_SEND_POSTED"
	case MPISendArrived:
		return "MPI_SEND_ARRIVED"
	case MPISendArrivedCB:
		return "MPI_SEND_ARRIVED_CB"
	case DCollectiveOp:
		return "D_COLLECTIVE_OP"
	default:
		return "UNKNOWN"
	}
}

// PathType selects the router next-hop policy, per spec.md §4.2.
type PathType int

const (
	Minimal PathType = iota
	NonMinimal
	Adaptive
)

// LastHop records which class of link a packet just arrived on, used
// to address the credit back to the right neighbor.
type LastHop int

const (
	HopTerminal LastHop = iota
	HopLocal
	HopGlobal
)

// BranchFlags is a small bitset: one bit per conditional branch taken
// by a forward handler, read back by its reverse handler (spec.md
// §3.3, §9). Debug builds (tests) can assert every forward branch
// recorded its flag.
type BranchFlags uint8

const (
	BranchC0 BranchFlags = 1 << iota
	BranchC1
	BranchC2
	BranchC3
)

func (b *BranchFlags) Set(f BranchFlags)   { *b |= f }
func (b *BranchFlags) Clear(f BranchFlags) { *b &^= f }
func (b BranchFlags) Has(f BranchFlags) bool { return b&f != 0 }

// OpKind is the MPI operation kind carried on a queue/arrival record
// (spec.md §3.1's {..., op_kind, ...} element shape) and distinguishes
// a blocking send/recv from its non-blocking counterpart for
// completed_reqs bookkeeping.
type OpKind int

const (
	OpSend OpKind = iota
	OpISend
	OpRecv
	OpIRecv
)

// Message is the single tagged envelope shared by every endpoint and
// router event, per spec.md §3.3. Save-slots are filled by the
// forward handler that needs them undone and read only by its
// matching reverse handler; unused slots for a given Kind are simply
// left zero.
type Message struct {
	Kind MessageKind

	// Addressing
	SrcTerminal   topology.EndpointLPID
	DestTerminal  topology.EndpointLPID
	IntmLPID      topology.RouterLPID
	OriginRouter  topology.RouterLPID
	FinalDestGID  topology.RouterLPID
	SenderLP      topology.EndpointLPID
	SenderMNLP    topology.EndpointLPID

	// Payload
	PacketID   string
	ChunkID    int
	NumChunks  int
	PacketSize int64
	Tag        int
	OpKind     OpKind
	ReqID      int64
	Category   string
	IsPull     bool
	PullSize   int64

	// Path
	PathType    PathType
	IntmGroupID int // -1 when not yet committed to a non-minimal detour
	LastHop     LastHop
	VCIndex     int

	// CreditPort/CreditVC identify which (port, vc) on the upstream
	// router the eventual R_BUFFER credit must apply to. IntmLPID
	// doubles as the upstream router's LP id for this purpose: an
	// implementation-only addressing detail the spec's envelope
	// doesn't name a field for.
	CreditPort int
	CreditVC   int

	// Save slots (forward-handler-filled, reverse-handler-read)
	SavedSendTime        int64
	SavedRecvTime        int64
	SavedWaitTime        int64
	SavedDelay           int64
	SavedNumBytes        int64
	SavedAvailableTime   int64
	SavedCreditTime      int64
	SavedHistNum         int64
	SavedHistStartTime   int64
	SavedMatchedReq      int64
	SavedMatchedIndex    int // position the matched queue entry occupied, for reinstatement
	SavedFanNodes        []topology.EndpointLPID
	SavedOp              int
	SavedIntmGroupID     int // prior msg.IntmGroupID, restored by router reverse handlers

	Branches BranchFlags
}

// NewPacketID mints a collision-free packet id. handleSendOp calls it
// for every send it issues; the trace's req_id travels separately in
// Message.ReqID.
func NewPacketID() string {
	return uuid.NewString()
}
