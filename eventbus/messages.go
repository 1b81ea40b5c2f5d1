package eventbus

import "github.com/unicitynetwork/uce/node"
import "github.com/unicitynetwork/uce/wire"

// Every type below is an eventbus.Message variant (§3/§4 per component).
// They are grouped by the module that emits them.

// --- Perfect Link ---

// PlSend requests that Msg be delivered reliably to Dest (§4.2). Any
// module may post it; the process-wide PL handler consumes it.
type PlSend struct {
	From node.Node
	Dest node.Node
	Msg  *wire.Message
}

func (PlSend) internalMessage() {}

// PlDeliver reports that Msg arrived from From over the peer link.
type PlDeliver struct {
	From node.Node
	Msg  *wire.Message
}

func (PlDeliver) internalMessage() {}

// AppPropose reports that the hub sent an APP_PROPOSE; the driver accepts
// it regardless of System, since the system it names does not exist yet
// (§4.9).
type AppPropose struct {
	From    node.Node
	Payload wire.AppPropose
}

func (AppPropose) internalMessage() {}

// --- Best-Effort Broadcast ---

// BebBroadcast requests Msg be sent to every participant including self
// (§4.3).
type BebBroadcast struct {
	Msg *wire.Message
}

func (BebBroadcast) internalMessage() {}

// BebDeliver reports that Msg was broadcast-delivered from From.
type BebDeliver struct {
	From node.Node
	Msg  *wire.Message
}

func (BebDeliver) internalMessage() {}

// --- Eventually Perfect Failure Detector ---

// EpfdTimeout is this system's heartbeat tick (§4.4).
type EpfdTimeout struct{}

func (EpfdTimeout) internalMessage() {}

// EpfdSuspect reports Node was newly added to the suspected set.
type EpfdSuspect struct{ Node node.Node }

func (EpfdSuspect) internalMessage() {}

// EpfdRestore reports Node was removed from the suspected set.
type EpfdRestore struct{ Node node.Node }

func (EpfdRestore) internalMessage() {}

// --- Eventual Leader Detector ---

// EldTrust reports ELD's current elected leader (§4.5).
type EldTrust struct{ Leader node.Node }

func (EldTrust) internalMessage() {}

// --- Epoch Change ---

// EcStartEpoch delivers a new (ts, leader) epoch to UC (§4.6).
type EcStartEpoch struct {
	Leader node.Node
	Ts     uint64
}

func (EcStartEpoch) internalMessage() {}

// --- Epoch Consensus ---

// EpPropose is UC asking the leader's EP instance at epoch Ts to propose
// Value (§4.7 step 1). Gated by the receiving EP on epoch_ts == Ts.
type EpPropose struct {
	Ts    uint64
	Value node.Value
}

func (EpPropose) internalMessage() {}

// EpAbort is UC aborting the EP instance at epoch Ts (§4.7 step 9).
type EpAbort struct{ Ts uint64 }

func (EpAbort) internalMessage() {}

// EpAborted is EP's single reply to EpAbort, carrying back its last stable
// (valueTs, value) so UC can seed the next epoch's EP instance.
type EpAborted struct {
	Ts      uint64
	ValueTs uint64
	Value   node.Value
}

func (EpAborted) internalMessage() {}

// EpDecide is EP's output once a strict majority accepted a value at
// epoch Ts (§4.7 step 8).
type EpDecide struct {
	Ts    uint64
	Value node.Value
}

func (EpDecide) internalMessage() {}

// EpStateCountReached and EpAcceptedCountReached are EP's own internal
// follow-up events (§4.7 steps 3-4 and 6-7): the leader posts one to
// itself once a quorum of EP_STATE/EP_ACCEPT replies has been seen, so the
// quorum-triggered work happens on the next dispatch pass rather than
// re-entrantly inside the handler that observed the quorum. Epoch
// disambiguates a stale follow-up from a retired EP instance (§3
// invariant: an EP instance never acts after it has been replaced).
type EpStateCountReached struct{ Epoch uint64 }

func (EpStateCountReached) internalMessage() {}

type EpAcceptedCountReached struct{ Epoch uint64 }

func (EpAcceptedCountReached) internalMessage() {}

// --- Uniform Consensus ---

// UcPropose is the driver proposing Value for this system (§4.8).
type UcPropose struct{ Value node.Value }

func (UcPropose) internalMessage() {}

// UcDecide is UC's final output; the driver relays it to the hub as
// APP_DECIDE.
type UcDecide struct{ Value node.Value }

func (UcDecide) internalMessage() {}
