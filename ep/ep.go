// Package ep implements per-epoch read/write consensus (§4.7). One
// instance is constructed by UC for every epoch a system enters; it is
// retired (aborted) when UC moves on to the next epoch.
package ep

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/logger"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

// state is EP's (value_ts, value) pair, seeded by UC from the previous
// epoch's abort and updated as this epoch's own write phase completes.
type state struct {
	ts    uint64
	value node.Value
}

// Ep is one epoch's consensus instance. Index disambiguates its
// abstraction id across successive epochs constructed by the same UC.
type Ep struct {
	eventbus.SystemHandler

	bus     *eventbus.Bus
	info    node.Info
	log     *slog.Logger
	leader  node.Node
	epochTs uint64
	index   int

	metrics *observability.Metrics

	state    state
	tmpVal   node.Value
	states   map[uint32]state
	accepted int
	aborted  bool
}

// New constructs an Ep for the given epoch, seeded with the (ts, value)
// UC carried over from the previous epoch's EpAborted.
func New(bus *eventbus.Bus, systemID string, info node.Info, leader node.Node, epochTs uint64, index int, seed state, obs observability.Observability) *Ep {
	return &Ep{
		SystemHandler: eventbus.SystemHandler{SystemID: systemID},
		bus:           bus,
		info:          info,
		log:           obs.SystemLogger(systemID),
		leader:        leader,
		epochTs:       epochTs,
		index:         index,
		metrics:       obs.Metrics(),
		state:         seed,
		states:        map[uint32]state{},
	}
}

// SeedState constructs the (ts, value) pair UC threads through
// constructions and EpAborted replies.
func SeedState(ts uint64, v node.Value) state { return state{ts: ts, value: v} }

// abstractionID disambiguates this instance's wire traffic from every
// other epoch the same system has run or will run: index is assigned once
// by UC, monotonically, when it constructs the Ep (§4.7). A receiver
// gates on it exactly as it gates on system_id, so a reply addressed to a
// retired epoch's abstraction id never reaches its successor.
func (p *Ep) abstractionID() string {
	return fmt.Sprintf("ep-%d", p.index)
}

func (p *Ep) ShouldHandle(e eventbus.Event) bool {
	if !p.OwnSystem(e) || e.External {
		return false
	}
	switch m := e.Internal.(type) {
	case eventbus.EpPropose:
		return m.Ts == p.epochTs
	case eventbus.EpAbort:
		return m.Ts == p.epochTs
	case eventbus.BebDeliver:
		if m.Msg.AbstractionID != p.abstractionID() {
			return false
		}
		switch m.Msg.Type {
		case wire.TypeEpRead, wire.TypeEpWrite, wire.TypeEpDecided:
			return true
		}
		return false
	case eventbus.PlDeliver:
		if m.Msg.AbstractionID != p.abstractionID() {
			return false
		}
		switch m.Msg.Type {
		case wire.TypeEpState, wire.TypeEpAccept:
			return true
		}
		return false
	case eventbus.EpStateCountReached:
		return m.Epoch == p.epochTs
	case eventbus.EpAcceptedCountReached:
		return m.Epoch == p.epochTs
	}
	return false
}

func (p *Ep) Handle(e eventbus.Event) {
	if p.aborted {
		// An aborted instance ignores every later event, a repeated abort
		// included (§4.7 step 9). ShouldHandle does not look at aborted, so
		// this branch is what keeps late events from acting on it.
		return
	}
	switch m := e.Internal.(type) {
	case eventbus.EpPropose:
		p.onPropose(m)
	case eventbus.EpAbort:
		p.onAbort(m)
	case eventbus.BebDeliver:
		switch m.Msg.Type {
		case wire.TypeEpRead:
			p.onRead(m.From)
		case wire.TypeEpWrite:
			p.onWrite(m)
		case wire.TypeEpDecided:
			p.onDecided(m)
		}
	case eventbus.PlDeliver:
		switch m.Msg.Type {
		case wire.TypeEpState:
			p.onState(m)
		case wire.TypeEpAccept:
			p.onAccept()
		}
	case eventbus.EpStateCountReached:
		p.onStateCountReached()
	case eventbus.EpAcceptedCountReached:
		p.onAcceptedCountReached()
	}
}

// onPropose is step 1: leader-only, gated by epoch_ts == ts in ShouldHandle.
func (p *Ep) onPropose(m eventbus.EpPropose) {
	if !p.leader.Equal(p.info.Self) {
		return
	}
	p.tmpVal = m.Value
	p.metrics.EpRounds.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(p.SystemID)))
	p.broadcast(wire.TypeEpRead, wire.EpRead{})
}

// onRead is step 2: any peer replies with its current state.
func (p *Ep) onRead(from node.Node) {
	p.sendTo(from, wire.TypeEpState, wire.EpState{Ts: p.state.ts, Value: p.state.value})
}

// onState is step 3: leader-only, records defined replies, requests the
// follow-up once a quorum has reported.
func (p *Ep) onState(m eventbus.PlDeliver) {
	if !p.leader.Equal(p.info.Self) {
		return
	}
	var payload wire.EpState
	if err := m.Msg.Decode(&payload); err != nil {
		p.log.Debug("decode ep_state failed, dropping", logger.Error(err))
		return
	}
	if !payload.Value.Defined {
		return
	}
	p.states[m.From.ID] = state{ts: payload.Ts, value: payload.Value}
	if len(p.states) >= p.info.Quorum() {
		p.bus.Push(eventbus.InternalEvent(p.SystemID, eventbus.EpStateCountReached{Epoch: p.epochTs}))
	}
}

// onStateCountReached is step 4: pick the highest-ts reply, broadcast it
// as the write value.
func (p *Ep) onStateCountReached() {
	var best *state
	for id := range p.states {
		s := p.states[id]
		if best == nil || s.ts > best.ts {
			best = &s
		}
	}
	if best != nil {
		p.tmpVal = best.value
	}
	p.states = map[uint32]state{}
	p.broadcast(wire.TypeEpWrite, wire.EpWrite{Value: p.tmpVal})
}

// onWrite is step 5: any peer adopts the written value as its state.
func (p *Ep) onWrite(m eventbus.BebDeliver) {
	var payload wire.EpWrite
	if err := m.Msg.Decode(&payload); err != nil {
		p.log.Debug("decode ep_write failed, dropping", logger.Error(err))
		return
	}
	if !payload.Value.Defined {
		return
	}
	p.state = state{ts: p.epochTs, value: payload.Value}
	p.sendTo(m.From, wire.TypeEpAccept, wire.EpAccept{})
}

// onAccept is step 6: leader-only, counts acks, requests the decide
// follow-up once a quorum has accepted.
func (p *Ep) onAccept() {
	if !p.leader.Equal(p.info.Self) {
		return
	}
	p.accepted++
	if p.accepted >= p.info.Quorum() {
		p.bus.Push(eventbus.InternalEvent(p.SystemID, eventbus.EpAcceptedCountReached{Epoch: p.epochTs}))
	}
}

// onAcceptedCountReached is step 7: broadcast the decided value.
func (p *Ep) onAcceptedCountReached() {
	p.accepted = 0
	p.broadcast(wire.TypeEpDecided, wire.EpDecided{Value: p.tmpVal})
}

// onDecided is step 8: any peer surfaces the decision to UC.
func (p *Ep) onDecided(m eventbus.BebDeliver) {
	var payload wire.EpDecided
	if err := m.Msg.Decode(&payload); err != nil {
		p.log.Debug("decode ep_decided failed, dropping", logger.Error(err))
		return
	}
	if !payload.Value.Defined {
		return
	}
	p.bus.Push(eventbus.InternalEvent(p.SystemID, eventbus.EpDecide{Ts: p.epochTs, Value: payload.Value}))
}

// onAbort is step 9: retire this instance and report its last stable
// state back to UC so it can seed the next epoch.
func (p *Ep) onAbort(m eventbus.EpAbort) {
	p.aborted = true
	p.bus.Push(eventbus.InternalEvent(p.SystemID, eventbus.EpAborted{
		Ts:      p.epochTs,
		ValueTs: p.state.ts,
		Value:   p.state.value,
	}))
}

func (p *Ep) broadcast(typ wire.Type, payload any) {
	msg, err := wire.New(p.SystemID, p.abstractionID(), typ, payload)
	if err != nil {
		p.log.Error("encode ep message", logger.Error(err), logger.SystemID(p.SystemID))
		return
	}
	p.bus.Push(eventbus.InternalEvent(p.SystemID, eventbus.BebBroadcast{Msg: msg}))
}

func (p *Ep) sendTo(dest node.Node, typ wire.Type, payload any) {
	msg, err := wire.New(p.SystemID, p.abstractionID(), typ, payload)
	if err != nil {
		p.log.Error("encode ep message", logger.Error(err), logger.SystemID(p.SystemID))
		return
	}
	p.bus.Push(eventbus.InternalEvent(p.SystemID, eventbus.PlSend{From: p.info.Self, Dest: dest, Msg: msg}))
}
