// Package ec implements the Epoch Change oracle (§4.6): produces
// monotonically increasing (ts, leader) pairs to UC, bumping timestamps by
// N so that ts mod N uniquely identifies the aspiring leader's rank.
package ec

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/logger"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

// Ec is constructed per system and registered on the shared bus.
type Ec struct {
	eventbus.SystemHandler

	bus     *eventbus.Bus
	info    node.Info
	log     *slog.Logger
	metrics *observability.Metrics

	lastTs     uint64
	ts         uint64
	trusted    node.Node
	hasTrusted bool
}

// New constructs an Ec whose aspiring-leader timestamp starts at the
// process's own rank (§4.6).
func New(bus *eventbus.Bus, systemID string, info node.Info, obs observability.Observability) *Ec {
	return &Ec{
		SystemHandler: eventbus.SystemHandler{SystemID: systemID},
		bus:           bus,
		info:          info,
		log:           obs.SystemLogger(systemID),
		metrics:       obs.Metrics(),
		ts:            uint64(info.Self.Rank),
	}
}

func (c *Ec) ShouldHandle(e eventbus.Event) bool {
	if !c.OwnSystem(e) || e.External {
		return false
	}
	switch e.Internal.(type) {
	case eventbus.EldTrust, eventbus.BebDeliver, eventbus.PlDeliver:
		return true
	}
	return false
}

func (c *Ec) Handle(e eventbus.Event) {
	switch m := e.Internal.(type) {
	case eventbus.EldTrust:
		c.onTrust(m)
	case eventbus.BebDeliver:
		if m.Msg.Type == wire.TypeEcNewEpoch {
			c.onNewEpoch(m)
		}
	case eventbus.PlDeliver:
		if m.Msg.Type == wire.TypeEcNack {
			c.onNack()
		}
	}
}

func (c *Ec) onTrust(m eventbus.EldTrust) {
	c.trusted = m.Leader
	c.hasTrusted = true
	if m.Leader.Equal(c.info.Self) {
		c.bumpAndBroadcast()
	}
}

func (c *Ec) onNewEpoch(m eventbus.BebDeliver) {
	var payload wire.EcNewEpoch
	if err := m.Msg.Decode(&payload); err != nil {
		c.log.Debug("decode ec_new_epoch failed, dropping", logger.Error(err))
		return
	}
	if c.hasTrusted && m.From.Equal(c.trusted) && payload.Timestamp > c.lastTs {
		c.lastTs = payload.Timestamp
		c.metrics.EcEpochsStarted.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(c.SystemID)))
		c.bus.Push(eventbus.InternalEvent(c.SystemID, eventbus.EcStartEpoch{Leader: m.From, Ts: payload.Timestamp}))
		return
	}
	nack, err := wire.New(c.SystemID, "ec", wire.TypeEcNack, wire.EcNack{})
	if err != nil {
		c.log.Error("encode ec_nack", logger.Error(err), logger.SystemID(c.SystemID))
		return
	}
	c.bus.Push(eventbus.InternalEvent(c.SystemID, eventbus.PlSend{From: c.info.Self, Dest: m.From, Msg: nack}))
}

func (c *Ec) onNack() {
	if c.hasTrusted && c.trusted.Equal(c.info.Self) {
		c.bumpAndBroadcast()
	}
}

// bumpAndBroadcast advances ts by N (the participant count), keeping
// ts ≡ rank (mod N) across every leader attempt (§4.6 rationale), and
// broadcasts the new epoch proposal.
func (c *Ec) bumpAndBroadcast() {
	c.ts += uint64(c.info.N())
	msg, err := wire.New(c.SystemID, "ec", wire.TypeEcNewEpoch, wire.EcNewEpoch{Timestamp: c.ts})
	if err != nil {
		c.log.Error("encode ec_new_epoch", logger.Error(err), logger.SystemID(c.SystemID))
		return
	}
	c.bus.Push(eventbus.InternalEvent(c.SystemID, eventbus.BebBroadcast{Msg: msg}))
}
