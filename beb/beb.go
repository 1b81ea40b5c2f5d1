// Package beb implements Best-Effort Broadcast (§4.3): fan a message out to
// every participant, including self, via Perfect Link. One instance is
// constructed per system.
package beb

import (
	"log/slog"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

// Beb is registered once per system on the shared bus.
type Beb struct {
	eventbus.SystemHandler

	info node.Info
	bus  *eventbus.Bus
	log  *slog.Logger
}

func New(bus *eventbus.Bus, systemID string, info node.Info, log *slog.Logger) *Beb {
	if log == nil {
		log = slog.Default()
	}
	return &Beb{SystemHandler: eventbus.SystemHandler{SystemID: systemID}, info: info, bus: bus, log: log}
}

func (b *Beb) ShouldHandle(e eventbus.Event) bool {
	if !b.OwnSystem(e) || e.External {
		return false
	}
	switch e.Internal.(type) {
	case eventbus.BebBroadcast, eventbus.PlDeliver:
		return true
	}
	return false
}

func (b *Beb) Handle(e eventbus.Event) {
	switch m := e.Internal.(type) {
	case eventbus.BebBroadcast:
		b.broadcast(m)
	case eventbus.PlDeliver:
		b.deliver(m)
	}
}

// broadcast wraps inner in a BEB_BROADCAST wrapper and PlSends it to every
// peer, including self (§4.3).
func (b *Beb) broadcast(m eventbus.BebBroadcast) {
	wrapper, err := wire.New(b.SystemID, "beb", wire.TypeBebBroadcast, wire.BebBroadcast{Message: m.Msg})
	if err != nil {
		b.log.Error("encode beb wrapper", slog.Any("error", err), slog.String("system", b.SystemID))
		return
	}
	for _, p := range b.info.Peers {
		b.bus.Push(eventbus.InternalEvent(b.SystemID, eventbus.PlSend{From: b.info.Self, Dest: p, Msg: wrapper}))
	}
}

// deliver unwraps a PlDeliver carrying a BEB_BROADCAST wrapper and emits
// BebDeliver to the rest of the system. Non-BEB_BROADCAST deliveries are
// ignored; PL routes them directly to the modules that expect them.
func (b *Beb) deliver(m eventbus.PlDeliver) {
	if m.Msg.Type != wire.TypeBebBroadcast {
		return
	}
	var wrapper wire.BebBroadcast
	if err := m.Msg.Decode(&wrapper); err != nil {
		b.log.Debug("decode beb wrapper failed, dropping", slog.Any("error", err))
		return
	}
	b.bus.Push(eventbus.InternalEvent(b.SystemID, eventbus.BebDeliver{From: m.From, Msg: wrapper.Message}))
}
