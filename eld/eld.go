// Package eld implements the Eventual Leader Detector (§4.5): consumes
// EPFD suspicion changes and elects the highest-ranked non-suspected peer.
package eld

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
)

// Eld is constructed per system and registered on the shared bus.
type Eld struct {
	eventbus.SystemHandler

	bus     *eventbus.Bus
	info    node.Info
	log     *slog.Logger
	metrics *observability.Metrics

	suspected map[uint32]bool
	leader    *node.Node // nil until a trust has been issued
}

func New(bus *eventbus.Bus, systemID string, info node.Info, obs observability.Observability) *Eld {
	return &Eld{
		SystemHandler: eventbus.SystemHandler{SystemID: systemID},
		bus:           bus,
		info:          info,
		log:           obs.SystemLogger(systemID),
		metrics:       obs.Metrics(),
		suspected:     map[uint32]bool{},
	}
}

func (d *Eld) ShouldHandle(e eventbus.Event) bool {
	if !d.OwnSystem(e) || e.External {
		return false
	}
	switch e.Internal.(type) {
	case eventbus.EpfdSuspect, eventbus.EpfdRestore:
		return true
	}
	return false
}

func (d *Eld) Handle(e eventbus.Event) {
	switch m := e.Internal.(type) {
	case eventbus.EpfdSuspect:
		d.suspected[m.Node.ID] = true
	case eventbus.EpfdRestore:
		delete(d.suspected, m.Node.ID)
	default:
		return
	}
	d.recompute()
}

// recompute selects the highest-ranked non-suspected peer (ties impossible,
// ranks are unique) and emits EldTrust if it differs from the current
// leader. If every peer is suspected, no trust event is issued (§4.5).
func (d *Eld) recompute() {
	var best *node.Node
	for i := range d.info.Peers {
		p := d.info.Peers[i]
		if d.suspected[p.ID] {
			continue
		}
		if best == nil || p.Rank > best.Rank {
			best = &p
		}
	}
	if best == nil {
		return
	}
	if d.leader != nil && d.leader.Equal(*best) {
		return
	}
	d.leader = best
	d.metrics.EldLeaderChanges.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(d.SystemID)))
	d.bus.Push(eventbus.InternalEvent(d.SystemID, eventbus.EldTrust{Leader: *best}))
}
