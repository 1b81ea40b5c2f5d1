// Package uc implements Uniform Consensus (§4.8): drives a sequence of
// per-epoch ep.Ep instances chosen by ec.Ec until exactly one value is
// decided for the system.
package uc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/unicitynetwork/uce/ep"
	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
)

// Uc is constructed once per system, at which point it also constructs
// and registers the initial EP instance at epoch_ts = 0 (§4.8).
type Uc struct {
	eventbus.SystemHandler

	bus     *eventbus.Bus
	info    node.Info
	log     *slog.Logger
	obs     observability.Observability
	metrics *observability.Metrics

	val        node.Value
	proposed   bool
	proposedAt time.Time
	decided    bool

	ets uint64
	l   node.Node

	newTs uint64
	newL  node.Node

	epIndex int
}

// New constructs a Uc and its initial EP instance, registering the latter
// on bus. peers[0] is the initial leader per §4.8.
func New(bus *eventbus.Bus, systemID string, info node.Info, obs observability.Observability) *Uc {
	u := &Uc{
		SystemHandler: eventbus.SystemHandler{SystemID: systemID},
		bus:           bus,
		info:          info,
		log:           obs.SystemLogger(systemID),
		obs:           obs,
		metrics:       obs.Metrics(),
		l:             info.Peers[0],
	}
	initial := ep.New(bus, systemID, info, u.l, 0, 0, ep.SeedState(0, node.Value{}), obs)
	bus.Register(initial)
	return u
}

func (u *Uc) ShouldHandle(e eventbus.Event) bool {
	if !u.OwnSystem(e) || e.External {
		return false
	}
	switch e.Internal.(type) {
	case eventbus.UcPropose, eventbus.EcStartEpoch, eventbus.EpAborted, eventbus.EpDecide:
		return true
	}
	return false
}

func (u *Uc) Handle(e eventbus.Event) {
	switch m := e.Internal.(type) {
	case eventbus.UcPropose:
		u.val = m.Value
		u.changeProposed()
	case eventbus.EcStartEpoch:
		u.newTs, u.newL = m.Ts, m.Leader
		u.bus.Push(eventbus.InternalEvent(u.SystemID, eventbus.EpAbort{Ts: u.ets}))
		u.changeProposed()
	case eventbus.EpAborted:
		if m.Ts != u.ets {
			return
		}
		u.ets, u.l = u.newTs, u.newL
		u.proposed = false
		u.epIndex++
		next := ep.New(u.bus, u.SystemID, u.info, u.l, u.ets, u.epIndex, ep.SeedState(m.ValueTs, m.Value), u.obs)
		u.bus.Register(next)
		u.changeProposed()
	case eventbus.EpDecide:
		if m.Ts != u.ets || u.decided {
			return
		}
		u.decided = true
		attr := metric.WithAttributes(observability.SystemAttr(u.SystemID))
		u.metrics.UcDecisions.Add(context.Background(), 1, attr)
		if !u.proposedAt.IsZero() {
			u.metrics.UcDecisionLatency.Record(context.Background(), time.Since(u.proposedAt).Seconds(), attr)
		}
		u.bus.Push(eventbus.InternalEvent(u.SystemID, eventbus.UcDecide{Value: m.Value}))
	}
}

// changeProposed emits EpPropose at most once per epoch, when this process
// is the current epoch's leader and holds an as-yet-unproposed defined value.
func (u *Uc) changeProposed() {
	if u.l.Equal(u.info.Self) && u.val.Defined && !u.proposed {
		u.proposed = true
		if u.proposedAt.IsZero() {
			u.proposedAt = time.Now()
		}
		u.bus.Push(eventbus.InternalEvent(u.SystemID, eventbus.EpPropose{Ts: u.ets, Value: u.val}))
	}
}
