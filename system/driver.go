package system

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/logger"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

// ControlAbstractionID tags wire messages that belong to the process/hub
// control channel rather than any one consensus instance — registration
// and decide notifications, which travel before (or outside) any system's
// own lifetime.
const ControlAbstractionID = "driver"

var errMissingSelf = errors.New("app_propose does not name this process")

// Driver is the Application Shim (§4.9): it registers this process with
// the hub at startup, spawns a fresh System for every APP_PROPOSE the hub
// sends, and relays each spawned system's eventual decision back as
// APP_DECIDE. It is itself a bus handler so it can observe AppPropose
// events regardless of which (not-yet-existing) system they name, and
// UcDecide events for every system it has spawned.
type Driver struct {
	bus       *eventbus.Bus
	processID node.ProcessID
	hub       node.Node
	baseDelta time.Duration
	log       *slog.Logger
	obs       observability.Observability
	tracer    trace.Tracer
	ctx       context.Context

	mu      sync.Mutex
	systems map[string]*System
}

// NewDriver constructs a Driver for the local process described by self,
// addressing the hub at hub. Register it on bus, then call Start to send
// APP_REGISTRATION.
func NewDriver(ctx context.Context, bus *eventbus.Bus, self node.Node, hub node.Node, baseDelta time.Duration, obs observability.Observability) *Driver {
	return &Driver{
		bus:       bus,
		processID: node.FromNode(self),
		hub:       hub,
		baseDelta: baseDelta,
		log:       obs.Logger(),
		obs:       obs,
		tracer:    obs.Tracer("system.driver"),
		ctx:       ctx,
		systems:   map[string]*System{},
	}
}

// Start sends this process's APP_REGISTRATION to the hub (§6).
func (d *Driver) Start() {
	payload := wire.AppRegistration{Index: d.processID.Index, Owner: d.processID.Owner}
	msg, err := wire.New(controlSystemID, ControlAbstractionID, wire.TypeAppRegistration, payload)
	if err != nil {
		d.log.Error("encode app_registration", logger.Error(err))
		return
	}
	d.bus.Push(eventbus.InternalEvent(controlSystemID, eventbus.PlSend{
		From: d.processID.Node(), Dest: d.hub, Msg: msg,
	}))
}

// controlSystemID is the system id carried by registration traffic, which
// precedes the existence of any consensus instance and so cannot be keyed
// by one.
const controlSystemID = "_control"

func (d *Driver) ShouldHandle(e eventbus.Event) bool {
	if e.External {
		return false
	}
	switch e.Internal.(type) {
	case eventbus.AppPropose:
		return true
	case eventbus.UcDecide:
		d.mu.Lock()
		_, ok := d.systems[e.System]
		d.mu.Unlock()
		return ok
	}
	return false
}

func (d *Driver) Handle(e eventbus.Event) {
	switch m := e.Internal.(type) {
	case eventbus.AppPropose:
		d.onPropose(e.System, m)
	case eventbus.UcDecide:
		d.onDecide(e.System, m)
	}
}

// onPropose spawns a new System keyed by systemID with the participant set
// named in the message, then proposes the carried value into it (§4.9).
func (d *Driver) onPropose(systemID string, m eventbus.AppPropose) {
	_, span := d.tracer.Start(d.ctx, "driver.onPropose", trace.WithAttributes(observability.SystemAttr(systemID)))
	defer span.End()

	d.mu.Lock()
	if _, exists := d.systems[systemID]; exists {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	peers := make([]node.Node, 0, len(m.Payload.Processes))
	var self node.Node
	haveSelf := false
	for _, pid := range m.Payload.Processes {
		n := pid.Node()
		peers = append(peers, n)
		if pid.Index == d.processID.Index && pid.Owner == d.processID.Owner {
			self = n
			haveSelf = true
		}
	}
	if !haveSelf {
		err := errMissingSelf
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.Error("app_propose does not name this process, dropping", logger.SystemID(systemID))
		return
	}

	info := node.Info{Self: self, Hub: d.hub, Peers: peers}
	sys := Spawn(d.ctx, d.bus, systemID, info, d.baseDelta, d.obs)

	d.mu.Lock()
	d.systems[systemID] = sys
	d.mu.Unlock()

	d.bus.Push(eventbus.InternalEvent(systemID, eventbus.UcPropose{Value: m.Payload.Value}))
}

// onDecide ships the decided value back to the hub as APP_DECIDE (§4.9).
func (d *Driver) onDecide(systemID string, m eventbus.UcDecide) {
	_, span := d.tracer.Start(d.ctx, "driver.onDecide", trace.WithAttributes(observability.SystemAttr(systemID)))
	defer span.End()

	payload := wire.AppDecide{Value: m.Value}
	msg, err := wire.New(systemID, ControlAbstractionID, wire.TypeAppDecide, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.log.Error("encode app_decide", logger.Error(err), logger.SystemID(systemID))
		return
	}
	d.bus.Push(eventbus.InternalEvent(systemID, eventbus.PlSend{
		From: d.processID.Node(), Dest: d.hub, Msg: msg,
	}))
}
