// Package system wires together one consensus instance's protocol
// modules (BEB, EPFD, ELD, EC, UC — PL is process-wide and lives in
// transport) and registers them on the shared event bus under a single
// system id (§4.9: "a single process may host many concurrent systems").
package system

import (
	"context"
	"time"

	"github.com/unicitynetwork/uce/beb"
	"github.com/unicitynetwork/uce/ec"
	"github.com/unicitynetwork/uce/eld"
	"github.com/unicitynetwork/uce/epfd"
	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/uc"
)

// System is the handle to one spawned consensus instance's modules. It is
// retained only so the driver can look it up by id; a system has no
// explicit teardown (§4.9) — once its UC has decided, nothing references
// it further and its handlers simply stop matching any new event.
type System struct {
	ID   string
	Info node.Info

	Beb  *beb.Beb
	Epfd *epfd.Epfd
	Eld  *eld.Eld
	Ec   *ec.Ec
	Uc   *uc.Uc
}

// Spawn constructs every per-system module, registers them on bus, and
// starts the EPFD heartbeat timer goroutine. baseDelta is EPFD's initial
// timeout (§4.4).
func Spawn(ctx context.Context, bus *eventbus.Bus, systemID string, info node.Info, baseDelta time.Duration, obs observability.Observability) *System {
	sysLog := obs.SystemLogger(systemID)

	b := beb.New(bus, systemID, info, sysLog)
	f := epfd.New(bus, systemID, info, baseDelta, obs)
	d := eld.New(bus, systemID, info, obs)
	c := ec.New(bus, systemID, info, obs)
	u := uc.New(bus, systemID, info, obs) // also registers the initial epoch-0 Ep

	bus.Register(b)
	bus.Register(f)
	bus.Register(d)
	bus.Register(c)
	bus.Register(u)

	go f.Run(ctx)

	return &System{ID: systemID, Info: info, Beb: b, Epfd: f, Eld: d, Ec: c, Uc: u}
}
