// Package epfd implements the Eventually Perfect Failure Detector (§4.4):
// a tick-driven heartbeat protocol with adaptive timeout, maintaining
// alive/suspected subsets of a system's peers. A suspected peer that
// replies sits in both sets until the next tick restores it.
package epfd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/logger"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

// Epfd is constructed per system and registered on the shared bus. Its
// timer runs in its own goroutine (§5's "timer service"); Handle is only
// ever called from the dispatcher, so no lock is needed for the protocol
// state itself — only for delta and timer, which the timer goroutine
// also reads.
type Epfd struct {
	eventbus.SystemHandler

	bus     *eventbus.Bus
	info    node.Info
	log     *slog.Logger
	metrics *observability.Metrics

	baseDelta time.Duration

	alive     map[uint32]bool
	suspected map[uint32]bool

	mu    sync.Mutex
	delta time.Duration
	timer *time.Timer
}

// New constructs an Epfd with the given base heartbeat interval. Call Run
// to arm the timer; it self-rearms on every fire until ctx is canceled.
func New(bus *eventbus.Bus, systemID string, info node.Info, baseDelta time.Duration, obs observability.Observability) *Epfd {
	return &Epfd{
		SystemHandler: eventbus.SystemHandler{SystemID: systemID},
		bus:           bus,
		info:          info,
		log:           obs.SystemLogger(systemID),
		metrics:       obs.Metrics(),
		baseDelta:     baseDelta,
		delta:         baseDelta,
		alive:         map[uint32]bool{},
		suspected:     map[uint32]bool{},
	}
}

// Run arms the heartbeat timer and keeps rearming it on fire, posting
// EpfdTimeout onto the bus, until ctx is canceled.
func (f *Epfd) Run(ctx context.Context) {
	f.mu.Lock()
	f.timer = time.NewTimer(f.delta)
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.timer.Stop()
			f.mu.Unlock()
			return
		case <-f.timer.C:
			f.bus.Push(eventbus.InternalEvent(f.SystemID, eventbus.EpfdTimeout{}))
			f.mu.Lock()
			f.timer.Reset(f.delta)
			f.mu.Unlock()
		}
	}
}

func (f *Epfd) ShouldHandle(e eventbus.Event) bool {
	if !f.OwnSystem(e) || e.External {
		return false
	}
	switch m := e.Internal.(type) {
	case eventbus.EpfdTimeout:
		return true
	case eventbus.PlDeliver:
		return m.Msg.Type == wire.TypeEpfdHeartbeatRequest || m.Msg.Type == wire.TypeEpfdHeartbeatReply
	}
	return false
}

func (f *Epfd) Handle(e eventbus.Event) {
	switch m := e.Internal.(type) {
	case eventbus.EpfdTimeout:
		f.onTimeout()
	case eventbus.PlDeliver:
		switch m.Msg.Type {
		case wire.TypeEpfdHeartbeatRequest:
			f.onHeartbeatRequest(m.From)
		case wire.TypeEpfdHeartbeatReply:
			f.onHeartbeatReply(m.From)
		}
	}
}

// onTimeout implements §4.4's timer event: bump delta on a false
// suspicion, reconcile alive/suspected per peer, send a fresh heartbeat
// request to every peer other than self, then clear alive for the next
// round.
func (f *Epfd) onTimeout() {
	falselysuspected := false
	for id := range f.alive {
		if f.suspected[id] {
			falselysuspected = true
			break
		}
	}
	if falselysuspected {
		f.mu.Lock()
		f.delta += f.baseDelta
		f.mu.Unlock()
	}

	for _, p := range f.info.Peers {
		if p.Equal(f.info.Self) {
			continue
		}
		switch {
		case !f.alive[p.ID] && !f.suspected[p.ID]:
			f.suspected[p.ID] = true
			f.metrics.EpfdSuspicions.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(f.SystemID)))
			f.bus.Push(eventbus.InternalEvent(f.SystemID, eventbus.EpfdSuspect{Node: p}))
		case f.alive[p.ID] && f.suspected[p.ID]:
			delete(f.suspected, p.ID)
			f.metrics.EpfdRestores.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(f.SystemID)))
			f.bus.Push(eventbus.InternalEvent(f.SystemID, eventbus.EpfdRestore{Node: p}))
		}
		f.sendTo(p, wire.TypeEpfdHeartbeatRequest, wire.EpfdHeartbeatRequest{})
		f.metrics.EpfdHeartbeatsSent.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(f.SystemID)))
	}

	f.alive = map[uint32]bool{}
}

func (f *Epfd) onHeartbeatRequest(from node.Node) {
	f.metrics.EpfdHeartbeatsReceived.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(f.SystemID)))
	f.sendTo(from, wire.TypeEpfdHeartbeatReply, wire.EpfdHeartbeatReply{})
}

func (f *Epfd) onHeartbeatReply(from node.Node) {
	f.metrics.EpfdHeartbeatsReceived.Add(context.Background(), 1, metric.WithAttributes(observability.SystemAttr(f.SystemID)))
	f.alive[from.ID] = true
}

func (f *Epfd) sendTo(dest node.Node, typ wire.Type, payload any) {
	msg, err := wire.New(f.SystemID, "epfd", typ, payload)
	if err != nil {
		f.log.Error("encode epfd message", logger.Error(err), logger.SystemID(f.SystemID))
		return
	}
	f.bus.Push(eventbus.InternalEvent(f.SystemID, eventbus.PlSend{From: f.info.Self, Dest: dest, Msg: msg}))
}
