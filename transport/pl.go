// Package transport implements the Perfect Link (§4.2): the single,
// process-wide reliable-unicast abstraction every system's BEB and EPFD
// sit on top of. Unlike the per-system protocol modules, PL is a
// singleton — one listening socket and one outbound dialer shared by every
// consensus instance the process hosts, because a brand-new system
// (announced by the hub's APP_PROPOSE) has no per-system handlers
// registered yet when its first message needs to be routed.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/logger"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

// PerfectLink owns the listening socket and answers PlSend by dialing out
// fresh connections, one per message, per §4.2 and §5's "no connection
// pool" resource model.
type PerfectLink struct {
	eventbus.SystemHandler // embeds OwnSystem; unused, PL answers every system

	bus    *eventbus.Bus
	info   node.Info
	log    *slog.Logger
	tracer trace.Tracer
}

// New constructs a PerfectLink for the local process described by info.
// Register it on bus and call ListenAndServe in its own goroutine to begin
// accepting inbound connections.
func New(bus *eventbus.Bus, info node.Info, obs observability.Observability) *PerfectLink {
	return &PerfectLink{
		bus:    bus,
		info:   info,
		log:    obs.Logger(),
		tracer: obs.Tracer("transport.pl"),
	}
}

// ShouldHandle accepts PlSend regardless of System: PL has no per-system
// state (§5), so every system's outbound traffic is routed through the one
// shared instance.
func (p *PerfectLink) ShouldHandle(e eventbus.Event) bool {
	if e.External {
		return false
	}
	_, ok := e.Internal.(eventbus.PlSend)
	return ok
}

func (p *PerfectLink) Handle(e eventbus.Event) {
	send, ok := e.Internal.(eventbus.PlSend)
	if !ok {
		return
	}
	p.send(context.Background(), e.System, send)
}

// send wraps msg in a NETWORK_MESSAGE envelope and delivers it to dest over
// a fresh connection. Failure is logged and dropped per §4.2 — EPFD and EC
// above tolerate loss.
func (p *PerfectLink) send(ctx context.Context, systemID string, s eventbus.PlSend) (rErr error) {
	_, span := p.tracer.Start(ctx, "pl.send", trace.WithAttributes(
		observability.SystemAttr(systemID), attribute.String("msg", string(s.Msg.Type))))
	defer func() {
		if rErr != nil {
			span.RecordError(rErr)
			span.SetStatus(codes.Error, rErr.Error())
		}
		span.End()
	}()

	envelope := wire.NetworkMessage{
		SenderHost:          p.info.Self.Host,
		SenderListeningPort: int32(p.info.Self.Port),
		Message:             s.Msg,
	}
	wrapped, err := wire.New(systemID, "pl", wire.TypeNetworkMessage, envelope)
	if err != nil {
		p.log.Error("encode network message", logger.Error(err), logger.SystemID(systemID))
		rErr = err
		return rErr
	}

	conn, err := net.Dial("tcp", s.Dest.Addr())
	if err != nil {
		p.log.Debug("pl dial failed, dropping", logger.Error(err), logger.NodeID(s.Dest.ID))
		rErr = err
		return rErr
	}
	defer conn.Close()

	if err := wire.Encode(conn, wrapped); err != nil {
		p.log.Debug("pl send failed, dropping", logger.Error(err), logger.NodeID(s.Dest.ID))
		rErr = err
		return rErr
	}
	return nil
}

// ListenAndServe accepts inbound connections until ctx is canceled,
// decoding one frame per connection and posting the resulting event onto
// the bus. It is the "accepting task" of §5's concurrency model.
func (p *PerfectLink) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", p.info.Self.Addr())
	if err != nil {
		return fmt.Errorf("pl listen on %s: %w", p.info.Self.Addr(), err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				p.log.Debug("pl accept error", logger.Error(err))
				continue
			}
		}
		go p.serve(conn)
	}
}

func (p *PerfectLink) serve(conn net.Conn) {
	defer conn.Close()

	_, span := p.tracer.Start(context.Background(), "pl.serve", trace.WithSpanKind(trace.SpanKindServer))
	var rErr error
	defer func() {
		if rErr != nil {
			span.RecordError(rErr)
			span.SetStatus(codes.Error, rErr.Error())
		}
		span.End()
	}()

	outer, err := wire.Decode(conn)
	if err != nil {
		p.log.Debug("pl decode failed, dropping connection", logger.Error(err))
		rErr = err
		return
	}
	if outer.Type != wire.TypeNetworkMessage {
		p.log.Debug("pl ignoring non-network-message frame", slog.String("type", string(outer.Type)))
		return
	}
	var envelope wire.NetworkMessage
	if err := outer.Decode(&envelope); err != nil {
		p.log.Debug("pl decode envelope failed, dropping", logger.Error(err))
		rErr = err
		return
	}
	span.SetAttributes(observability.SystemAttr(outer.SystemID))

	sender, ok := p.info.FindByAddr(envelope.SenderHost, int(envelope.SenderListeningPort))
	if !ok {
		p.log.Debug("pl dropping message from unknown sender",
			slog.String("host", envelope.SenderHost), slog.Int("port", int(envelope.SenderListeningPort)))
		return
	}

	inner := envelope.Message
	systemID := outer.SystemID

	if inner.Type == wire.TypeAppPropose {
		var propose wire.AppPropose
		if err := inner.Decode(&propose); err != nil {
			p.log.Debug("pl decode app_propose failed, dropping", logger.Error(err))
			return
		}
		p.bus.Push(eventbus.InternalEvent(systemID, eventbus.AppPropose{From: sender, Payload: propose}))
		return
	}

	p.bus.Push(eventbus.InternalEvent(systemID, eventbus.PlDeliver{From: sender, Msg: inner}))
}
