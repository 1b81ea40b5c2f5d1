package epfd_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unicitynetwork/uce/epfd"
	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

var obs = observability.NewNoop(nil)

func threeNodeInfo() node.Info {
	a := node.Node{Host: "10.0.0.1", Port: 9001, ID: 1, Rank: 1}
	b := node.Node{Host: "10.0.0.2", Port: 9001, ID: 2, Rank: 2}
	c := node.Node{Host: "10.0.0.3", Port: 9001, ID: 3, Rank: 3}
	return node.Info{Self: a, Peers: []node.Node{a, b, c}}
}

// collector records every event posted to the bus, regardless of system,
// so tests can assert on what a handler pushed without depending on Bus's
// internal queue representation.
type collector struct{ got []eventbus.Event }

func (c *collector) ShouldHandle(eventbus.Event) bool { return true }
func (c *collector) Handle(e eventbus.Event)          { c.got = append(c.got, e) }

func drain(t *testing.T, bus *eventbus.Bus) []eventbus.Event {
	t.Helper()
	c := &collector{}
	bus.Register(c)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	bus.Run(ctx)
	return c.got
}

func TestEpfdTimeoutSuspectsSilentPeersAndHeartbeatsEveryone(t *testing.T) {
	info := threeNodeInfo()
	bus := eventbus.New(obs)
	f := epfd.New(bus, "sys-1", info, time.Second, obs)
	bus.Register(f)

	bus.Push(eventbus.InternalEvent("sys-1", eventbus.EpfdTimeout{}))
	events := drain(t, bus)

	var suspects []node.Node
	var sends []eventbus.PlSend
	for _, ev := range events {
		switch m := ev.Internal.(type) {
		case eventbus.EpfdSuspect:
			suspects = append(suspects, m.Node)
		case eventbus.PlSend:
			sends = append(sends, m)
		}
	}

	require.Len(t, suspects, 2) // peers 2 and 3, never heard from
	require.Len(t, sends, 2)    // heartbeat request to every peer but self
	for _, s := range sends {
		require.Equal(t, wire.TypeEpfdHeartbeatRequest, s.Msg.Type)
	}
}

func TestEpfdHeartbeatReplyMarksPeerAliveAndSuppressesSuspicionNextRound(t *testing.T) {
	info := threeNodeInfo()
	bus := eventbus.New(obs)
	f := epfd.New(bus, "sys-1", info, time.Second, obs)
	bus.Register(f)

	// First round: nobody has replied yet, peers 2 and 3 get suspected.
	bus.Push(eventbus.InternalEvent("sys-1", eventbus.EpfdTimeout{}))
	drain(t, bus)

	reply, err := wire.New("sys-1", "epfd", wire.TypeEpfdHeartbeatReply, wire.EpfdHeartbeatReply{})
	require.NoError(t, err)
	bus.Push(eventbus.InternalEvent("sys-1", eventbus.PlDeliver{From: info.Peers[1], Msg: reply}))
	drain(t, bus)

	// Second round: peer 2 replied, so it should be restored.
	bus.Push(eventbus.InternalEvent("sys-1", eventbus.EpfdTimeout{}))
	events := drain(t, bus)

	var restores []node.Node
	for _, ev := range events {
		if r, ok := ev.Internal.(eventbus.EpfdRestore); ok {
			restores = append(restores, r.Node)
		}
	}
	require.Len(t, restores, 1)
	require.Equal(t, uint32(2), restores[0].ID)
}

func TestEpfdHeartbeatRequestIsAnsweredWithReply(t *testing.T) {
	info := threeNodeInfo()
	bus := eventbus.New(obs)
	f := epfd.New(bus, "sys-1", info, time.Second, obs)
	bus.Register(f)

	req, err := wire.New("sys-1", "epfd", wire.TypeEpfdHeartbeatRequest, wire.EpfdHeartbeatRequest{})
	require.NoError(t, err)
	bus.Push(eventbus.InternalEvent("sys-1", eventbus.PlDeliver{From: info.Peers[1], Msg: req}))
	events := drain(t, bus)

	var sends []eventbus.PlSend
	for _, ev := range events {
		if s, ok := ev.Internal.(eventbus.PlSend); ok {
			sends = append(sends, s)
		}
	}
	require.Len(t, sends, 1)
	require.Equal(t, wire.TypeEpfdHeartbeatReply, sends[0].Msg.Type)
	require.Equal(t, info.Peers[1].ID, sends[0].Dest.ID)
}
