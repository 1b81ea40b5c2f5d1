package ec_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unicitynetwork/uce/ec"
	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/wire"
)

var obs = observability.NewNoop(nil)

func threeNodeInfo(selfRank int) node.Info {
	a := node.Node{ID: 1, Rank: 1}
	b := node.Node{ID: 2, Rank: 2}
	c := node.Node{ID: 3, Rank: 3}
	peers := []node.Node{a, b, c}
	self := peers[selfRank-1]
	return node.Info{Self: self, Peers: peers}
}

func TestEcBecomingLeaderBumpsTsByNAndBroadcasts(t *testing.T) {
	info := threeNodeInfo(3) // self is rank 3
	bus := eventbus.New(obs)
	c := ec.New(bus, "sys-1", info, obs)

	e := eventbus.InternalEvent("sys-1", eventbus.EldTrust{Leader: info.Self})
	require.True(t, c.ShouldHandle(e))
	c.Handle(e)

	require.Equal(t, 1, bus.Len())
	send := popLast(bus).Internal.(eventbus.BebBroadcast)
	var payload wire.EcNewEpoch
	require.NoError(t, send.Msg.Decode(&payload))
	require.Equal(t, uint64(6), payload.Timestamp) // rank 3 + N(3) = 6
}

func TestEcAcceptsNewEpochFromTrustedLeaderWithAdvancingTimestamp(t *testing.T) {
	info := threeNodeInfo(1)
	bus := eventbus.New(obs)
	c := ec.New(bus, "sys-1", info, obs)

	c.Handle(eventbus.InternalEvent("sys-1", eventbus.EldTrust{Leader: info.Peers[2]})) // trust rank-3 peer

	msg, err := wire.New("sys-1", "ec", wire.TypeEcNewEpoch, wire.EcNewEpoch{Timestamp: 3})
	require.NoError(t, err)
	e := eventbus.InternalEvent("sys-1", eventbus.BebDeliver{From: info.Peers[2], Msg: msg})
	require.True(t, c.ShouldHandle(e))
	c.Handle(e)

	start := popLast(bus).Internal.(eventbus.EcStartEpoch)
	require.Equal(t, uint64(3), start.Ts)
	require.Equal(t, info.Peers[2].ID, start.Leader.ID)
}

func TestEcNacksNewEpochFromUntrustedLeader(t *testing.T) {
	info := threeNodeInfo(1)
	bus := eventbus.New(obs)
	c := ec.New(bus, "sys-1", info, obs)

	c.Handle(eventbus.InternalEvent("sys-1", eventbus.EldTrust{Leader: info.Peers[2]})) // trust rank-3

	msg, err := wire.New("sys-1", "ec", wire.TypeEcNewEpoch, wire.EcNewEpoch{Timestamp: 2})
	require.NoError(t, err)
	// rank-2 peer claims a new epoch despite not being trusted.
	c.Handle(eventbus.InternalEvent("sys-1", eventbus.BebDeliver{From: info.Peers[1], Msg: msg}))

	send := popLast(bus).Internal.(eventbus.PlSend)
	require.Equal(t, wire.TypeEcNack, send.Msg.Type)
	require.Equal(t, info.Peers[1].ID, send.Dest.ID)
}

func TestEcNackReBumpsWhenSelfIsTrustedLeader(t *testing.T) {
	info := threeNodeInfo(3)
	bus := eventbus.New(obs)
	c := ec.New(bus, "sys-1", info, obs)

	c.Handle(eventbus.InternalEvent("sys-1", eventbus.EldTrust{Leader: info.Self})) // ts: 3 -> 6
	popLast(bus)

	nack, err := wire.New("sys-1", "ec", wire.TypeEcNack, wire.EcNack{})
	require.NoError(t, err)
	c.Handle(eventbus.InternalEvent("sys-1", eventbus.PlDeliver{From: info.Peers[0], Msg: nack}))

	send := popLast(bus).Internal.(eventbus.BebBroadcast)
	var payload wire.EcNewEpoch
	require.NoError(t, send.Msg.Decode(&payload))
	require.Equal(t, uint64(9), payload.Timestamp) // 6 + N(3) = 9
}

// popLast drains the bus through one short Run pass via a throwaway
// collector and returns the last event observed. These tests call Handle
// directly (bypassing Bus.Run), so exactly one event is queued per
// assertion.
func popLast(bus *eventbus.Bus) eventbus.Event {
	c := &onceCollector{}
	bus.Register(c)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	bus.Run(ctx)
	var got eventbus.Event
	if len(c.got) > 0 {
		got = c.got[len(c.got)-1]
	}
	return got
}

type onceCollector struct{ got []eventbus.Event }

func (c *onceCollector) ShouldHandle(eventbus.Event) bool { return true }
func (c *onceCollector) Handle(e eventbus.Event)          { c.got = append(c.got, e) }
