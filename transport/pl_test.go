package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/unicitynetwork/uce/eventbus"
	"github.com/unicitynetwork/uce/internal/observability"
	"github.com/unicitynetwork/uce/node"
	"github.com/unicitynetwork/uce/transport"
	"github.com/unicitynetwork/uce/wire"
)

var obs = observability.NewNoop(nil)

func twoNodeInfos(t *testing.T) (node.Info, node.Info) {
	t.Helper()
	a := node.Node{Owner: "a", Name: "a", Host: "127.0.0.1", Port: freePort(t), ID: 1, Rank: 1}
	b := node.Node{Owner: "b", Name: "b", Host: "127.0.0.1", Port: freePort(t), ID: 2, Rank: 2}
	peers := []node.Node{a, b}
	return node.Info{Self: a, Peers: peers}, node.Info{Self: b, Peers: peers}
}

// freePort asks the OS for an ephemeral port and releases it immediately;
// the small window before PerfectLink rebinds is acceptable for this test.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestPerfectLinkSendAndDeliver(t *testing.T) {
	defer goleak.VerifyNone(t)

	infoA, infoB := twoNodeInfos(t)

	busA := eventbus.New(obs)
	busB := eventbus.New(obs)

	plA := transport.New(busA, infoA, obs)
	plB := transport.New(busB, infoB, obs)
	busA.Register(plA)
	busB.Register(plB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- plB.ListenAndServe(ctx) }()
	time.Sleep(20 * time.Millisecond) // let the listener bind

	// busB is not run: the PlDeliver that plB posts stays in its queue, so
	// busB.Len() below observes it.
	go busA.Run(ctx)

	inner, err := wire.New("sys-1", "test", wire.TypeEpfdHeartbeatRequest, wire.EpfdHeartbeatRequest{})
	require.NoError(t, err)

	busA.Push(eventbus.InternalEvent("sys-1", eventbus.PlSend{From: infoA.Self, Dest: infoB.Self, Msg: inner}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for PlDeliver")
		default:
		}
		if busB.Len() == 0 {
			time.Sleep(10 * time.Millisecond)
		} else {
			break
		}
	}

	cancel()
	time.Sleep(50 * time.Millisecond)
	<-errCh
}
