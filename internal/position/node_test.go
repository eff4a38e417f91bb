package position

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
)

func TestNodeSendsReceivesAndExpires(t *testing.T) {
	remote := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5000}
	sock := transport.NewMockUDPSocket(
		transport.MockUDPPacket{Data: []byte("1:4,5"), Addr: remote},
		transport.MockUDPPacket{Data: []byte("3:6,7"), Addr: remote},
		transport.MockUDPPacket{Data: []byte("2:0,0"), Addr: remote},
	)
	clock := timeutil.NewMockClock(time.Unix(0, 0))

	n, err := NewNode(NodeConfig{
		Name:        "demo",
		Listen:      ":5000",
		Peer:        "10.0.0.9:5000",
		Interval:    100 * time.Millisecond,
		PeerTimeout: time.Second,
		Mover:       func(time.Time) r2.Point { return r2.Point{X: 1, Y: 2} },
		Clock:       clock,
		Factory:     &transport.MockUDPSocketFactory{Socket: sock},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// Stale frame 2 is discarded, so the table holds frame 3.
	require.Eventually(t, func() bool {
		p, ok := n.Table().Get(remote.String())
		return ok && p.Seq == 3
	}, time.Second, time.Millisecond)
	p, _ := n.Table().Get(remote.String())
	assert.Equal(t, r2.Point{X: 6, Y: 7}, p.Position)

	// Tick the sender once the ticker is registered.
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return len(sock.Sent()) > 0
	}, time.Second, time.Millisecond)
	sent := sock.Sent()
	assert.Equal(t, "1:1,2", string(sent[0].Data))
	assert.Equal(t, remote.String(), sent[0].Addr.String())

	// Silence past the timeout retires the peer.
	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		return n.Table().Len() == 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	assert.True(t, sock.Closed())
	assert.Len(t, n.Links(), 2)
}

func TestNewNodeRejectsBadPeer(t *testing.T) {
	_, err := NewNode(NodeConfig{Listen: ":0", Peer: "no-port"})
	assert.Error(t, err)
}

func TestNodeCloseWithoutRun(t *testing.T) {
	sock := transport.NewMockUDPSocket()
	n, err := NewNode(NodeConfig{
		Listen:  ":5000",
		Peer:    "10.0.0.9:5000",
		Factory: &transport.MockUDPSocketFactory{Socket: sock},
	})
	require.NoError(t, err)
	require.NoError(t, n.Close())
	assert.True(t, sock.Closed())
}
