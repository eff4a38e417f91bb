package control

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlink/internal/supervisor"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
)

type recordingTriggerer struct{ origins []supervisor.Origin }

func (r *recordingTriggerer) Trigger(o supervisor.Origin) bool {
	r.origins = append(r.origins, o)
	return true
}

type countingToggler struct {
	on      bool
	toggles int
}

func (c *countingToggler) Toggle() bool {
	c.on = !c.on
	c.toggles++
	return c.on
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"RESET", Reset},
		{"  reset\n", Reset},
		{"Toggle", Toggle},
		{"toggle_udpconnection", ToggleLink},
		{"RESET_URGINSTANCE\r\n", ResetSensor},
		{"reset_sensorapp", RestartApplication},
	}
	for _, tt := range tests {
		got, err := Parse([]byte(tt.in))
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Parse([]byte("REBOOT"))
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = Parse(nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDispatch(t *testing.T) {
	sup := &recordingTriggerer{}
	pub := &countingToggler{on: true}
	restarts := 0
	d := &Dispatcher{Supervisor: sup, Publisher: pub, RestartApp: func() { restarts++ }}

	require.NoError(t, d.Dispatch(Reset, supervisor.OriginControl))
	require.NoError(t, d.Dispatch(ResetSensor, supervisor.OriginHotkey))
	require.NoError(t, d.Dispatch(Toggle, supervisor.OriginControl))
	require.NoError(t, d.Dispatch(ToggleLink, supervisor.OriginControl))
	require.NoError(t, d.Dispatch(RestartApplication, supervisor.OriginHotkey))

	assert.Equal(t, []supervisor.Origin{supervisor.OriginControl, supervisor.OriginHotkey}, sup.origins)
	assert.Equal(t, 2, pub.toggles)
	assert.True(t, pub.on)
	assert.Equal(t, 1, restarts)

	assert.ErrorIs(t, d.Dispatch(Command("NOPE"), supervisor.OriginUI), ErrUnknownCommand)
}

func TestDispatch_NilTargets(t *testing.T) {
	d := &Dispatcher{}
	for _, c := range Commands {
		assert.NoError(t, d.Dispatch(c, supervisor.OriginControl))
	}
}

func TestListener_DispatchesAndIgnoresUnknown(t *testing.T) {
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 50000}
	sock := transport.NewMockUDPSocket(
		transport.MockUDPPacket{Data: []byte("reset\n"), Addr: from},
		transport.MockUDPPacket{Data: []byte("bogus"), Addr: from},
		transport.MockUDPPacket{Data: []byte("TOGGLE"), Addr: from},
	)
	ep, err := transport.Bind(":6000", transport.Config{
		Factory:      &transport.MockUDPSocketFactory{Socket: sock},
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	sup := &recordingTriggerer{}
	pub := &countingToggler{on: true}
	l := NewListener(ep, &Dispatcher{Supervisor: sup, Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		h, r := l.Counts()
		return h == 2 && r == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
	assert.True(t, sock.Closed())
	assert.Equal(t, []supervisor.Origin{supervisor.OriginControl}, sup.origins)
	assert.False(t, pub.on)
}

func TestClientSend(t *testing.T) {
	sock := transport.NewMockUDPSocket()
	c, err := Dial("127.0.0.1:6000", transport.Config{Factory: &transport.MockUDPSocketFactory{Socket: sock}})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(Reset))
	sent := sock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "RESET", string(sent[0].Data))
	assert.Equal(t, 6000, sent[0].Addr.Port)
}

func TestClientToListenerLoopback(t *testing.T) {
	ep, err := transport.Bind("127.0.0.1:0", transport.Config{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	sup := &recordingTriggerer{}
	l := NewListener(ep, &Dispatcher{Supervisor: sup})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	c, err := Dial(ep.LocalAddr().String(), transport.Config{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(ResetSensor))
	require.Eventually(t, func() bool {
		h, _ := l.Counts()
		return h == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type brokenConn struct {
	mu     sync.Mutex
	calls  int
	closed bool
}

func (c *brokenConn) Receive(context.Context) ([]byte, *net.UDPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, nil, errors.New("transport: receive: network is down")
}

func (c *brokenConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestListener_DisabledAfterRepeatedReceiveErrors(t *testing.T) {
	conn := &brokenConn{}
	l := NewListener(conn, &Dispatcher{})

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("listener kept retrying a failed endpoint")
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, transport.ReceiveFailureLimit, conn.calls)
	assert.True(t, conn.closed)
}

func TestListener_ReceiveBackoffUsesClock(t *testing.T) {
	conn := &brokenConn{}
	l := NewListener(conn, &Dispatcher{})
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	l.SetClock(clock)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.Equal(t, transport.ReceiveFailureLimit, conn.calls)
}
