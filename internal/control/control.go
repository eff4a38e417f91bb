// Package control implements the out-of-band command channel: a UDP
// listener that turns text tokens into supervisor and publisher actions,
// and the client that sends those tokens.
package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/supervisor"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
)

// DefaultPort is the control channel's UDP port.
const DefaultPort = 6000

// Command is a control token as sent on the wire.
type Command string

const (
	Reset              Command = "RESET"
	ResetSensor        Command = "RESET_URGINSTANCE"
	Toggle             Command = "TOGGLE"
	ToggleLink         Command = "TOGGLE_UDPCONNECTION"
	RestartApplication Command = "RESET_SENSORAPP"
)

// Commands lists every recognised token.
var Commands = []Command{Reset, ResetSensor, Toggle, ToggleLink, RestartApplication}

// ErrUnknownCommand is returned for tokens outside Commands.
var ErrUnknownCommand = errors.New("control: unknown command")

// Parse trims and upper-cases a datagram and maps it to a Command.
func Parse(b []byte) (Command, error) {
	tok := strings.ToUpper(strings.TrimSpace(string(b)))
	for _, c := range Commands {
		if tok == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, tok)
}

// Triggerer starts a sensor reset; *supervisor.Supervisor implements it.
type Triggerer interface {
	Trigger(origin supervisor.Origin) bool
}

// Toggler flips transmission on or off; *publisher.Publisher implements it.
type Toggler interface {
	Toggle() bool
}

// Dispatcher executes commands. Nil targets make their commands no-ops.
type Dispatcher struct {
	Supervisor Triggerer
	Publisher  Toggler
	// RestartApp is called for RESET_SENSORAPP.
	RestartApp func()
}

// Dispatch runs cmd on behalf of origin.
func (d *Dispatcher) Dispatch(cmd Command, origin supervisor.Origin) error {
	switch cmd {
	case Reset, ResetSensor:
		if d.Supervisor == nil {
			return nil
		}
		d.Supervisor.Trigger(origin)
	case Toggle, ToggleLink:
		if d.Publisher == nil {
			return nil
		}
		state := "off"
		if d.Publisher.Toggle() {
			state = "on"
		}
		monitoring.Logf("[control] %s toggled transmission %s", origin, state)
	case RestartApplication:
		monitoring.Logf("[control] %s requested application restart", origin)
		if d.RestartApp != nil {
			d.RestartApp()
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
	}
	return nil
}

// PacketReceiver is the part of a transport endpoint the listener reads.
type PacketReceiver interface {
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)
	Close() error
}

// Listener reads control datagrams and dispatches them.
type Listener struct {
	conn       PacketReceiver
	dispatcher *Dispatcher
	clock      timeutil.Clock

	mu       sync.Mutex
	handled  int
	rejected int
}

// NewListener wraps a bound endpoint.
func NewListener(conn PacketReceiver, d *Dispatcher) *Listener {
	return &Listener{conn: conn, dispatcher: d, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock that paces retries after receive errors.
func (l *Listener) SetClock(c timeutil.Clock) { l.clock = c }

// Run serves until ctx is cancelled or the endpoint is closed. It closes
// the endpoint on return. A persistently failing endpoint disables the
// listener after transport.ReceiveFailureLimit errors in a row.
func (l *Listener) Run(ctx context.Context) error {
	defer l.conn.Close()
	monitoring.Logf("[control] listener started")
	var backoff transport.ReceiveBackoff
	for {
		b, from, err := l.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				monitoring.Logf("[control] listener stopping")
				return nil
			}
			if backoff.Failures() == 0 {
				monitoring.Warnf("[control] receive error: %v", err)
			}
			if !backoff.Failed(l.clock, ctx.Done()) {
				if ctx.Err() == nil {
					monitoring.Warnf("[control] listener disabled after %d receive errors: %v", backoff.Failures(), err)
				}
				return nil
			}
			continue
		}
		backoff.Reset()
		l.Handle(b, from)
	}
}

// Handle processes a single datagram.
func (l *Listener) Handle(b []byte, from *net.UDPAddr) {
	cmd, err := Parse(b)
	if err == nil {
		monitoring.Logf("[control] %s from %v", cmd, from)
		err = l.dispatcher.Dispatch(cmd, supervisor.OriginControl)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.rejected++
		monitoring.Logf("[control] ignoring datagram from %v: %v", from, err)
		return
	}
	l.handled++
}

// Counts returns how many datagrams were dispatched and how many were
// ignored.
func (l *Listener) Counts() (handled, rejected int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handled, l.rejected
}

// Client sends control tokens to a remote listener.
type Client struct {
	ep *transport.Endpoint
}

// Dial opens a client whose datagrams go to addr, e.g. "10.0.0.5:6000".
func Dial(addr string, cfg transport.Config) (*Client, error) {
	ep, err := transport.Dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{ep: ep}, nil
}

// Send transmits cmd once. Sends are not retried.
func (c *Client) Send(cmd Command) error {
	if err := c.ep.Send([]byte(cmd), nil); err != nil {
		return fmt.Errorf("control: send %s: %w", cmd, err)
	}
	return nil
}

// Close releases the client's socket.
func (c *Client) Close() error { return c.ep.Close() }
