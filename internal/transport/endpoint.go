// Package transport wraps one UDP socket as a send/receive endpoint.
//
// Receive blocks until a datagram arrives, the context is cancelled, or the
// endpoint is closed. Closing an endpoint with a pending Receive makes that
// call return ErrClosed within one poll interval.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/scanlink/internal/monitoring"
)

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = errors.New("transport: endpoint closed")

// InitError reports that an endpoint could not be created. The owning
// component stays inert until it is reinitialized.
type InitError struct {
	Addr string
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("transport: failed to bind %s: %v", e.Addr, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// maxDatagram covers a full 1081-ray text scan with margin.
const maxDatagram = 64 * 1024

// Config holds optional endpoint settings. The zero value is usable.
type Config struct {
	// Factory creates the socket. Defaults to RealUDPSocketFactory.
	Factory UDPSocketFactory
	// RcvBuf sets the OS receive buffer when positive.
	RcvBuf int
	// PollInterval bounds how long a Receive waits before rechecking for
	// cancellation. Defaults to 100ms.
	PollInterval time.Duration
}

// Endpoint owns exactly one UDP socket.
type Endpoint struct {
	sock   UDPSocket
	remote *net.UDPAddr
	poll   time.Duration

	readMu sync.Mutex
	buf    []byte

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Bind opens an endpoint listening on addr, e.g. ":5000".
func Bind(addr string, cfg Config) (*Endpoint, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &InitError{Addr: addr, Err: err}
	}
	return open(addr, laddr, nil, cfg)
}

// Dial opens an endpoint on an ephemeral local port whose default
// destination is remote.
func Dial(remote string, cfg Config) (*Endpoint, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, &InitError{Addr: remote, Err: err}
	}
	return open(remote, &net.UDPAddr{}, raddr, cfg)
}

func open(name string, laddr, raddr *net.UDPAddr, cfg Config) (*Endpoint, error) {
	factory := cfg.Factory
	if factory == nil {
		factory = RealUDPSocketFactory{}
	}
	sock, err := factory.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &InitError{Addr: name, Err: err}
	}
	if cfg.RcvBuf > 0 {
		if err := sock.SetReadBuffer(cfg.RcvBuf); err != nil {
			monitoring.Logf("Warning: Failed to set UDP receive buffer size to %d: %v", cfg.RcvBuf, err)
		}
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Endpoint{
		sock:   sock,
		remote: raddr,
		poll:   poll,
		buf:    make([]byte, maxDatagram),
		closed: make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() net.Addr { return e.sock.LocalAddr() }

// Remote returns the default destination, or nil for a bound endpoint.
func (e *Endpoint) Remote() *net.UDPAddr { return e.remote }

// Send writes one datagram to dst, or to the default destination when dst
// is nil. Failures are returned, never retried.
func (e *Endpoint) Send(b []byte, dst *net.UDPAddr) error {
	if e.isClosed() {
		return ErrClosed
	}
	if dst == nil {
		dst = e.remote
	}
	if dst == nil {
		return errors.New("transport: no destination")
	}
	if _, err := e.sock.WriteToUDP(b, dst); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("transport: send to %s: %w", dst, err)
	}
	return nil
}

// Receive waits for the next datagram. The returned slice is owned by the
// caller.
func (e *Endpoint) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	e.readMu.Lock()
	defer e.readMu.Unlock()

	for {
		select {
		case <-e.closed:
			return nil, nil, ErrClosed
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		// The deadline lets the loop notice cancellation.
		_ = e.sock.SetReadDeadline(time.Now().Add(e.poll))
		n, addr, err := e.sock.ReadFromUDP(e.buf)
		if err != nil {
			if e.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil, nil, ErrClosed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, nil, fmt.Errorf("transport: receive: %w", err)
		}
		out := make([]byte, n)
		copy(out, e.buf[:n])
		return out, addr, nil
	}
}

// Close releases the socket. It is idempotent.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.closeErr = e.sock.Close()
	})
	return e.closeErr
}

func (e *Endpoint) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}
