package position

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/golang/geo/r2"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanlink/internal/channel"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
	"github.com/banshee-data/scanlink/internal/wire"
)

// Mover reports the local entity's position at a point in time.
type Mover func(now time.Time) r2.Point

// Orbit returns a Mover circling center at radius, one lap per period.
func Orbit(center r2.Point, radius float64, period time.Duration) Mover {
	return func(now time.Time) r2.Point {
		phase := 2 * math.Pi * float64(now.UnixNano()%int64(period)) / float64(period)
		sin, cos := math.Sincos(phase)
		return center.Add(r2.Point{X: cos, Y: sin}.Mul(radius))
	}
}

// NodeConfig configures one side of the position demo.
type NodeConfig struct {
	Name string
	// Listen is the local bind address, e.g. ":5000".
	Listen string
	// Peer is where this node sends its own position.
	Peer        string
	Codec       wire.Codec[wire.Position]
	Interval    time.Duration
	PeerTimeout time.Duration
	Mover       Mover
	Clock       timeutil.Clock
	Factory     transport.UDPSocketFactory
	Metrics     *monitoring.Metrics
}

// Node sends its own position to one peer and tracks every peer that sends
// to it. The outbound link has its own sequence counter; each inbound peer
// has its own tracker.
type Node struct {
	cfg      NodeConfig
	ep       *transport.Endpoint
	peer     *net.UDPAddr
	sender   *channel.Sender[wire.Position]
	receiver *channel.Receiver[wire.Position]
	table    *Table
}

// NewNode binds the node's endpoint.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.Codec == nil {
		cfg.Codec = wire.PositionText{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.Mover == nil {
		cfg.Mover = Orbit(r2.Point{}, 1, 4*time.Second)
	}
	if cfg.Name == "" {
		cfg.Name = "position"
	}

	peer, err := net.ResolveUDPAddr("udp", cfg.Peer)
	if err != nil {
		return nil, fmt.Errorf("resolve peer %q: %w", cfg.Peer, err)
	}
	// One socket both sends and receives so the peer sees a stable source
	// address.
	ep, err := transport.Bind(cfg.Listen, transport.Config{Factory: cfg.Factory})
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:   cfg,
		ep:    ep,
		peer:  peer,
		table: NewTable(cfg.PeerTimeout),
	}
	n.sender = channel.NewSender(cfg.Name+"-out", cfg.Codec, ep, monitoring.NewLinkStats(cfg.Name+"-out", cfg.Metrics))
	n.receiver = channel.NewReceiver(channel.ReceiverConfig[wire.Position]{
		Name:    cfg.Name + "-in",
		Codec:   cfg.Codec,
		Conn:    ep,
		Handler: n.handle,
		Stats:   monitoring.NewLinkStats(cfg.Name+"-in", cfg.Metrics),
		Clock:   cfg.Clock,
	})
	return n, nil
}

func (n *Node) handle(f channel.Frame[wire.Position]) {
	key := "local"
	if f.From != nil {
		key = f.From.String()
	}
	if n.table.Apply(key, f.Seq, f.Payload, f.At) {
		monitoring.Logf("[%s] new peer %s at (%.2f, %.2f)", n.cfg.Name, key, f.Payload.X, f.Payload.Y)
	}
}

// Table returns the peer table.
func (n *Node) Table() *Table { return n.table }

// LocalAddr returns the bound address.
func (n *Node) LocalAddr() string { return n.ep.LocalAddr().String() }

// Close releases the node's endpoint. It is only needed when Run is never
// called; Run closes the endpoint itself on return.
func (n *Node) Close() error { return n.ep.Close() }

// Run sends, receives and expires peers until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.receiver.Run(ctx) })

	g.Go(func() error {
		ticker := n.cfg.Clock.NewTicker(n.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C():
				if _, err := n.sender.Send(n.cfg.Mover(now), n.peer); err != nil {
					monitoring.Logf("[%s] send failed: %v", n.cfg.Name, err)
				}
				for _, key := range n.table.Expire(now) {
					n.receiver.Forget(key)
					monitoring.Logf("[%s] peer %s timed out", n.cfg.Name, key)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		return n.ep.Close()
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("position node %s: %w", n.cfg.Name, err)
	}
	return nil
}

// Links returns the outbound and inbound link stats.
func (n *Node) Links() []*monitoring.LinkStats {
	return []*monitoring.LinkStats{n.sender.Stats(), n.receiver.Stats()}
}
