// Package channel joins a wire codec, a sequence counter and a datagram
// endpoint into a sequenced, fire-and-forget link for one payload type.
// The same machinery carries scan frames and position frames.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/sequence"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
	"github.com/banshee-data/scanlink/internal/wire"
)

// PacketSender sends one datagram; *transport.Endpoint implements it.
type PacketSender interface {
	Send(b []byte, dst *net.UDPAddr) error
}

// PacketReceiver receives datagrams; *transport.Endpoint implements it.
type PacketReceiver interface {
	Receive(ctx context.Context) ([]byte, *net.UDPAddr, error)
	Close() error
}

// Sender numbers, encodes and sends payloads on one outbound link.
type Sender[P any] struct {
	codec wire.Codec[P]
	conn  PacketSender
	seq   *sequence.Enumerator
	stats *monitoring.LinkStats
}

// NewSender creates a Sender. stats may be nil.
func NewSender[P any](name string, codec wire.Codec[P], conn PacketSender, stats *monitoring.LinkStats) *Sender[P] {
	if stats == nil {
		stats = monitoring.NewLinkStats(name, nil)
	}
	return &Sender[P]{
		codec: codec,
		conn:  conn,
		seq:   sequence.NewEnumerator(),
		stats: stats,
	}
}

// Send encodes payload with the next sequence number and sends it to dst
// (nil for the connection's default destination). A sequence number is
// consumed even when the send fails, so the receiver sees the loss.
func (s *Sender[P]) Send(payload P, dst *net.UDPAddr) (uint64, error) {
	seq := s.seq.Next()
	b, err := s.codec.Encode(seq, payload)
	if err != nil {
		s.stats.AddSendError()
		return seq, fmt.Errorf("encode frame %d: %w", seq, err)
	}
	if err := s.conn.Send(b, dst); err != nil {
		s.stats.AddSendError()
		return seq, err
	}
	s.stats.AddSent(len(b))
	return seq, nil
}

// Stats returns the link's counters.
func (s *Sender[P]) Stats() *monitoring.LinkStats { return s.stats }

// Frame is one accepted payload handed to a Receiver's handler.
type Frame[P any] struct {
	Seq     uint64
	Payload P
	From    *net.UDPAddr
	// Class is InOrder for unsequenced frames.
	Class sequence.Classification
	// Sequenced is false for legacy frames that carry no sequence number.
	Sequenced bool
	At        time.Time
}

// AnomalyKind names a per-frame problem a receiver dropped or warned about.
type AnomalyKind string

const (
	AnomalyStale     AnomalyKind = "stale"
	AnomalyGap       AnomalyKind = "gap"
	AnomalyMalformed AnomalyKind = "malformed"
)

// Anomaly describes a stale, gapped or malformed datagram.
type Anomaly struct {
	Link     string
	Peer     string
	Kind     AnomalyKind
	Seq      uint64
	Expected uint64
	Lost     uint64
	Detail   string
	At       time.Time
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig[P any] struct {
	Name  string
	Codec wire.Codec[P]
	Conn  PacketReceiver
	// Handler is called for every accepted frame on the receive goroutine.
	Handler func(Frame[P])
	// OnAnomaly, if set, is called for stale, gapped and malformed frames.
	OnAnomaly func(Anomaly)
	Stats     *monitoring.LinkStats
	Clock     timeutil.Clock
}

// Receiver decodes and classifies datagrams from one endpoint. Each remote
// peer gets its own sequence tracker.
type Receiver[P any] struct {
	name      string
	codec     wire.Codec[P]
	conn      PacketReceiver
	handler   func(Frame[P])
	onAnomaly func(Anomaly)
	stats     *monitoring.LinkStats
	clock     timeutil.Clock

	mu       sync.Mutex
	trackers map[string]*sequence.Tracker
}

// NewReceiver creates a Receiver from cfg.
func NewReceiver[P any](cfg ReceiverConfig[P]) *Receiver[P] {
	stats := cfg.Stats
	if stats == nil {
		stats = monitoring.NewLinkStats(cfg.Name, nil)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	handler := cfg.Handler
	if handler == nil {
		handler = func(Frame[P]) {}
	}
	return &Receiver[P]{
		name:      cfg.Name,
		codec:     cfg.Codec,
		conn:      cfg.Conn,
		handler:   handler,
		onAnomaly: cfg.OnAnomaly,
		stats:     stats,
		clock:     clock,
		trackers:  make(map[string]*sequence.Tracker),
	}
}

// Run receives until ctx is cancelled or the connection is closed, then
// closes the connection and returns nil. Per-datagram errors are logged and
// never end the loop. Endpoint errors are retried with backoff; after
// transport.ReceiveFailureLimit in a row the receiver logs once and stops.
func (r *Receiver[P]) Run(ctx context.Context) error {
	defer r.conn.Close()
	monitoring.Logf("[%s] receiver started", r.name)

	var backoff transport.ReceiveBackoff
	for {
		b, from, err := r.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				monitoring.Logf("[%s] receiver stopping", r.name)
				return nil
			}
			if backoff.Failures() == 0 {
				monitoring.Warnf("[%s] receive error: %v", r.name, err)
			}
			if !backoff.Failed(r.clock, ctx.Done()) {
				if ctx.Err() == nil {
					monitoring.Warnf("[%s] receiver disabled after %d receive errors: %v", r.name, backoff.Failures(), err)
				}
				return nil
			}
			continue
		}
		backoff.Reset()
		r.HandleDatagram(b, from)
	}
}

// HandleDatagram processes one datagram. It is exported so captured
// traffic can be replayed through the same path.
func (r *Receiver[P]) HandleDatagram(b []byte, from *net.UDPAddr) {
	now := r.clock.Now()
	r.stats.AddReceived(len(b), now)
	peer := peerKey(from)

	seq, payload, err := r.codec.Decode(b)
	if err != nil {
		r.stats.AddDecodeError()
		monitoring.Warnf("[%s] dropping datagram from %s: %v", r.name, peer, err)
		r.anomaly(Anomaly{Peer: peer, Kind: AnomalyMalformed, Detail: err.Error(), At: now})
		return
	}

	frame := Frame[P]{Seq: seq, Payload: payload, From: from, Class: sequence.InOrder, At: now}
	if seq == 0 {
		// Legacy frames carry no sequence number; rate limiting is their only
		// loss mitigation.
		r.handler(frame)
		return
	}

	tracker := r.tracker(peer)
	expected := tracker.ExpectedNext()
	frame.Sequenced = true
	frame.Class = tracker.Classify(seq)

	switch frame.Class {
	case sequence.InOrder:
		r.stats.AddInOrder()
	case sequence.Stale:
		r.stats.AddStale()
		monitoring.Logf("[%s] discarding stale frame %d from %s (expected %d)", r.name, seq, peer, expected)
		r.anomaly(Anomaly{Peer: peer, Kind: AnomalyStale, Seq: seq, Expected: expected, At: now})
		return
	case sequence.Gap:
		lost := seq - expected
		r.stats.AddGap(lost)
		monitoring.Warnf("[%s] gap from %s: got %d, expected %d (%d lost)", r.name, peer, seq, expected, lost)
		r.anomaly(Anomaly{Peer: peer, Kind: AnomalyGap, Seq: seq, Expected: expected, Lost: lost, At: now})
	}
	r.handler(frame)
}

func (r *Receiver[P]) anomaly(a Anomaly) {
	if r.onAnomaly == nil {
		return
	}
	a.Link = r.name
	r.onAnomaly(a)
}

func (r *Receiver[P]) tracker(peer string) *sequence.Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[peer]
	if !ok {
		t = sequence.NewTracker()
		r.trackers[peer] = t
	}
	return t
}

// Peers returns the sequence counts of every peer seen so far.
func (r *Receiver[P]) Peers() map[string]sequence.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]sequence.Counts, len(r.trackers))
	for peer, t := range r.trackers {
		out[peer] = t.Counts()
	}
	return out
}

// Forget drops a peer's tracker so its next frame starts a fresh link.
func (r *Receiver[P]) Forget(peer string) {
	r.mu.Lock()
	delete(r.trackers, peer)
	r.mu.Unlock()
}

// Stats returns the link's counters.
func (r *Receiver[P]) Stats() *monitoring.LinkStats { return r.stats }

func peerKey(addr *net.UDPAddr) string {
	if addr == nil {
		return "local"
	}
	return addr.String()
}
