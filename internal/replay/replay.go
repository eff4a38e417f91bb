// Package replay feeds UDP payloads from a pcap capture into a datagram
// handler, optionally paced at the capture's original timing.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

// Handler consumes one datagram; channel.Receiver implements it.
type Handler interface {
	HandleDatagram(b []byte, from *net.UDPAddr)
}

// Config controls a replay.
type Config struct {
	// Port keeps only UDP packets sent to this destination port; 0 keeps all.
	Port int
	// Speed scales capture timing: 1 is real time, 2 twice as fast. Zero or
	// negative replays as fast as possible.
	Speed float64
	Clock timeutil.Clock
}

// Stats summarises a finished replay.
type Stats struct {
	Packets   int
	Delivered int
	Skipped   int
	Duration  time.Duration
}

// File replays the capture at path.
func File(ctx context.Context, path string, h Handler, cfg Config) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	return Reader(ctx, f, h, cfg)
}

// Reader replays a pcap stream. It returns when the stream ends or ctx is
// cancelled; cancellation is not an error.
func Reader(ctx context.Context, r io.Reader, h Handler, cfg Config) (Stats, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return Stats{}, fmt.Errorf("replay: read pcap header: %w", err)
	}

	var (
		stats     Stats
		first     time.Time
		last      time.Time
		startedAt = cfg.Clock.Now()
	)
	for {
		if ctx.Err() != nil {
			monitoring.Logf("[replay] stopping after %d packets", stats.Packets)
			return stats, nil
		}
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("replay: packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		if first.IsZero() {
			first = ci.Timestamp
		} else if cfg.Speed > 0 {
			delay := time.Duration(float64(ci.Timestamp.Sub(last)) / cfg.Speed)
			if !timeutil.Sleep(cfg.Clock, delay, ctx.Done()) {
				return stats, nil
			}
		}
		last = ci.Timestamp

		payload, from, ok := udpPayload(gopacket.NewPacket(data, pr.LinkType(), gopacket.NoCopy), cfg.Port)
		if !ok {
			stats.Skipped++
			continue
		}
		h.HandleDatagram(payload, from)
		stats.Delivered++
	}

	stats.Duration = last.Sub(first)
	monitoring.Logf("[replay] complete: %d packets, %d delivered, %d skipped in %v (capture span %v)",
		stats.Packets, stats.Delivered, stats.Skipped, cfg.Clock.Since(startedAt), stats.Duration)
	return stats, nil
}

func udpPayload(pkt gopacket.Packet, port int) ([]byte, *net.UDPAddr, bool) {
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, nil, false
	}
	if port != 0 && int(udp.DstPort) != port {
		return nil, nil, false
	}
	from := &net.UDPAddr{Port: int(udp.SrcPort)}
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		from.IP = ip.SrcIP
	case *layers.IPv6:
		from.IP = ip.SrcIP
	}
	return append([]byte(nil), udp.Payload...), from, true
}
