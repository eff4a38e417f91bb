package replay

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlink/internal/timeutil"
)

type capturedPacket struct {
	at      time.Time
	srcPort int
	dstPort int
	payload string
}

func buildCapture(t *testing.T, pkts []capturedPacket) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, p := range pkts {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 2),
			DstIP:    net.IPv4(10, 0, 0, 3),
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(p.srcPort), DstPort: layers.UDPPort(p.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(p.payload)))
		data := sb.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     p.at,
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return &buf
}

type recorder struct {
	mu    sync.Mutex
	got   []string
	froms []*net.UDPAddr
}

func (r *recorder) HandleDatagram(b []byte, from *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, string(b))
	r.froms = append(r.froms, from)
}

func TestReader_FiltersByPort(t *testing.T) {
	base := time.Unix(1700000000, 0)
	buf := buildCapture(t, []capturedPacket{
		{at: base, srcPort: 40000, dstPort: 5000, payload: "1:0,3;1,4\n"},
		{at: base.Add(50 * time.Millisecond), srcPort: 40000, dstPort: 6000, payload: "RESET"},
		{at: base.Add(100 * time.Millisecond), srcPort: 40000, dstPort: 5000, payload: "2:0,3.5\n"},
	})

	rec := &recorder{}
	stats, err := Reader(context.Background(), buf, rec, Config{Port: 5000})
	require.NoError(t, err)

	assert.Equal(t, Stats{Packets: 3, Delivered: 2, Skipped: 1, Duration: 100 * time.Millisecond}, stats)
	assert.Equal(t, []string{"1:0,3;1,4\n", "2:0,3.5\n"}, rec.got)
	require.Len(t, rec.froms, 2)
	assert.True(t, rec.froms[0].IP.Equal(net.IPv4(10, 0, 0, 2)))
	assert.Equal(t, 40000, rec.froms[0].Port)
}

func TestReader_AllPortsWhenUnfiltered(t *testing.T) {
	base := time.Unix(1700000000, 0)
	buf := buildCapture(t, []capturedPacket{
		{at: base, srcPort: 1, dstPort: 5000, payload: "a"},
		{at: base, srcPort: 1, dstPort: 6000, payload: "b"},
	})
	rec := &recorder{}
	stats, err := Reader(context.Background(), buf, rec, Config{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Delivered)
}

func TestReader_PacedBySpeed(t *testing.T) {
	base := time.Unix(1700000000, 0)
	buf := buildCapture(t, []capturedPacket{
		{at: base, srcPort: 1, dstPort: 5000, payload: "a"},
		{at: base.Add(2 * time.Second), srcPort: 1, dstPort: 5000, payload: "b"},
	})
	clock := timeutil.NewMockClock(base)
	rec := &recorder{}

	done := make(chan Stats, 1)
	go func() {
		stats, _ := Reader(context.Background(), buf, rec, Config{Speed: 2, Clock: clock})
		done <- stats
	}()

	require.Eventually(t, func() bool { return clock.PendingTimers() == 1 }, 2*time.Second, time.Millisecond)
	rec.mu.Lock()
	assert.Equal(t, []string{"a"}, rec.got)
	rec.mu.Unlock()

	clock.Advance(time.Second)
	select {
	case stats := <-done:
		assert.Equal(t, 2, stats.Delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish after the scaled delay")
	}
}

func TestReader_Cancelled(t *testing.T) {
	base := time.Unix(1700000000, 0)
	buf := buildCapture(t, []capturedPacket{{at: base, srcPort: 1, dstPort: 5000, payload: "a"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := Reader(ctx, buf, &recorder{}, Config{})
	require.NoError(t, err)
	assert.Zero(t, stats.Packets)
}

func TestReader_BadHeader(t *testing.T) {
	_, err := Reader(context.Background(), bytes.NewBufferString("not a pcap"), &recorder{}, Config{})
	assert.Error(t, err)
}
