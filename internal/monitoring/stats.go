package monitoring

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ArrivalWindow bounds how many recent inter-arrival gaps feed the jitter
// summary. Older gaps are overwritten, so a link that is never reset keeps
// constant memory.
const ArrivalWindow = 1024

// LinkSnapshot is a point-in-time copy of a LinkStats interval.
type LinkSnapshot struct {
	Link         string        `json:"link"`
	Duration     time.Duration `json:"duration_ns"`
	Sent         int64         `json:"sent"`
	SendErrors   int64         `json:"send_errors"`
	Suppressed   int64         `json:"suppressed"`
	Received     int64         `json:"received"`
	Bytes        int64         `json:"bytes"`
	InOrder      int64         `json:"in_order"`
	Stale        int64         `json:"stale"`
	Gaps         int64         `json:"gaps"`
	Lost         int64         `json:"lost"`
	DecodeErrors int64         `json:"decode_errors"`
	// Inter-arrival mean and standard deviation in seconds over the last
	// ArrivalWindow gaps of the interval. Zero when fewer than two gaps
	// were seen.
	ArrivalMean   float64 `json:"arrival_mean_s"`
	ArrivalStdDev float64 `json:"arrival_stddev_s"`
}

// LinkStats tracks per-link traffic and sequencing counters. Counters are
// reset by GetAndReset so each logged line covers one interval.
type LinkStats struct {
	mu      sync.Mutex
	name    string
	metrics *Metrics

	sent         int64
	sendErrors   int64
	suppressed   int64
	received     int64
	byteCount    int64
	inOrder      int64
	stale        int64
	gaps         int64
	lost         int64
	decodeErrors int64

	lastArrival time.Time
	arrivals    []float64 // ring of ArrivalWindow gaps
	arrivalNext int
	lastReset   time.Time
}

// NewLinkStats creates stats for the named link. metrics may be nil.
func NewLinkStats(name string, metrics *Metrics) *LinkStats {
	return &LinkStats{name: name, metrics: metrics, lastReset: time.Now()}
}

// Name returns the link label.
func (s *LinkStats) Name() string { return s.name }

func (s *LinkStats) AddSent(bytes int) {
	s.mu.Lock()
	s.sent++
	s.byteCount += int64(bytes)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.FramesSent.WithLabelValues(s.name).Inc()
		s.metrics.Bytes.WithLabelValues(s.name, "out").Add(float64(bytes))
	}
}

func (s *LinkStats) AddSendError() {
	s.mu.Lock()
	s.sendErrors++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SendErrors.WithLabelValues(s.name).Inc()
	}
}

// AddSuppressed counts a frame that was deliberately not sent.
func (s *LinkStats) AddSuppressed(reason string) {
	s.mu.Lock()
	s.suppressed++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Suppressed.WithLabelValues(s.name, reason).Inc()
	}
}

// AddReceived counts one inbound datagram arriving at the given time.
func (s *LinkStats) AddReceived(bytes int, at time.Time) {
	s.mu.Lock()
	s.received++
	s.byteCount += int64(bytes)
	var gap float64
	if !s.lastArrival.IsZero() {
		gap = at.Sub(s.lastArrival).Seconds()
		s.addArrival(gap)
	}
	first := s.lastArrival.IsZero()
	s.lastArrival = at
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.FramesReceived.WithLabelValues(s.name).Inc()
		s.metrics.Bytes.WithLabelValues(s.name, "in").Add(float64(bytes))
		if !first {
			s.metrics.InterArrival.WithLabelValues(s.name).Observe(gap)
		}
	}
}

func (s *LinkStats) addArrival(gap float64) {
	if s.arrivals == nil {
		s.arrivals = make([]float64, 0, ArrivalWindow)
	}
	if len(s.arrivals) < ArrivalWindow {
		s.arrivals = append(s.arrivals, gap)
		return
	}
	s.arrivals[s.arrivalNext] = gap
	s.arrivalNext = (s.arrivalNext + 1) % ArrivalWindow
}

func (s *LinkStats) AddInOrder() { s.addClass(&s.inOrder, "in_order") }
func (s *LinkStats) AddStale()   { s.addClass(&s.stale, "stale") }

// AddGap counts a gap classification that skipped lost frames.
func (s *LinkStats) AddGap(lost uint64) {
	s.mu.Lock()
	s.lost += int64(lost)
	s.mu.Unlock()
	s.addClass(&s.gaps, "gap")
	if s.metrics != nil {
		s.metrics.FramesLost.WithLabelValues(s.name).Add(float64(lost))
	}
}

func (s *LinkStats) AddDecodeError() {
	s.mu.Lock()
	s.decodeErrors++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.DecodeErrors.WithLabelValues(s.name).Inc()
	}
}

func (s *LinkStats) addClass(counter *int64, class string) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.Classified.WithLabelValues(s.name, class).Inc()
	}
}

// Snapshot returns the current interval without resetting it.
func (s *LinkStats) Snapshot() LinkSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(time.Now())
}

// GetAndReset returns the current interval and starts a new one.
func (s *LinkStats) GetAndReset() LinkSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	snap := s.snapshotLocked(now)

	s.sent, s.sendErrors, s.suppressed = 0, 0, 0
	s.received, s.byteCount = 0, 0
	s.inOrder, s.stale, s.gaps, s.lost, s.decodeErrors = 0, 0, 0, 0, 0
	s.arrivals = s.arrivals[:0]
	s.arrivalNext = 0
	s.lastReset = now
	return snap
}

func (s *LinkStats) snapshotLocked(now time.Time) LinkSnapshot {
	snap := LinkSnapshot{
		Link:         s.name,
		Duration:     now.Sub(s.lastReset),
		Sent:         s.sent,
		SendErrors:   s.sendErrors,
		Suppressed:   s.suppressed,
		Received:     s.received,
		Bytes:        s.byteCount,
		InOrder:      s.inOrder,
		Stale:        s.stale,
		Gaps:         s.gaps,
		Lost:         s.lost,
		DecodeErrors: s.decodeErrors,
	}
	if len(s.arrivals) >= 2 {
		snap.ArrivalMean, snap.ArrivalStdDev = stat.MeanStdDev(s.arrivals, nil)
	}
	return snap
}

// LogStats logs and resets the current interval. Quiet intervals are skipped.
func (s *LinkStats) LogStats() {
	snap := s.GetAndReset()
	if line := snap.String(); line != "" {
		Logf("%s", line)
	}
}

// String formats the snapshot as a per-second rate line, or "" when nothing
// happened in the interval.
func (snap LinkSnapshot) String() string {
	if snap.Sent == 0 && snap.Received == 0 && snap.Suppressed == 0 && snap.SendErrors == 0 {
		return ""
	}
	secs := snap.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] stats (/sec): %.1f KB", snap.Link, float64(snap.Bytes)/secs/1024)
	if snap.Sent > 0 {
		fmt.Fprintf(&b, ", %.1f sent", float64(snap.Sent)/secs)
	}
	if snap.Received > 0 {
		fmt.Fprintf(&b, ", %.1f received", float64(snap.Received)/secs)
	}
	if snap.Gaps > 0 || snap.Stale > 0 {
		fmt.Fprintf(&b, ", %s lost in %d gaps, %d stale", formatWithCommas(snap.Lost), snap.Gaps, snap.Stale)
	}
	if snap.DecodeErrors > 0 {
		fmt.Fprintf(&b, ", %d malformed", snap.DecodeErrors)
	}
	if snap.Suppressed > 0 {
		fmt.Fprintf(&b, ", %d suppressed", snap.Suppressed)
	}
	if snap.SendErrors > 0 {
		fmt.Fprintf(&b, ", %d send errors", snap.SendErrors)
	}
	if snap.ArrivalMean > 0 {
		fmt.Fprintf(&b, ", interval %.1f±%.1f ms", snap.ArrivalMean*1000, snap.ArrivalStdDev*1000)
	}
	return b.String()
}

// formatWithCommas formats a number with thousands separators
func formatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
