package wire

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/scanlink/internal/monitoring"
)

// ScanText is the ASCII scan codec.
type ScanText struct {
	// MaxDistance is the clamp ceiling; readings at or above it mean no obstacle.
	MaxDistance float64
	// Rays bounds accepted indices to [0, Rays). Zero disables the check.
	Rays int
	// Legacy omits the sequence prefix on encode.
	Legacy bool
}

// Encode writes one "idx,dist" pair per reading, distances clamped to
// [0, MaxDistance]. NaN readings are sent as MaxDistance.
func (c ScanText) Encode(seq uint64, f ScanFrame) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(f.Readings)*10 + 24)
	if !c.Legacy {
		buf.WriteString(strconv.FormatUint(seq, 10))
		buf.WriteByte(':')
	}
	for i, r := range f.Readings {
		if i > 0 {
			buf.WriteByte(';')
		}
		buf.WriteString(strconv.Itoa(r.Index))
		buf.WriteByte(',')
		buf.WriteString(formatFloat(c.clamp(r.Distance)))
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (c ScanText) clamp(d float64) float64 {
	if math.IsNaN(d) {
		return c.MaxDistance
	}
	return math.Min(math.Max(d, 0), c.MaxDistance)
}

// Decode parses a scan datagram. A datagram without a "<seq>:" prefix is a
// legacy unsequenced frame and decodes with sequence 0. Malformed pairs are
// logged and skipped; only an unparseable sequence or an empty datagram
// fails the whole frame.
func (c ScanText) Decode(b []byte) (uint64, ScanFrame, error) {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, ScanFrame{}, malformed("datagram", "is empty", nil)
	}

	var seq uint64
	if head, body, ok := strings.Cut(s, ":"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(head), 10, 64)
		if err != nil {
			return 0, ScanFrame{}, malformed("sequence", fmt.Sprintf("%q", head), err)
		}
		seq = n
		s = body
	}

	var frame ScanFrame
	if c.Rays > 0 {
		frame.Readings = make([]Reading, 0, c.Rays)
	}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		r, err := c.parsePair(pair)
		if err != nil {
			frame.Skipped++
			monitoring.Logf("[wire] skipping scan pair %q: %v", pair, err)
			continue
		}
		frame.Readings = append(frame.Readings, r)
	}
	return seq, frame, nil
}

func (c ScanText) parsePair(pair string) (Reading, error) {
	idxStr, distStr, ok := strings.Cut(pair, ",")
	if !ok || strings.Contains(distStr, ",") {
		return Reading{}, fmt.Errorf("want 2 fields")
	}
	idx, err := strconv.Atoi(strings.TrimSpace(idxStr))
	if err != nil {
		return Reading{}, fmt.Errorf("index: %w", err)
	}
	if idx < 0 || (c.Rays > 0 && idx >= c.Rays) {
		return Reading{}, fmt.Errorf("index %d out of range [0, %d)", idx, c.Rays)
	}
	dist, err := strconv.ParseFloat(strings.TrimSpace(distStr), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("distance: %w", err)
	}
	return Reading{Index: idx, Distance: dist}, nil
}

// PositionText is the ASCII position codec.
type PositionText struct{}

// Encode writes "<seq>:<x>,<y>".
func (PositionText) Encode(seq uint64, p Position) ([]byte, error) {
	buf := make([]byte, 0, 48)
	buf = strconv.AppendUint(buf, seq, 10)
	buf = append(buf, ':')
	buf = append(buf, formatFloat(p.X)...)
	buf = append(buf, ',')
	buf = append(buf, formatFloat(p.Y)...)
	return buf, nil
}

// Decode parses "<seq>:<x>,<y>". Every field is required.
func (PositionText) Decode(b []byte) (uint64, Position, error) {
	s := strings.TrimSpace(string(b))
	head, body, ok := strings.Cut(s, ":")
	if !ok {
		return 0, Position{}, malformed("sequence", "missing", nil)
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(head), 10, 64)
	if err != nil {
		return 0, Position{}, malformed("sequence", fmt.Sprintf("%q", head), err)
	}
	xs, ys, ok := strings.Cut(body, ",")
	if !ok {
		return 0, Position{}, malformed("position", "missing y", nil)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, Position{}, malformed("x", fmt.Sprintf("%q", xs), err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, Position{}, malformed("y", fmt.Sprintf("%q", ys), err)
	}
	if err := checkPosition(x, y); err != nil {
		return 0, Position{}, err
	}
	return seq, Position{X: x, Y: y}, nil
}

// formatFloat uses the shortest decimal form that parses back to f.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
