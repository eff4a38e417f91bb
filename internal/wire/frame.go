// Package wire encodes scan and position frames into datagrams and back.
//
// Two encodings are supported. The text encoding is the ASCII format spoken
// by existing peers:
//
//	scan:     "<seq>:<idx>,<dist>;<idx>,<dist>;...\n"
//	position: "<seq>:<x>,<y>"
//
// The binary encoding wraps the same fields in a CBOR envelope. Codecs are
// pure transforms and safe for concurrent use.
package wire

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// Reading is one ray of a scan: the ray index and its measured distance.
type Reading struct {
	Index    int     `cbor:"0,keyasint"`
	Distance float64 `cbor:"1,keyasint"`
}

// ScanFrame is one snapshot of the scanner. Frames built by a source carry
// every ray in index order; decoded frames may omit rays whose pairs were
// malformed on the wire.
type ScanFrame struct {
	Readings []Reading
	// Skipped counts pairs dropped while decoding.
	Skipped int
}

// NewScanFrame builds a frame from a full distance array, ray i at index i.
func NewScanFrame(distances []float64) ScanFrame {
	readings := make([]Reading, len(distances))
	for i, d := range distances {
		readings[i] = Reading{Index: i, Distance: d}
	}
	return ScanFrame{Readings: readings}
}

// Len returns the number of readings in the frame.
func (f ScanFrame) Len() int { return len(f.Readings) }

// Distances returns the frame as a dense array of n rays. Rays absent from
// the frame are set to fill.
func (f ScanFrame) Distances(n int, fill float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = fill
	}
	for _, r := range f.Readings {
		if r.Index >= 0 && r.Index < n {
			out[r.Index] = r.Distance
		}
	}
	return out
}

// Position is the payload of a position frame.
type Position = r2.Point

// checkPosition rejects coordinates that are NaN or infinite. Every
// position codec applies it after decoding.
func checkPosition(x, y float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return malformed("position", fmt.Sprintf("(%v, %v) is not finite", x, y), nil)
	}
	return nil
}

// Codec converts a payload and its sequence number to a datagram and back.
type Codec[P any] interface {
	Encode(seq uint64, payload P) ([]byte, error)
	Decode(b []byte) (uint64, P, error)
}

// ErrMalformedFrame is the cause of every decode failure.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeError describes a datagram that could not be decoded. The caller
// drops the frame and carries on.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %s: %v", ErrMalformedFrame, e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s %s", ErrMalformedFrame, e.Field, e.Reason)
}

// Unwrap exposes ErrMalformedFrame and the parse error, if any.
func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedFrame, e.Err}
	}
	return []error{ErrMalformedFrame}
}

func malformed(field, reason string, err error) error {
	return &DecodeError{Field: field, Reason: reason, Err: err}
}
