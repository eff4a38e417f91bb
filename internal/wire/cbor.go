package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so equal frames produce equal
// datagrams.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

type scanEnvelope struct {
	Seq      uint64    `cbor:"1,keyasint"`
	Readings []Reading `cbor:"2,keyasint"`
}

type positionEnvelope struct {
	Seq uint64  `cbor:"1,keyasint"`
	X   float64 `cbor:"2,keyasint"`
	Y   float64 `cbor:"3,keyasint"`
}

// ScanCBOR is the binary scan codec.
type ScanCBOR struct {
	MaxDistance float64
	Rays        int
}

// Encode clamps distances the same way as ScanText.
func (c ScanCBOR) Encode(seq uint64, f ScanFrame) ([]byte, error) {
	text := ScanText{MaxDistance: c.MaxDistance}
	env := scanEnvelope{Seq: seq, Readings: make([]Reading, len(f.Readings))}
	for i, r := range f.Readings {
		env.Readings[i] = Reading{Index: r.Index, Distance: text.clamp(r.Distance)}
	}
	return encMode.Marshal(env)
}

// Decode rejects undecodable envelopes and skips out-of-range readings.
func (c ScanCBOR) Decode(b []byte) (uint64, ScanFrame, error) {
	var env scanEnvelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return 0, ScanFrame{}, malformed("envelope", "is not valid CBOR", err)
	}
	frame := ScanFrame{Readings: env.Readings[:0]}
	for _, r := range env.Readings {
		if r.Index < 0 || (c.Rays > 0 && r.Index >= c.Rays) {
			frame.Skipped++
			continue
		}
		frame.Readings = append(frame.Readings, r)
	}
	return env.Seq, frame, nil
}

// PositionCBOR is the binary position codec.
type PositionCBOR struct{}

func (PositionCBOR) Encode(seq uint64, p Position) ([]byte, error) {
	return encMode.Marshal(positionEnvelope{Seq: seq, X: p.X, Y: p.Y})
}

func (PositionCBOR) Decode(b []byte) (uint64, Position, error) {
	var env positionEnvelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return 0, Position{}, malformed("envelope", "is not valid CBOR", err)
	}
	if err := checkPosition(env.X, env.Y); err != nil {
		return 0, Position{}, err
	}
	return env.Seq, Position{X: env.X, Y: env.Y}, nil
}

// NewScanCodec returns the scan codec for a configured wire format.
func NewScanCodec(format string, maxDistance float64, rays int, legacy bool) (Codec[ScanFrame], error) {
	switch format {
	case "", "text":
		return ScanText{MaxDistance: maxDistance, Rays: rays, Legacy: legacy}, nil
	case "cbor":
		return ScanCBOR{MaxDistance: maxDistance, Rays: rays}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
}

// NewPositionCodec returns the position codec for a configured wire format.
func NewPositionCodec(format string) (Codec[Position], error) {
	switch format {
	case "", "text":
		return PositionText{}, nil
	case "cbor":
		return PositionCBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
}
