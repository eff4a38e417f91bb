// Package publisher sends scan frames from a sensor source over a
// sequenced channel, suppressing frames that must not go out.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/sampler"
	"github.com/banshee-data/scanlink/internal/sensor"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/wire"
)

// Reasons a frame is not sent. Each is counted under its suppression label.
var (
	ErrDisabled          = errors.New("publisher: sending disabled")
	ErrPaused            = errors.New("publisher: paused for reset")
	ErrSourceUnavailable = errors.New("publisher: source unavailable")
	ErrFrameSize         = errors.New("publisher: wrong frame size")
	ErrRateLimited       = errors.New("publisher: rate limited")
)

// FrameSender is the outbound scan link; *channel.Sender[wire.ScanFrame]
// implements it.
type FrameSender interface {
	Send(f wire.ScanFrame, dst *net.UDPAddr) (uint64, error)
}

// LinkReader reports the sensor link state; *sensor.LinkStateCell
// implements it.
type LinkReader interface {
	Load() sensor.LinkState
}

// Config wires a Publisher.
type Config struct {
	Sender  FrameSender
	Link    LinkReader
	Sampler *sampler.Sampler
	// Rays is the required frame size.
	Rays  int
	Clock timeutil.Clock
	Stats *monitoring.LinkStats
}

// Publisher gates and sends frames. Sending can be switched off by the
// user (Toggle) and is held separately by the reset supervisor
// (Pause/Resume); a frame goes out only when both allow it.
type Publisher struct {
	cfg     Config
	enabled atomic.Bool
	paused  atomic.Bool
	blocked atomic.Bool
}

// New returns an enabled, unpaused Publisher.
func New(cfg Config) *Publisher {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Sampler == nil {
		cfg.Sampler = sampler.New(sampler.DefaultInterval)
	}
	if cfg.Stats == nil {
		cfg.Stats = monitoring.NewLinkStats("scan-out", nil)
	}
	p := &Publisher{cfg: cfg}
	p.enabled.Store(true)
	return p
}

// Pause holds transmission until Resume.
func (p *Publisher) Pause() {
	if !p.paused.Swap(true) {
		monitoring.Logf("[publisher] paused")
	}
}

// Resume releases a Pause.
func (p *Publisher) Resume() {
	if p.paused.Swap(false) {
		monitoring.Logf("[publisher] resumed")
	}
}

// Toggle flips the user enable and returns the new value.
func (p *Publisher) Toggle() bool {
	for {
		old := p.enabled.Load()
		if p.enabled.CompareAndSwap(old, !old) {
			monitoring.Logf("[publisher] sending %s", onOff(!old))
			return !old
		}
	}
}

// IsSending reports whether frames are currently allowed out.
func (p *Publisher) IsSending() bool {
	return p.enabled.Load() && !p.paused.Load()
}

// Enabled reports the user enable alone.
func (p *Publisher) Enabled() bool { return p.enabled.Load() }

// Paused reports the supervisor hold alone.
func (p *Publisher) Paused() bool { return p.paused.Load() }

// Publish sends f if every gate allows it, otherwise returns the
// suppression reason.
func (p *Publisher) Publish(f wire.ScanFrame) error {
	if err := p.gate(f); err != nil {
		p.cfg.Stats.AddSuppressed(reason(err))
		return err
	}
	if _, err := p.cfg.Sender.Send(f, nil); err != nil {
		return fmt.Errorf("publisher: send: %w", err)
	}
	return nil
}

func (p *Publisher) gate(f wire.ScanFrame) error {
	switch {
	case !p.enabled.Load():
		return ErrDisabled
	case p.paused.Load():
		return ErrPaused
	case p.cfg.Link != nil && p.cfg.Link.Load() != sensor.Connected:
		return ErrSourceUnavailable
	case p.cfg.Rays > 0 && f.Len() != p.cfg.Rays:
		return ErrFrameSize
	case !p.cfg.Sampler.ShouldSample(p.cfg.Clock.Now()):
		return ErrRateLimited
	}
	return nil
}

// Run publishes frames from frames until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context, frames <-chan wire.ScanFrame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			err := p.Publish(f)
			p.logTransition(err, f)
			if err != nil && !isSuppression(err) {
				monitoring.Warnf("[publisher] %v", err)
			}
		}
	}
}

// logTransition logs when the source becomes unavailable or a frame of the
// wrong size arrives, once per episode.
func (p *Publisher) logTransition(err error, f wire.ScanFrame) {
	bad := errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrFrameSize)
	if bad && !p.blocked.Swap(true) {
		if errors.Is(err, ErrFrameSize) {
			monitoring.Warnf("[publisher] suppressing frames: got %d rays, want %d", f.Len(), p.cfg.Rays)
		} else {
			monitoring.Warnf("[publisher] suppressing frames: sensor not connected")
		}
	}
	if err == nil && p.blocked.Swap(false) {
		monitoring.Logf("[publisher] sending again")
	}
}

func isSuppression(err error) bool {
	return reason(err) != ""
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrDisabled):
		return "disabled"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrFrameSize):
		return "frame_size"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return ""
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
