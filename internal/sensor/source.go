// Package sensor provides the scan data sources that feed a publisher and
// the link state the reset supervisor keeps for them.
package sensor

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/scanlink/internal/wire"
)

// Source is an upstream scanner. Frames delivers the most recent frame;
// older undelivered frames are dropped.
type Source interface {
	// Run drives the source until ctx is cancelled.
	Run(ctx context.Context) error
	IsConnected() bool
	// Restart shuts the device down and brings it back up.
	Restart(ctx context.Context) error
	Frames() <-chan wire.ScanFrame
	Close() error
}

// LinkState is the sensor link as seen by the supervisor.
type LinkState int32

const (
	Disconnected LinkState = iota
	Connected
	Resetting
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Resetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// LinkStateCell holds a LinkState for one writer and many readers.
type LinkStateCell struct {
	v atomic.Int32
}

func (c *LinkStateCell) Load() LinkState   { return LinkState(c.v.Load()) }
func (c *LinkStateCell) Store(s LinkState) { c.v.Store(int32(s)) }

// offer hands f to a one-slot channel, replacing any frame still waiting.
func offer(ch chan wire.ScanFrame, f wire.ScanFrame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
