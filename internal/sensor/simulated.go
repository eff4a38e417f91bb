package sensor

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/wire"
)

// SimulatedConfig configures a SimulatedSource.
type SimulatedConfig struct {
	Rays        int
	MaxDistance float64
	// Interval between generated frames. Defaults to 25ms.
	Interval time.Duration
	// Obstacles is the number of blobs sweeping around the sensor.
	Obstacles int
	// Settle is how long Restart keeps the source disconnected.
	Settle time.Duration
	Clock  timeutil.Clock
}

// SimulatedSource generates frames with a few obstacles circling the
// sensor. It stands in for hardware during development.
type SimulatedSource struct {
	cfg       SimulatedConfig
	frames    chan wire.ScanFrame
	connected atomic.Bool
	tick      atomic.Uint64
}

// NewSimulatedSource returns a connected simulated source.
func NewSimulatedSource(cfg SimulatedConfig) *SimulatedSource {
	if cfg.Interval <= 0 {
		cfg.Interval = 25 * time.Millisecond
	}
	if cfg.Obstacles <= 0 {
		cfg.Obstacles = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &SimulatedSource{cfg: cfg, frames: make(chan wire.ScanFrame, 1)}
	s.connected.Store(true)
	return s
}

// Run emits one frame per interval while connected.
func (s *SimulatedSource) Run(ctx context.Context) error {
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if s.connected.Load() {
				offer(s.frames, s.Generate(s.tick.Add(1)))
			}
		}
	}
}

// Generate builds the frame for tick n. Every ray reads MaxDistance except
// those covered by an obstacle.
func (s *SimulatedSource) Generate(n uint64) wire.ScanFrame {
	rays := s.cfg.Rays
	distances := make([]float64, rays)
	for i := range distances {
		distances[i] = s.cfg.MaxDistance
	}
	width := rays/60 + 1
	for j := 0; j < s.cfg.Obstacles; j++ {
		center := (int(n) + j*rays/s.cfg.Obstacles) % rays
		// Obstacles sit at different ranges and breathe slowly in and out.
		base := s.cfg.MaxDistance * (0.3 + 0.4*float64(j)/float64(s.cfg.Obstacles))
		d := base + 0.1*s.cfg.MaxDistance*math.Sin(float64(n)/40+float64(j))
		for k := -width; k <= width; k++ {
			distances[(center+k+rays)%rays] = d
		}
	}
	return wire.NewScanFrame(distances)
}

func (s *SimulatedSource) IsConnected() bool { return s.connected.Load() }

// SetConnected simulates unplugging or replugging the device.
func (s *SimulatedSource) SetConnected(v bool) { s.connected.Store(v) }

// Restart disconnects for Settle and reconnects.
func (s *SimulatedSource) Restart(ctx context.Context) error {
	s.connected.Store(false)
	monitoring.Logf("[sensor] simulated restart, back in %v", s.cfg.Settle)
	if !timeutil.Sleep(s.cfg.Clock, s.cfg.Settle, ctx.Done()) {
		return ctx.Err()
	}
	s.connected.Store(true)
	return nil
}

func (s *SimulatedSource) Frames() <-chan wire.ScanFrame { return s.frames }

func (s *SimulatedSource) Close() error {
	s.connected.Store(false)
	return nil
}
