package sensor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/serialmux"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/wire"
)

// SerialConfig configures a SerialSource.
type SerialConfig struct {
	Path         string
	Options      serialmux.PortOptions
	InitCommands []string
	// Opener defaults to serialmux.OpenReal.
	Opener serialmux.Opener
	// Scale converts a device reading to metres. Defaults to 0.001 (mm).
	Scale float64
	// Settle is the wait between closing and reopening on Restart.
	Settle time.Duration
	// RetryDelay is the wait between reopening and checking the link.
	RetryDelay time.Duration
	// RetryAttempts bounds reopen attempts per Restart; at least one is made.
	RetryAttempts int
	Clock         timeutil.Clock
}

// SerialSource reads scans from a line-oriented serial scanner. Each line
// is one scan: comma-separated readings in ray order.
type SerialSource struct {
	cfg    SerialConfig
	frames chan wire.ScanFrame

	mu     sync.Mutex
	runCtx context.Context
	mux    *serialmux.SerialMux[serialmux.SerialPorter]
	cancel context.CancelFunc
	gen    uint64

	connected atomic.Bool
	badLines  atomic.Uint64
}

// NewSerialSource creates an unopened source; Run opens the port.
func NewSerialSource(cfg SerialConfig) *SerialSource {
	if cfg.Opener == nil {
		cfg.Opener = serialmux.OpenReal
	}
	if cfg.Scale == 0 {
		cfg.Scale = 0.001
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &SerialSource{cfg: cfg, frames: make(chan wire.ScanFrame, 1)}
}

// Run opens the port and keeps it until ctx is cancelled. A failed open is
// logged and leaves the source disconnected until Restart.
func (s *SerialSource) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if err := s.open(ctx); err != nil {
		monitoring.Warnf("[sensor] %v", err)
	}
	<-ctx.Done()
	s.closePort()
	return nil
}

func (s *SerialSource) IsConnected() bool { return s.connected.Load() }

func (s *SerialSource) Frames() <-chan wire.ScanFrame { return s.frames }

// BadLines returns how many lines could not be parsed.
func (s *SerialSource) BadLines() uint64 { return s.badLines.Load() }

// Restart closes the port, waits Settle, then makes up to RetryAttempts
// reopen attempts, each followed by RetryDelay and a connectivity check.
func (s *SerialSource) Restart(ctx context.Context) error {
	s.closePort()
	monitoring.Logf("[sensor] closed %s, reopening in %v", s.cfg.Path, s.cfg.Settle)
	if !timeutil.Sleep(s.cfg.Clock, s.cfg.Settle, ctx.Done()) {
		return ctx.Err()
	}

	runCtx := s.parentContext(ctx)
	for i := 0; i < s.cfg.RetryAttempts; i++ {
		if err := s.open(runCtx); err != nil {
			monitoring.Warnf("[sensor] %v", err)
		}
		if !timeutil.Sleep(s.cfg.Clock, s.cfg.RetryDelay, ctx.Done()) {
			return ctx.Err()
		}
		if s.IsConnected() {
			monitoring.Logf("[sensor] reconnected to %s", s.cfg.Path)
			return nil
		}
		monitoring.Warnf("[sensor] reconnect to %s failed, attempt %d of %d", s.cfg.Path, i+1, s.cfg.RetryAttempts)
	}
	return fmt.Errorf("sensor: reconnect to %s failed after %d attempts", s.cfg.Path, s.cfg.RetryAttempts)
}

// AttachAdminRoutes exposes send-command and tail for whichever port is
// currently open; both answer 503 while disconnected.
func (s *SerialSource) AttachAdminRoutes(mux *http.ServeMux) error {
	serialmux.AttachAdminRoutes(mux, s.currentMux)
	return nil
}

func (s *SerialSource) currentMux() *serialmux.SerialMux[serialmux.SerialPorter] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux
}

// Close releases the port.
func (s *SerialSource) Close() error {
	return s.closePort()
}

func (s *SerialSource) parentContext(fallback context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return fallback
}

func (s *SerialSource) open(ctx context.Context) error {
	s.closePort()

	port, err := s.cfg.Opener(s.cfg.Path, s.cfg.Options)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.cfg.Path, err)
	}
	mux := serialmux.New(port)
	if err := mux.Initialize(s.cfg.InitCommands); err != nil {
		mux.Close()
		return fmt.Errorf("initialize %s: %w", s.cfg.Path, err)
	}
	_, lines := mux.Subscribe(4)
	monCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mux = mux
	s.cancel = cancel
	s.mu.Unlock()
	s.connected.Store(true)

	go func() {
		err := mux.Monitor(monCtx)
		s.mu.Lock()
		current := s.gen == gen
		s.mu.Unlock()
		if current {
			s.connected.Store(false)
			if err != nil && monCtx.Err() == nil {
				monitoring.Warnf("[sensor] lost %s: %v", s.cfg.Path, err)
			}
		}
	}()
	go func() {
		for line := range lines {
			frame, err := parseLine(line, s.cfg.Scale)
			if err != nil {
				s.badLines.Add(1)
				monitoring.Logf("[sensor] dropping line: %v", err)
				continue
			}
			offer(s.frames, frame)
		}
	}()

	monitoring.Logf("[sensor] opened %s", s.cfg.Path)
	return nil
}

func (s *SerialSource) closePort() error {
	s.mu.Lock()
	mux, cancel := s.mux, s.cancel
	s.mux, s.cancel = nil, nil
	s.gen++
	s.mu.Unlock()

	s.connected.Store(false)
	if mux == nil {
		return nil
	}
	cancel()
	return mux.Close()
}

// parseLine converts "r0,r1,...,rn" to a frame scaled to metres.
func parseLine(line string, scale float64) (wire.ScanFrame, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return wire.ScanFrame{}, fmt.Errorf("empty line")
	}
	fields := strings.Split(line, ",")
	distances := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return wire.ScanFrame{}, fmt.Errorf("ray %d: %w", i, err)
		}
		distances[i] = v * scale
	}
	return wire.NewScanFrame(distances), nil
}
