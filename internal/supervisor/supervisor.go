// Package supervisor restarts the upstream sensor on request while holding
// the publisher, then releases it after a fixed cooldown.
//
// The supervisor is a deadline state machine. Trigger moves Idle to
// Resetting, pauses the publisher, starts the source restart and arms a
// deadline; Poll (driven by Run) returns to Idle once the deadline has
// passed. Readiness is not checked during the cooldown: success is assumed,
// and the link state afterwards simply reflects whether the source reports
// itself connected.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/sensor"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

// DefaultCooldown is the flat wait before transmission resumes.
const DefaultCooldown = 6 * time.Second

// State is the supervisor's own state.
type State int

const (
	Idle State = iota
	Resetting
)

func (s State) String() string {
	if s == Resetting {
		return "resetting"
	}
	return "idle"
}

// Origin names what triggered a reset.
type Origin string

const (
	OriginHotkey  Origin = "hotkey"
	OriginUI      Origin = "ui"
	OriginControl Origin = "control"
)

// Pauser holds and releases transmission; *publisher.Publisher implements it.
type Pauser interface {
	Pause()
	Resume()
}

// Restarter is the data source as the supervisor sees it.
type Restarter interface {
	IsConnected() bool
	Restart(ctx context.Context) error
}

// Cycle describes one completed reset.
type Cycle struct {
	Origin    Origin
	Started   time.Time
	Ended     time.Time
	Connected bool
	// RestartErr is the source's restart result if it had finished by the
	// end of the cooldown.
	RestartErr error
}

// Config wires a Supervisor.
type Config struct {
	Publisher Pauser
	Source    Restarter
	// Link receives the sensor link state. Defaults to a private cell.
	Link     *sensor.LinkStateCell
	Cooldown time.Duration
	// PollInterval is how often Run checks the deadline and the source.
	// Defaults to 100ms.
	PollInterval time.Duration
	Clock        timeutil.Clock
	Metrics      *monitoring.Metrics
	// OnCycle, if set, is called after every completed reset.
	OnCycle func(Cycle)
}

// Supervisor owns the sensor link state.
type Supervisor struct {
	cfg  Config
	link *sensor.LinkStateCell

	mu       sync.Mutex
	state    State
	deadline time.Time
	cycle    Cycle
	// gen numbers reset cycles. A restart result is kept only while its
	// cycle is still the current one.
	gen         uint64
	restarting  bool
	restartErr  error
	restartDone bool
	baseCtx     context.Context

	wg sync.WaitGroup
}

// New creates an idle supervisor. The link state starts as the source
// currently reports it.
func New(cfg Config) *Supervisor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	link := cfg.Link
	if link == nil {
		link = &sensor.LinkStateCell{}
	}
	s := &Supervisor{cfg: cfg, link: link, baseCtx: context.Background()}
	s.setLink(linkState(cfg.Source.IsConnected()))
	return s
}

// Link returns the cell the supervisor writes.
func (s *Supervisor) Link() *sensor.LinkStateCell { return s.link }

// LinkState returns the current sensor link state.
func (s *Supervisor) LinkState() sensor.LinkState { return s.link.Load() }

// State returns Idle or Resetting.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deadline returns when the current reset will end, or zero when idle.
func (s *Supervisor) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Resetting {
		return time.Time{}
	}
	return s.deadline
}

// Trigger starts a reset. It returns false, doing nothing, if a reset is
// already in progress or the previous cycle's source restart has not
// returned yet.
func (s *Supervisor) Trigger(origin Origin) bool {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	if s.state == Resetting {
		until := s.deadline
		s.mu.Unlock()
		monitoring.Logf("[supervisor] %s reset ignored, already resetting until %s", origin, until.Format(time.TimeOnly))
		return false
	}
	if s.restarting {
		s.mu.Unlock()
		monitoring.Warnf("[supervisor] %s reset ignored, previous sensor restart still running", origin)
		return false
	}
	s.state = Resetting
	s.deadline = now.Add(s.cfg.Cooldown)
	s.cycle = Cycle{Origin: origin, Started: now}
	s.gen++
	gen := s.gen
	s.restarting = true
	s.restartErr = nil
	s.restartDone = false
	ctx := s.baseCtx
	s.setLink(sensor.Resetting)
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Pause()
	}
	s.mu.Unlock()

	monitoring.Logf("[supervisor] %s reset: pausing publisher for %v", origin, s.cfg.Cooldown)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Resets.WithLabelValues(string(origin)).Inc()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.cfg.Source.Restart(ctx)
		if err != nil && ctx.Err() == nil {
			monitoring.Warnf("[supervisor] source restart: %v", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.restarting = false
		if gen == s.gen && s.state == Resetting {
			s.restartErr = err
			s.restartDone = true
		}
	}()
	return true
}

// Poll ends the current reset if its deadline has passed at now. While
// idle it refreshes the link state from the source.
func (s *Supervisor) Poll(now time.Time) {
	connected := s.cfg.Source.IsConnected()

	s.mu.Lock()
	if s.state != Resetting {
		s.setLink(linkState(connected))
		s.mu.Unlock()
		return
	}
	if now.Before(s.deadline) {
		s.mu.Unlock()
		return
	}
	s.state = Idle
	cycle := s.cycle
	cycle.Ended = now
	cycle.Connected = connected
	if s.restartDone {
		cycle.RestartErr = s.restartErr
	}
	s.setLink(linkState(connected))
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Resume()
	}
	s.mu.Unlock()

	if cycle.Connected {
		monitoring.Logf("[supervisor] reset complete, sensor connected")
	} else {
		monitoring.Warnf("[supervisor] reset complete but sensor is not connected")
	}
	if s.cfg.OnCycle != nil {
		s.cfg.OnCycle(cycle)
	}
}

// Run polls until ctx is cancelled and waits for any restart in flight.
// Restarts started after Run begins are cancelled with ctx.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case now := <-ticker.C():
			s.Poll(now)
		}
	}
}

func linkState(connected bool) sensor.LinkState {
	if connected {
		return sensor.Connected
	}
	return sensor.Disconnected
}

// setLink publishes state. Callers after New hold s.mu so an idle refresh
// cannot overwrite a reset that started concurrently.
func (s *Supervisor) setLink(state sensor.LinkState) {
	prev := s.link.Load()
	s.link.Store(state)
	if s.cfg.Metrics != nil {
		for _, st := range []sensor.LinkState{sensor.Disconnected, sensor.Connected, sensor.Resetting} {
			v := 0.0
			if st == state {
				v = 1
			}
			s.cfg.Metrics.SensorState.WithLabelValues(st.String()).Set(v)
		}
	}
	if prev != state {
		monitoring.Logf("[supervisor] sensor %s -> %s", prev, state)
	}
}
