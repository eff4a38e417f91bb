// Package sampler rate-limits periodic state capture.
package sampler

import (
	"sync"
	"time"
)

// DefaultInterval is 20 Hz.
const DefaultInterval = 50 * time.Millisecond

// Sampler admits at most one sample per interval of caller-supplied time.
// Rejected samples are dropped, not queued: only the state at the moment of
// an admitted sample is ever sent.
type Sampler struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	sampled  bool
	dropped  uint64
}

// New returns a Sampler. A non-positive interval admits every sample.
func New(interval time.Duration) *Sampler {
	return &Sampler{interval: interval}
}

// ShouldSample reports whether a sample should be taken at now. The first
// call always samples.
func (s *Sampler) ShouldSample(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sampled && now.Sub(s.last) < s.interval {
		s.dropped++
		return false
	}
	s.last = now
	s.sampled = true
	return true
}

// Interval returns the configured minimum interval.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Dropped returns how many calls were rejected.
func (s *Sampler) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Reset forgets the last sample time so the next call samples.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.sampled = false
	s.mu.Unlock()
}
