package obstacle

import (
	"context"
	"sync"

	"github.com/banshee-data/scanlink/internal/wire"
)

// LatestSlot hands the newest frame from a receive goroutine to the
// goroutine that applies it. A frame that is overwritten before it is taken
// is dropped.
type LatestSlot struct {
	mu          sync.Mutex
	frame       wire.ScanFrame
	full        bool
	overwritten uint64
	ready       chan struct{}
}

// NewLatestSlot returns an empty slot.
func NewLatestSlot() *LatestSlot {
	return &LatestSlot{ready: make(chan struct{}, 1)}
}

// Put stores f, replacing any frame not yet taken.
func (s *LatestSlot) Put(f wire.ScanFrame) {
	s.mu.Lock()
	if s.full {
		s.overwritten++
	}
	s.frame = f
	s.full = true
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Take swaps the stored frame out and clears the slot.
func (s *LatestSlot) Take() (wire.ScanFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return wire.ScanFrame{}, false
	}
	f := s.frame
	s.frame = wire.ScanFrame{}
	s.full = false
	return f, true
}

// Ready is signalled after Put.
func (s *LatestSlot) Ready() <-chan struct{} { return s.ready }

// Overwritten returns how many frames were replaced before being taken.
func (s *LatestSlot) Overwritten() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overwritten
}

// Drain applies frames from slot to r until ctx is done.
func (r *Reconciler) Drain(ctx context.Context, slot *LatestSlot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-slot.Ready():
			if f, ok := slot.Take(); ok {
				r.Apply(f)
			}
		}
	}
}
