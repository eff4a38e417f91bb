// Package sequence numbers outgoing frames and classifies incoming ones.
//
// Sequence numbers start at 1; 0 marks an unsequenced frame and is never
// issued. Each directional link has its own Enumerator on the sending side
// and its own Tracker on the receiving side.
package sequence

import (
	"sync"
	"sync/atomic"
)

// First is the first sequence number a sender issues and the initial
// expected value of a Tracker.
const First uint64 = 1

// Classification is the Tracker's verdict on one received frame.
type Classification int

const (
	InOrder Classification = iota // the expected frame
	Stale                         // duplicate or late, discard
	Gap                           // frames were lost, apply and resync
)

func (c Classification) String() string {
	switch c {
	case InOrder:
		return "in_order"
	case Stale:
		return "stale"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}

// Accept reports whether a frame with this classification should be
// applied to local state. Full-state snapshots make the newest frame
// authoritative, so gapped frames are applied.
func (c Classification) Accept() bool {
	return c != Stale
}

// Counts are a Tracker's running totals.
type Counts struct {
	InOrder uint64
	Stale   uint64
	Gaps    uint64
	// Lost is the number of sequence numbers skipped over by gaps.
	Lost uint64
}

// Tracker holds the expected-next state of one inbound link. expectedNext
// never decreases.
type Tracker struct {
	mu           sync.Mutex
	expectedNext uint64
	counts       Counts
}

// NewTracker returns a Tracker expecting First.
func NewTracker() *Tracker {
	return &Tracker{expectedNext: First}
}

// Classify classifies seq and advances the tracker:
//
//	seq == expected  InOrder, expected++
//	seq <  expected  Stale, unchanged
//	seq >  expected  Gap, expected = seq+1
func (t *Tracker) Classify(seq uint64) Classification {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case seq == t.expectedNext:
		t.expectedNext++
		t.counts.InOrder++
		return InOrder
	case seq < t.expectedNext:
		t.counts.Stale++
		return Stale
	default:
		t.counts.Gaps++
		t.counts.Lost += seq - t.expectedNext
		t.expectedNext = seq + 1
		return Gap
	}
}

// ExpectedNext returns the sequence number the tracker wants next.
func (t *Tracker) ExpectedNext() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expectedNext
}

// Counts returns a copy of the running totals.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// Enumerator issues sequence numbers for one outbound link. Numbers never
// repeat.
type Enumerator struct {
	next atomic.Uint64
}

// NewEnumerator returns an Enumerator whose first Next is First.
func NewEnumerator() *Enumerator {
	e := &Enumerator{}
	e.next.Store(First)
	return e
}

// Next assigns the next sequence number.
func (e *Enumerator) Next() uint64 {
	return e.next.Add(1) - 1
}

// Peek returns the number the next call to Next will return.
func (e *Enumerator) Peek() uint64 {
	return e.next.Load()
}
