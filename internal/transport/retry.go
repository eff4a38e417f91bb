package transport

import (
	"time"

	"github.com/banshee-data/scanlink/internal/timeutil"
)

const (
	// ReceiveFailureLimit is how many receive errors in a row a loop accepts
	// before it treats the endpoint as failed.
	ReceiveFailureLimit = 8

	receiveBackoffBase = 5 * time.Millisecond
	receiveBackoffMax  = 250 * time.Millisecond
)

// ReceiveBackoff paces a receive loop after errors that are neither
// timeouts nor a close. The zero value is ready to use.
type ReceiveBackoff struct {
	failures int
}

// Failed records one error and waits before the next attempt, doubling the
// wait each time. It returns false once ReceiveFailureLimit errors have
// been seen in a row or done is closed; the loop should then stop.
func (b *ReceiveBackoff) Failed(clock timeutil.Clock, done <-chan struct{}) bool {
	b.failures++
	if b.failures >= ReceiveFailureLimit {
		return false
	}
	d := receiveBackoffBase << (b.failures - 1)
	if d > receiveBackoffMax {
		d = receiveBackoffMax
	}
	return timeutil.Sleep(clock, d, done)
}

// Failures returns the current run of consecutive errors.
func (b *ReceiveBackoff) Failures() int { return b.failures }

// Reset clears the error run after a successful receive.
func (b *ReceiveBackoff) Reset() { b.failures = 0 }
