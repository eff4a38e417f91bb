package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOutOfOrder(t *testing.T) {
	// s1 < s2 < s3 applied as s1, s3, s2.
	tr := NewTracker()

	assert.Equal(t, InOrder, tr.Classify(1))
	assert.Equal(t, Gap, tr.Classify(3))
	assert.Equal(t, uint64(4), tr.ExpectedNext())
	assert.Equal(t, Stale, tr.Classify(2))
	assert.Equal(t, uint64(4), tr.ExpectedNext())

	assert.Equal(t, Counts{InOrder: 1, Stale: 1, Gaps: 1, Lost: 1}, tr.Counts())
}

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		name     string
		seqs     []uint64
		want     []Classification
		expected uint64
		lost     uint64
	}{
		{"in order", []uint64{1, 2, 3}, []Classification{InOrder, InOrder, InOrder}, 4, 0},
		{"duplicate", []uint64{1, 1}, []Classification{InOrder, Stale}, 2, 0},
		{"first frame lost", []uint64{2, 3}, []Classification{Gap, InOrder}, 4, 1},
		{"big gap", []uint64{1, 100, 101}, []Classification{InOrder, Gap, InOrder}, 102, 98},
		{"old after gap", []uint64{10, 5, 9, 11}, []Classification{Gap, Stale, Stale, InOrder}, 12, 9},
		{"zero is stale", []uint64{0}, []Classification{Stale}, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			for i, seq := range tt.seqs {
				if got := tr.Classify(seq); got != tt.want[i] {
					t.Errorf("Classify(%d) = %v, want %v", seq, got, tt.want[i])
				}
			}
			assert.Equal(t, tt.expected, tr.ExpectedNext())
			assert.Equal(t, tt.lost, tr.Counts().Lost)
		})
	}
}

func TestExpectedNextNeverDecreases(t *testing.T) {
	tr := NewTracker()
	prev := tr.ExpectedNext()
	for _, seq := range []uint64{5, 1, 3, 6, 2, 50, 49, 51, 0, 7} {
		tr.Classify(seq)
		next := tr.ExpectedNext()
		if next < prev {
			t.Fatalf("expectedNext went from %d to %d after %d", prev, next, seq)
		}
		prev = next
	}
}

func TestAccept(t *testing.T) {
	assert.True(t, InOrder.Accept())
	assert.True(t, Gap.Accept())
	assert.False(t, Stale.Accept())
	assert.Equal(t, "gap", Gap.String())
	assert.Equal(t, "unknown", Classification(9).String())
}

func TestEnumerator(t *testing.T) {
	e := NewEnumerator()
	assert.Equal(t, uint64(1), e.Peek())
	assert.Equal(t, uint64(1), e.Next())
	assert.Equal(t, uint64(2), e.Next())
	assert.Equal(t, uint64(3), e.Peek())
}

func TestEnumeratorConcurrentUnique(t *testing.T) {
	e := NewEnumerator()
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				n := e.Next()
				mu.Lock()
				if seen[n] {
					t.Errorf("duplicate sequence %d", n)
				}
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*per)
	assert.Equal(t, uint64(workers*per+1), e.Peek())
}
