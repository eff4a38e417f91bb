package sampler

import (
	"testing"
	"time"
)

func TestShouldSample(t *testing.T) {
	s := New(50 * time.Millisecond)
	start := time.Unix(1000, 0)

	steps := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{10 * time.Millisecond, false},
		{49 * time.Millisecond, false},
		{50 * time.Millisecond, true},
		{60 * time.Millisecond, false},
		{120 * time.Millisecond, true},
		{500 * time.Millisecond, true},
	}
	for _, step := range steps {
		if got := s.ShouldSample(start.Add(step.offset)); got != step.want {
			t.Errorf("ShouldSample(+%v) = %v, want %v", step.offset, got, step.want)
		}
	}
	if got := s.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestShouldSampleAtMostOncePerInterval(t *testing.T) {
	s := New(50 * time.Millisecond)
	start := time.Unix(0, 0)

	count := 0
	for ms := 0; ms < 1000; ms++ {
		if s.ShouldSample(start.Add(time.Duration(ms) * time.Millisecond)) {
			count++
		}
	}
	if count != 20 {
		t.Errorf("sampled %d times in 1s at 20 Hz, want 20", count)
	}
}

func TestZeroIntervalAdmitsEverything(t *testing.T) {
	s := New(0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if !s.ShouldSample(now) {
			t.Fatalf("call %d rejected", i)
		}
	}
}

func TestReset(t *testing.T) {
	s := New(time.Second)
	now := time.Now()
	s.ShouldSample(now)
	if s.ShouldSample(now) {
		t.Fatal("second call within interval sampled")
	}
	s.Reset()
	if !s.ShouldSample(now) {
		t.Error("call after Reset did not sample")
	}
	if s.Interval() != time.Second {
		t.Errorf("Interval() = %v", s.Interval())
	}
}
