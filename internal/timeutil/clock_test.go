package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_NewTimer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(10 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(100 * time.Millisecond):
		t.Error("timer did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Hour)

	if got, want := clock.Now(), start.Add(time.Hour); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if d := clock.Since(start); d != time.Hour {
		t.Errorf("Since = %v, want 1h", d)
	}
}

func TestMockClock_Timer(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(5 * time.Minute)

	if n := clock.PendingTimers(); n != 1 {
		t.Fatalf("PendingTimers = %d, want 1", n)
	}

	select {
	case <-timer.C():
		t.Error("timer fired too early")
	default:
	}

	clock.Advance(5 * time.Minute)

	select {
	case <-timer.C():
	default:
		t.Error("timer did not fire at its deadline")
	}
	if n := clock.PendingTimers(); n != 0 {
		t.Errorf("PendingTimers = %d after firing, want 0", n)
	}
}

func TestMockClock_TimerResetMovesDeadline(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	timer := clock.NewTimer(time.Minute)

	clock.Advance(30 * time.Second)
	timer.Reset(time.Minute)
	clock.Advance(45 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired at its old deadline")
	default:
	}

	clock.Advance(15 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Error("timer did not fire at its reset deadline")
	}
}

func TestMockClock_TimerStop(t *testing.T) {
	clock := NewMockClock(time.Now())
	timer := clock.NewTimer(time.Minute)
	if !timer.Stop() {
		t.Error("Stop should return true for active timer")
	}

	clock.Advance(2 * time.Minute)
	select {
	case <-timer.C():
		t.Error("stopped timer should not fire")
	default:
	}
}

func TestMockClock_Ticker(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Minute)
	defer ticker.Stop()

	clock.Advance(time.Minute)
	select {
	case <-ticker.C():
	default:
		t.Error("ticker did not tick")
	}
}

func TestSleep(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	done := make(chan struct{})
	result := make(chan bool, 1)

	go func() { result <- Sleep(clock, time.Second, done) }()

	for clock.PendingTimers() == 0 {
		time.Sleep(time.Millisecond)
	}
	clock.Advance(time.Second)

	select {
	case ok := <-result:
		if !ok {
			t.Error("Sleep returned false after the clock advanced")
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return")
	}

	close(done)
	if Sleep(clock, time.Hour, done) {
		t.Error("Sleep should return false when done is closed")
	}
	if !Sleep(clock, 0, done) {
		t.Error("zero Sleep should return true immediately")
	}
}
