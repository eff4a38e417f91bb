package eventlog

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlink/internal/channel"
	"github.com/banshee-data/scanlink/internal/supervisor"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"), "receive")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpen_MigratesToLatest(t *testing.T) {
	l := openTestLog(t)
	v, dirty, err := l.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
	assert.NotEmpty(t, l.Session())
}

func TestOpen_ReopenKeepsDataAndStartsNewSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	first, err := Open(path, "send")
	require.NoError(t, err)
	require.NoError(t, first.RecordAnomaly(channel.Anomaly{Link: "scan", Kind: channel.AnomalyStale, At: time.Unix(1, 0)}))
	require.NoError(t, first.Close())

	second, err := Open(path, "send")
	require.NoError(t, err)
	defer second.Close()
	assert.NotEqual(t, first.Session(), second.Session())

	var sessions, anomalies int
	require.NoError(t, second.DB().QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&sessions))
	require.NoError(t, second.DB().QueryRow(`SELECT COUNT(*) FROM anomalies`).Scan(&anomalies))
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 1, anomalies)

	got, err := second.Anomalies()
	require.NoError(t, err)
	assert.Empty(t, got, "anomalies are scoped to the session")
}

func TestMigrateDown(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.MigrateDown())
	v, _, err := l.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	err = l.RecordPerf(PerfSample{At: time.Now()})
	assert.Error(t, err, "perf_samples is gone after rolling back")

	require.NoError(t, l.MigrateUp())
	assert.NoError(t, l.RecordPerf(PerfSample{At: time.Now()}))
}

func TestAnomalies(t *testing.T) {
	l := openTestLog(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	want := []channel.Anomaly{
		{Link: "scan", Peer: "10.0.0.2:40000", Kind: channel.AnomalyGap, Seq: 10, Expected: 5, Lost: 5, At: at},
		{Link: "scan", Peer: "10.0.0.2:40000", Kind: channel.AnomalyStale, Seq: 4, Expected: 11, At: at.Add(time.Millisecond)},
		{Link: "scan", Peer: "10.0.0.3:40000", Kind: channel.AnomalyMalformed, Detail: "bad seq", At: at.Add(2 * time.Millisecond)},
	}
	hook := l.AnomalyHook()
	for _, a := range want {
		hook(a)
	}

	got, err := l.Anomalies()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("anomalies mismatch (-want +got):\n%s", diff)
	}
}

func TestCycles(t *testing.T) {
	l := openTestLog(t)
	start := time.Unix(1000, 0)
	hook := l.CycleHook()
	hook(supervisor.Cycle{Origin: supervisor.OriginHotkey, Started: start, Ended: start.Add(6 * time.Second), Connected: true})
	hook(supervisor.Cycle{Origin: supervisor.OriginControl, Started: start.Add(time.Minute), Ended: start.Add(time.Minute + 6*time.Second), RestartErr: errors.New("port busy")})

	got, err := l.Cycles()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, supervisor.OriginHotkey, got[0].Origin)
	assert.True(t, got[0].Connected)
	assert.Equal(t, 6*time.Second, got[0].Ended.Sub(got[0].Started))
	assert.Equal(t, supervisor.OriginControl, got[1].Origin)
	assert.False(t, got[1].Connected)

	errs, err := l.CycleErrors()
	require.NoError(t, err)
	assert.Equal(t, []string{"", "port busy"}, errs)
}

func TestExportPerfCSV(t *testing.T) {
	l := openTestLog(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.RecordPerf(PerfSample{At: at, FPS: 19.5, MemoryMB: 12.25, Obstacles: 3}))
	require.NoError(t, l.RecordPerf(PerfSample{At: at.Add(time.Second), FPS: 20, MemoryMB: 12.5, Obstacles: 4}))

	var buf bytes.Buffer
	require.NoError(t, l.ExportPerfCSV(&buf))
	want := "Time,FPS,Memory(MB),Obstacles\n" +
		"2025-03-01T10:00:00.000Z,19.50,12.25,3\n" +
		"2025-03-01T10:00:01.000Z,20.00,12.50,4\n"
	assert.Equal(t, want, buf.String())
}

type memRecorder struct {
	mu      sync.Mutex
	samples []PerfSample
}

func (m *memRecorder) RecordPerf(s PerfSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

func TestPerfSampler_Sample(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	p := NewPerfSampler(PerfConfig{
		Clock:     clock,
		MemoryMB:  func() float64 { return 7 },
		Obstacles: func() int { return 2 },
	})
	for i := 0; i < 40; i++ {
		p.Frame()
	}
	clock.Advance(2 * time.Second)
	s := p.Sample(clock.Now())
	assert.InDelta(t, 20.0, s.FPS, 1e-9)
	assert.Equal(t, 7.0, s.MemoryMB)
	assert.Equal(t, 2, s.Obstacles)

	clock.Advance(time.Second)
	assert.Zero(t, p.Sample(clock.Now()).FPS, "counter resets each period")
}

func TestPerfSampler_DefaultMemory(t *testing.T) {
	p := NewPerfSampler(PerfConfig{})
	assert.Greater(t, p.Sample(time.Now()).MemoryMB, 0.0)
}

func TestPerfSampler_Run(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	rec := &memRecorder{}
	p := NewPerfSampler(PerfConfig{Recorder: rec, Clock: clock, Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return rec.len() >= 2
	}, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestAdminRoutes(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.RecordPerf(PerfSample{At: time.Unix(0, 0).UTC(), FPS: 1, MemoryMB: 1}))

	mux := http.NewServeMux()
	require.NoError(t, l.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/perf.csv", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Time,FPS,Memory(MB),Obstacles\n"))

	req = httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}
