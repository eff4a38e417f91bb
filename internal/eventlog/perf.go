package eventlog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

// PerfSample is one periodic performance reading.
type PerfSample struct {
	At        time.Time
	FPS       float64
	MemoryMB  float64
	Obstacles int
}

// RecordPerf stores a performance sample.
func (l *Log) RecordPerf(s PerfSample) error {
	_, err := l.db.Exec(`
		INSERT INTO perf_samples (session_id, at_unix_nano, fps, memory_mb, obstacles)
		VALUES (?, ?, ?, ?, ?)`,
		l.session, s.At.UnixNano(), s.FPS, s.MemoryMB, s.Obstacles,
	)
	if err != nil {
		return fmt.Errorf("eventlog: record perf: %w", err)
	}
	return nil
}

// PerfSamples returns the current session's samples, oldest first.
func (l *Log) PerfSamples() ([]PerfSample, error) {
	rows, err := l.db.Query(`
		SELECT at_unix_nano, fps, memory_mb, obstacles
		FROM perf_samples WHERE session_id = ? ORDER BY at_unix_nano, sample_id`, l.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PerfSample
	for rows.Next() {
		var (
			s  PerfSample
			at int64
		)
		if err := rows.Scan(&at, &s.FPS, &s.MemoryMB, &s.Obstacles); err != nil {
			return nil, err
		}
		s.At = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ExportPerfCSV writes the session's samples as CSV with a
// "Time,FPS,Memory(MB),Obstacles" header.
func (l *Log) ExportPerfCSV(w io.Writer) error {
	samples, err := l.PerfSamples()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Time", "FPS", "Memory(MB)", "Obstacles"}); err != nil {
		return err
	}
	for _, s := range samples {
		if err := cw.Write([]string{
			s.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			strconv.FormatFloat(s.FPS, 'f', 2, 64),
			strconv.FormatFloat(s.MemoryMB, 'f', 2, 64),
			strconv.Itoa(s.Obstacles),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// PerfRecorder stores samples; *Log implements it.
type PerfRecorder interface {
	RecordPerf(PerfSample) error
}

// PerfConfig wires a PerfSampler.
type PerfConfig struct {
	Recorder PerfRecorder
	// Interval between samples. Defaults to one second.
	Interval time.Duration
	Clock    timeutil.Clock
	// Obstacles, if set, reports the current obstacle count.
	Obstacles func() int
	// MemoryMB reports heap usage. Defaults to runtime.MemStats.Alloc.
	MemoryMB func() float64
}

// PerfSampler turns a frame counter into periodic FPS and memory samples.
type PerfSampler struct {
	cfg    PerfConfig
	frames atomic.Int64
	last   time.Time
}

func NewPerfSampler(cfg PerfConfig) *PerfSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.MemoryMB == nil {
		cfg.MemoryMB = heapMB
	}
	return &PerfSampler{cfg: cfg, last: cfg.Clock.Now()}
}

// Frame counts one processed frame.
func (p *PerfSampler) Frame() { p.frames.Add(1) }

// Sample computes a reading for the period ending at now and starts a new
// period. It is not safe to call concurrently with itself.
func (p *PerfSampler) Sample(now time.Time) PerfSample {
	n := p.frames.Swap(0)
	elapsed := now.Sub(p.last)
	p.last = now

	s := PerfSample{At: now, MemoryMB: p.cfg.MemoryMB()}
	if elapsed > 0 {
		s.FPS = float64(n) / elapsed.Seconds()
	}
	if p.cfg.Obstacles != nil {
		s.Obstacles = p.cfg.Obstacles()
	}
	return s
}

// Run samples on every interval until ctx is cancelled.
func (p *PerfSampler) Run(ctx context.Context) error {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			s := p.Sample(now)
			if p.cfg.Recorder == nil {
				continue
			}
			if err := p.cfg.Recorder.RecordPerf(s); err != nil {
				monitoring.Warnf("[perf] %v", err)
			}
		}
	}
}

func heapMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Alloc) / (1 << 20)
}
