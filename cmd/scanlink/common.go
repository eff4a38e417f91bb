package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/geo/r2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/scanlink/internal/config"
	"github.com/banshee-data/scanlink/internal/eventlog"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/obstacle"
	"github.com/banshee-data/scanlink/internal/serialmux"
	"github.com/banshee-data/scanlink/internal/sensor"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newMetrics() (*prometheus.Registry, *monitoring.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, monitoring.NewMetrics(reg)
}

func geometry(cfg *config.Config) obstacle.Geometry {
	return obstacle.Geometry{
		Rays:         cfg.GetRays(),
		MaxDistance:  cfg.GetMaxDistance(),
		StepAngleDeg: cfg.GetStepAngleDeg(),
		OffsetDeg:    cfg.GetOffsetDeg(),
		Origin:       r2.Point{X: cfg.GetOriginX(), Y: cfg.GetOriginY()},
	}
}

func transportConfig(cfg *config.Config) transport.Config {
	return transport.Config{RcvBuf: cfg.GetRcvBuf()}
}

// newSource builds the configured scan source.
func newSource(cfg *config.Config, clock timeutil.Clock) sensor.Source {
	if cfg.GetSource() == config.SourceSerial {
		return sensor.NewSerialSource(sensor.SerialConfig{
			Path:          cfg.GetSerialPath(),
			Options:       serialmux.PortOptions{BaudRate: cfg.GetSerialBaudRate()},
			InitCommands:  cfg.SerialInitCommands,
			Settle:        cfg.GetRestartSettle(),
			RetryDelay:    cfg.GetRetryDelay(),
			RetryAttempts: cfg.GetRetryAttempts(),
			Clock:         clock,
		})
	}
	return sensor.NewSimulatedSource(sensor.SimulatedConfig{
		Rays:        cfg.GetRays(),
		MaxDistance: cfg.GetMaxDistance(),
		Settle:      cfg.GetRestartSettle(),
		Clock:       clock,
	})
}

// openEventLog returns nil when the event log is disabled or cannot be
// opened; the caller runs without it.
func openEventLog(cfg *config.Config, role string) *eventlog.Log {
	path := cfg.GetEventDB()
	if path == "" {
		return nil
	}
	l, err := eventlog.Open(path, role)
	if err != nil {
		monitoring.Warnf("event log disabled: %v", err)
		return nil
	}
	return l
}

// adminRoutes collects the /debug attachments of the optional components.
func adminRoutes(elog *eventlog.Log) []func(*http.ServeMux) error {
	if elog == nil {
		return nil
	}
	return []func(*http.ServeMux) error{elog.AttachAdminRoutes}
}

// logStatsLoop logs and resets each link's counters every interval.
func logStatsLoop(ctx context.Context, interval time.Duration, links ...*monitoring.LinkStats) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, l := range links {
				l.LogStats()
			}
		}
	}
}
