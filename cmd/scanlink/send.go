package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanlink/internal/channel"
	"github.com/banshee-data/scanlink/internal/config"
	"github.com/banshee-data/scanlink/internal/control"
	"github.com/banshee-data/scanlink/internal/eventlog"
	"github.com/banshee-data/scanlink/internal/hotkey"
	"github.com/banshee-data/scanlink/internal/monitor"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/publisher"
	"github.com/banshee-data/scanlink/internal/sampler"
	"github.com/banshee-data/scanlink/internal/sensor"
	"github.com/banshee-data/scanlink/internal/supervisor"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
	"github.com/banshee-data/scanlink/internal/wire"
)

func sendCmd(opts *options) *cobra.Command {
	var noHotkeys bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Read the scanner and stream scans to the receiver",
		Long: `Read scans from the configured source and send them as datagrams.

Sensor resets can be triggered by hotkey (default V), by the monitor's
/api/reset endpoint or by a RESET datagram on the control port. F toggles
sending and R exits with a restart status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts.cfg, !noHotkeys)
		},
	}
	cmd.Flags().BoolVar(&noHotkeys, "no-hotkeys", false, "do not read hotkeys from the terminal")
	return cmd
}

// countingSender counts successful sends for the performance log.
type countingSender struct {
	publisher.FrameSender
	perf *eventlog.PerfSampler
}

func (c countingSender) Send(f wire.ScanFrame, dst *net.UDPAddr) (uint64, error) {
	seq, err := c.FrameSender.Send(f, dst)
	if err == nil {
		c.perf.Frame()
	}
	return seq, err
}

func runSend(parent context.Context, cfg *config.Config, hotkeys bool) error {
	ctx, stop := signalContext(parent)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	clock := timeutil.RealClock{}
	reg, metrics := newMetrics()

	codec, err := wire.NewScanCodec(cfg.GetWireFormat(), cfg.GetMaxDistance(), cfg.GetRays(), cfg.GetLegacyScanFormat())
	if err != nil {
		return err
	}
	ep, err := transport.Dial(cfg.DataAddress(), transportConfig(cfg))
	if err != nil {
		return err
	}
	defer ep.Close()

	elog := openEventLog(cfg, "send")
	if elog != nil {
		defer elog.Close()
	}
	var perfRecorder eventlog.PerfRecorder
	if elog != nil {
		perfRecorder = elog
	}
	perf := eventlog.NewPerfSampler(eventlog.PerfConfig{
		Recorder: perfRecorder,
		Interval: cfg.GetPerfSampleInterval(),
		Clock:    clock,
	})

	src := newSource(cfg, clock)
	defer src.Close()

	stats := monitoring.NewLinkStats("scan-out", metrics)
	link := &sensor.LinkStateCell{}
	pub := publisher.New(publisher.Config{
		Sender:  countingSender{FrameSender: channel.NewSender("scan-out", codec, ep, stats), perf: perf},
		Link:    link,
		Sampler: sampler.New(cfg.GetSendInterval()),
		Rays:    cfg.GetRays(),
		Clock:   clock,
		Stats:   stats,
	})

	supCfg := supervisor.Config{
		Publisher: pub,
		Source:    src,
		Link:      link,
		Cooldown:  cfg.GetResetCooldown(),
		Clock:     clock,
		Metrics:   metrics,
	}
	if elog != nil {
		supCfg.OnCycle = elog.CycleHook()
	}
	sup := supervisor.New(supCfg)

	dispatcher := &control.Dispatcher{
		Supervisor: sup,
		Publisher:  pub,
		RestartApp: func() { cancel(errRestartRequested) },
	}

	// Everything that can fail is built before the first loop starts, so an
	// error return never leaves loops running.
	var srv *monitor.Server
	if addr := cfg.GetMonitorListen(); addr != "" {
		admin := adminRoutes(elog)
		if ss, ok := src.(*sensor.SerialSource); ok {
			admin = append(admin, ss.AttachAdminRoutes)
		}
		session := ""
		if elog != nil {
			session = elog.Session()
		}
		srv, err = monitor.New(monitor.Config{
			Address:    addr,
			Role:       "send",
			Session:    session,
			Supervisor: sup,
			Publisher:  pub,
			Link:       link,
			Links:      []*monitoring.LinkStats{stats},
			Gatherer:   reg,
			Admin:      admin,
			Clock:      clock,
		})
		if err != nil {
			return err
		}
	}

	var keys *hotkey.Reader
	if hotkeys {
		bindings, err := hotkey.NewBindings(cfg.GetRestartKey(), cfg.GetToggleKey(), cfg.GetResetSensorKey())
		if err != nil {
			return err
		}
		restore, raw, err := hotkey.RawTerminal(os.Stdin)
		if err != nil {
			return err
		}
		if raw {
			defer restore()
			log.SetOutput(hotkey.CRLFWriter{W: os.Stderr})
			defer log.SetOutput(os.Stderr)
			keys = &hotkey.Reader{
				Bindings:   bindings,
				Dispatcher: dispatcher,
				Interrupt:  func() { cancel(context.Canceled) },
			}
		}
	}

	// A control port that cannot be bound leaves the sender running
	// without remote control.
	var listener *control.Listener
	if ctlEp, err := transport.Bind(cfg.ControlListenAddress(), transportConfig(cfg)); err != nil {
		monitoring.Warnf("control channel disabled: %v", err)
	} else {
		listener = control.NewListener(ctlEp, dispatcher)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return src.Run(gctx) })
	g.Go(func() error { return pub.Run(gctx, src.Frames()) })
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return perf.Run(gctx) })
	g.Go(func() error { return logStatsLoop(gctx, cfg.GetLogInterval(), stats) })
	if listener != nil {
		g.Go(func() error { return listener.Run(gctx) })
	}
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}
	if keys != nil {
		g.Go(func() error { return keys.Run(gctx, os.Stdin) })
		monitoring.Logf("hotkeys: %s restart, %s toggle, %s reset sensor",
			cfg.GetRestartKey(), cfg.GetToggleKey(), cfg.GetResetSensorKey())
	}

	monitoring.Logf("sending %s scans to %s", cfg.GetWireFormat(), cfg.DataAddress())
	err = g.Wait()
	if errors.Is(context.Cause(ctx), errRestartRequested) {
		return errRestartRequested
	}
	return err
}
