package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanlink/internal/channel"
	"github.com/banshee-data/scanlink/internal/config"
	"github.com/banshee-data/scanlink/internal/eventlog"
	"github.com/banshee-data/scanlink/internal/monitor"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/obstacle"
	"github.com/banshee-data/scanlink/internal/render"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/transport"
	"github.com/banshee-data/scanlink/internal/wire"
)

func receiveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "receive",
		Short: "Receive scans and maintain the obstacle table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(cmd.Context(), opts.cfg)
		},
	}
}

// scanPipeline is the receive side shared by live and replayed traffic:
// decoded frames land in a latest-wins slot that the reconciler drains.
type scanPipeline struct {
	geom       obstacle.Geometry
	reconciler *obstacle.Reconciler
	slot       *obstacle.LatestSlot
	receiver   *channel.Receiver[wire.ScanFrame]
	stats      *monitoring.LinkStats
	perf       *eventlog.PerfSampler
	png        *render.PNGRenderer
}

func newScanPipeline(cfg *config.Config, conn channel.PacketReceiver, metrics *monitoring.Metrics, elog *eventlog.Log, clock timeutil.Clock) (*scanPipeline, error) {
	codec, err := wire.NewScanCodec(cfg.GetWireFormat(), cfg.GetMaxDistance(), cfg.GetRays(), false)
	if err != nil {
		return nil, err
	}
	p := &scanPipeline{
		geom:  geometry(cfg),
		slot:  obstacle.NewLatestSlot(),
		stats: monitoring.NewLinkStats("scan-in", metrics),
	}
	p.reconciler = obstacle.NewReconciler(p.geom)
	p.png = &render.PNGRenderer{Dir: cfg.GetSnapshotDir(), Geometry: p.geom}

	var recorder eventlog.PerfRecorder
	var onAnomaly func(channel.Anomaly)
	if elog != nil {
		recorder = elog
		onAnomaly = elog.AnomalyHook()
	}
	p.perf = eventlog.NewPerfSampler(eventlog.PerfConfig{
		Recorder:  recorder,
		Interval:  cfg.GetPerfSampleInterval(),
		Clock:     clock,
		Obstacles: p.reconciler.Len,
	})
	if metrics != nil {
		p.reconciler.Observe(func(obstacle.Changes) { metrics.Obstacles.Set(float64(p.reconciler.Len())) })
	}

	p.receiver = channel.NewReceiver(channel.ReceiverConfig[wire.ScanFrame]{
		Name:  "scan-in",
		Codec: codec,
		Conn:  conn,
		Handler: func(f channel.Frame[wire.ScanFrame]) {
			p.slot.Put(f.Payload)
			p.perf.Frame()
		},
		OnAnomaly: onAnomaly,
		Stats:     p.stats,
		Clock:     clock,
	})
	return p, nil
}

// start launches the pipeline's background loops on g.
func (p *scanPipeline) start(ctx context.Context, g *errgroup.Group, cfg *config.Config, clock timeutil.Clock) {
	g.Go(func() error { return p.reconciler.Drain(ctx, p.slot) })
	g.Go(func() error { return p.perf.Run(ctx) })
	g.Go(func() error { return logStatsLoop(ctx, cfg.GetLogInterval(), p.stats) })
	if p.png.Dir != "" {
		g.Go(func() error {
			return render.Loop(ctx, clock, cfg.GetSnapshotInterval(), p.reconciler.Snapshot, p.png)
		})
	}
}

func runReceive(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	clock := timeutil.RealClock{}
	reg, metrics := newMetrics()

	ep, err := transport.Bind(cfg.DataListenAddress(), transportConfig(cfg))
	if err != nil {
		return err
	}
	elog := openEventLog(cfg, "receive")
	if elog != nil {
		defer elog.Close()
	}

	p, err := newScanPipeline(cfg, ep, metrics, elog, clock)
	if err != nil {
		ep.Close()
		return err
	}

	var srv *monitor.Server
	if addr := cfg.GetMonitorListen(); addr != "" {
		session := ""
		if elog != nil {
			session = elog.Session()
		}
		srv, err = monitor.New(monitor.Config{
			Address:   addr,
			Role:      "receive",
			Session:   session,
			Obstacles: p.reconciler.Snapshot,
			Geometry:  p.geom,
			Links:     []*monitoring.LinkStats{p.stats},
			Gatherer:  reg,
			PNG:       p.png,
			Admin:     adminRoutes(elog),
			Clock:     clock,
		})
		if err != nil {
			ep.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.receiver.Run(gctx) })
	p.start(gctx, g, cfg, clock)
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}

	monitoring.Logf("receiving scans on %s", ep.LocalAddr())
	return g.Wait()
}
