package main

import (
	"context"
	"time"

	"github.com/golang/geo/r2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanlink/internal/config"
	"github.com/banshee-data/scanlink/internal/monitor"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/position"
	"github.com/banshee-data/scanlink/internal/timeutil"
	"github.com/banshee-data/scanlink/internal/wire"
)

type posdemoOptions struct {
	name   string
	listen string
	peer   string
	radius float64
	period time.Duration
}

func posdemoCmd(opts *options) *cobra.Command {
	po := &posdemoOptions{}
	cmd := &cobra.Command{
		Use:   "posdemo",
		Short: "Exchange positions with a peer node",
		Long: `Run one node of the two-way position demo. The node circles its origin,
sends its position to --peer and tracks every node that sends to it.
Run a second instance with --listen and --peer swapped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPosdemo(cmd.Context(), opts.cfg, po)
		},
	}
	cmd.Flags().StringVar(&po.name, "name", "posdemo", "node name used in logs")
	cmd.Flags().StringVar(&po.listen, "listen", ":5001", "local address to receive positions on")
	cmd.Flags().StringVar(&po.peer, "peer", "127.0.0.1:5002", "address to send this node's position to")
	cmd.Flags().Float64Var(&po.radius, "radius", 2, "orbit radius in metres")
	cmd.Flags().DurationVar(&po.period, "period", 10*time.Second, "time for one orbit")
	return cmd
}

func runPosdemo(parent context.Context, cfg *config.Config, po *posdemoOptions) error {
	ctx, stop := signalContext(parent)
	defer stop()

	clock := timeutil.RealClock{}
	reg, metrics := newMetrics()

	codec, err := wire.NewPositionCodec(cfg.GetWireFormat())
	if err != nil {
		return err
	}
	origin := r2.Point{X: cfg.GetOriginX(), Y: cfg.GetOriginY()}
	node, err := position.NewNode(position.NodeConfig{
		Name:        po.name,
		Listen:      po.listen,
		Peer:        po.peer,
		Codec:       codec,
		Interval:    cfg.GetPositionInterval(),
		PeerTimeout: cfg.GetPeerTimeout(),
		Mover:       position.Orbit(origin, po.radius, po.period),
		Clock:       clock,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	var srv *monitor.Server
	if addr := cfg.GetMonitorListen(); addr != "" {
		srv, err = monitor.New(monitor.Config{
			Address:  addr,
			Role:     "posdemo",
			Peers:    node.Table().Snapshot,
			Links:    node.Links(),
			Gatherer: reg,
			Clock:    clock,
		})
		if err != nil {
			node.Close()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(gctx) })
	g.Go(func() error { return logStatsLoop(gctx, cfg.GetLogInterval(), node.Links()...) })
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}

	monitoring.Logf("[%s] listening on %s, sending to %s", po.name, node.LocalAddr(), po.peer)
	return g.Wait()
}
