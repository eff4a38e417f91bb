package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanlink/internal/config"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/replay"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

func replayCmd(opts *options) *cobra.Command {
	var speed float64
	cmd := &cobra.Command{
		Use:   "replay <capture.pcap>",
		Short: "Feed a packet capture of scan traffic through the receive path",
		Long: `Replay UDP datagrams sent to the data port (--port) from a pcap file
through the same decode, sequencing and obstacle pipeline as receive.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rcfg := replay.Config{Port: opts.cfg.GetDataPort(), Speed: speed}
			return runReplay(cmd.Context(), opts.cfg, args[0], rcfg)
		},
	}
	cmd.Flags().Float64Var(&speed, "speed", 1, "playback speed multiplier; 0 replays as fast as possible")
	return cmd
}

// nullConn satisfies the receiver's connection when datagrams are pushed in
// from a capture instead of read from a socket.
type nullConn struct{}

func (nullConn) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (nullConn) Close() error { return nil }

func runReplay(parent context.Context, cfg *config.Config, path string, rcfg replay.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	clock := timeutil.RealClock{}
	rcfg.Clock = clock

	elog := openEventLog(cfg, "replay")
	if elog != nil {
		defer elog.Close()
	}
	p, err := newScanPipeline(cfg, nullConn{}, nil, elog, clock)
	if err != nil {
		return err
	}

	pctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(pctx)
	p.start(gctx, g, cfg, clock)

	stats, rerr := replay.File(ctx, path, p.receiver, rcfg)
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if rerr != nil {
		return rerr
	}

	// The reconciler drains asynchronously; apply whatever is still pending.
	if f, ok := p.slot.Take(); ok {
		p.reconciler.Apply(f)
	}
	if p.png.Dir != "" {
		if err := p.png.Render(p.reconciler.Snapshot()); err != nil {
			return err
		}
	}

	p.stats.LogStats()
	monitoring.Logf("replayed %d packets (%d delivered, %d skipped) spanning %s; %d obstacles",
		stats.Packets, stats.Delivered, stats.Skipped, stats.Duration, p.reconciler.Len())
	for peer, c := range p.receiver.Peers() {
		fmt.Printf("%s\t%+v\n", peer, c)
	}
	return nil
}
