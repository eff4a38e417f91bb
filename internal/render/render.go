// Package render draws the obstacle table. PNGRenderer writes scatter
// snapshots with gonum/plot; Loop drives any Renderer on a fixed interval.
package render

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/obstacle"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

// Renderer presents one obstacle snapshot.
type Renderer interface {
	Render(obs []obstacle.Obstacle) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func([]obstacle.Obstacle) error

func (f RendererFunc) Render(obs []obstacle.Obstacle) error { return f(obs) }

// PNGRenderer writes numbered PNG snapshots into Dir. The plot is square
// and spans the sensor's maximum range around its origin.
type PNGRenderer struct {
	Dir      string
	Geometry obstacle.Geometry
	// Size is the image edge length. Defaults to 6 inches.
	Size vg.Length

	mu    sync.Mutex
	count int
}

// Render writes the next snapshot file.
func (r *PNGRenderer) Render(obs []obstacle.Obstacle) error {
	r.mu.Lock()
	r.count++
	name := filepath.Join(r.Dir, fmt.Sprintf("obstacles_%06d.png", r.count))
	r.mu.Unlock()

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	defer f.Close()
	if err := r.WritePNG(f, obs); err != nil {
		return err
	}
	return f.Close()
}

// Count returns how many snapshots have been written.
func (r *PNGRenderer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// WritePNG encodes one snapshot to w.
func (r *PNGRenderer) WritePNG(w io.Writer, obs []obstacle.Obstacle) error {
	p, err := r.plot(obs)
	if err != nil {
		return err
	}
	size := r.Size
	if size <= 0 {
		size = 6 * vg.Inch
	}
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}

func (r *PNGRenderer) plot(obs []obstacle.Obstacle) (*plot.Plot, error) {
	g := r.Geometry
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Obstacles (%d)", len(obs))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"
	p.X.Min, p.X.Max = g.Origin.X-g.MaxDistance, g.Origin.X+g.MaxDistance
	p.Y.Min, p.Y.Max = g.Origin.Y-g.MaxDistance, g.Origin.Y+g.MaxDistance
	p.Add(plotter.NewGrid())

	origin, err := plotter.NewScatter(plotter.XYs{{X: g.Origin.X, Y: g.Origin.Y}})
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	origin.GlyphStyle.Shape = draw.CrossGlyph{}
	origin.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	origin.GlyphStyle.Radius = vg.Points(5)
	p.Add(origin)

	if len(obs) == 0 {
		return p, nil
	}
	pts := make(plotter.XYs, len(obs))
	for i, o := range obs {
		pts[i] = plotter.XY{X: o.Position.X, Y: o.Position.Y}
	}
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Color = color.RGBA{B: 180, A: 255}
	sc.GlyphStyle.Radius = vg.Points(2)
	p.Add(sc)
	return p, nil
}

// Loop calls r with snapshot() every interval until ctx is cancelled.
// Render errors are logged and the loop continues.
func Loop(ctx context.Context, clock timeutil.Clock, interval time.Duration, snapshot func() []obstacle.Obstacle, r Renderer) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := r.Render(snapshot()); err != nil {
				monitoring.Warnf("[render] %v", err)
			}
		}
	}
}
