// Package obstacle turns scan frames into a table of obstacles keyed by ray
// index.
package obstacle

import (
	"math"
	"sort"
	"sync"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/scanlink/internal/wire"
)

// Geometry fixes how ray indices map to directions in the sensor plane.
type Geometry struct {
	Rays         int
	MaxDistance  float64
	StepAngleDeg float64
	OffsetDeg    float64
	Origin       r2.Point
}

// Angle returns the angle of ray i in degrees.
func (g Geometry) Angle(i int) float64 {
	return g.StepAngleDeg*float64(i) + g.OffsetDeg
}

// Direction returns the unit vector of ray i: (-sin a, cos a).
func (g Geometry) Direction(i int) r2.Point {
	sin, cos := math.Sincos(g.Angle(i) * math.Pi / 180)
	return r2.Point{X: -sin, Y: cos}
}

// Project returns the point at distance d along ray i.
func (g Geometry) Project(i int, d float64) r2.Point {
	return g.Origin.Add(g.Direction(i).Mul(d))
}

// Obstacle is one detected object.
type Obstacle struct {
	Index    int      `json:"index"`
	Position r2.Point `json:"position"`
	Distance float64  `json:"distance"`
}

// Changes summarises what one Apply did to the table.
type Changes struct {
	Created int
	Moved   int
	Removed int
}

// Reconciler owns the obstacle table. Every applied frame is a full
// snapshot for the rays it carries: readings below MaxDistance create or
// move the ray's obstacle, anything else removes it. Rays missing from a
// frame are left alone.
type Reconciler struct {
	geom Geometry
	dirs []r2.Point

	mu        sync.RWMutex
	table     map[int]Obstacle
	observers []func(Changes)
}

// NewReconciler creates an empty table for geom.
func NewReconciler(geom Geometry) *Reconciler {
	dirs := make([]r2.Point, geom.Rays)
	for i := range dirs {
		dirs[i] = geom.Direction(i)
	}
	return &Reconciler{
		geom:  geom,
		dirs:  dirs,
		table: make(map[int]Obstacle, geom.Rays),
	}
}

// Geometry returns the reconciler's geometry.
func (r *Reconciler) Geometry() Geometry { return r.geom }

// Observe registers fn to be called after every Apply.
func (r *Reconciler) Observe(fn func(Changes)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Apply folds one frame into the table.
func (r *Reconciler) Apply(f wire.ScanFrame) Changes {
	var c Changes

	r.mu.Lock()
	for _, rd := range f.Readings {
		d := rd.Distance
		if d >= r.geom.MaxDistance || d < 0 || math.IsNaN(d) {
			if _, ok := r.table[rd.Index]; ok {
				delete(r.table, rd.Index)
				c.Removed++
			}
			continue
		}

		pos := r.project(rd.Index, d)
		prev, ok := r.table[rd.Index]
		switch {
		case !ok:
			c.Created++
		case prev.Position != pos:
			c.Moved++
		}
		r.table[rd.Index] = Obstacle{Index: rd.Index, Position: pos, Distance: d}
	}
	observers := r.observers
	r.mu.Unlock()

	for _, fn := range observers {
		fn(c)
	}
	return c
}

func (r *Reconciler) project(i int, d float64) r2.Point {
	if i >= 0 && i < len(r.dirs) {
		return r.geom.Origin.Add(r.dirs[i].Mul(d))
	}
	return r.geom.Project(i, d)
}

// Get returns the obstacle on ray i.
func (r *Reconciler) Get(i int) (Obstacle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.table[i]
	return o, ok
}

// Len returns the number of obstacles.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

// Snapshot returns a consistent copy of the table ordered by ray index.
func (r *Reconciler) Snapshot() []Obstacle {
	r.mu.RLock()
	out := make([]Obstacle, 0, len(r.table))
	for _, o := range r.table {
		out = append(out, o)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Clear removes every obstacle.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	r.table = make(map[int]Obstacle, r.geom.Rays)
	r.mu.Unlock()
}
