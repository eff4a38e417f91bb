package position

import (
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableApplyAndExpire(t *testing.T) {
	tab := NewTable(5 * time.Second)
	t0 := time.Unix(1000, 0)

	assert.True(t, tab.Apply("a", 1, r2.Point{X: 1, Y: 2}, t0))
	assert.False(t, tab.Apply("a", 2, r2.Point{X: 3, Y: 4}, t0.Add(time.Second)))
	assert.True(t, tab.Apply("b", 1, r2.Point{}, t0.Add(2*time.Second)))

	p, ok := tab.Get("a")
	require.True(t, ok)
	assert.Equal(t, r2.Point{X: 3, Y: 4}, p.Position)
	assert.Equal(t, uint64(2), p.Seq)
	assert.Equal(t, uint64(2), p.Updates)
	assert.Equal(t, t0, p.FirstSeen)

	assert.Empty(t, tab.Expire(t0.Add(5*time.Second)))
	assert.Equal(t, []string{"a"}, tab.Expire(t0.Add(6*time.Second)))
	assert.Equal(t, 1, tab.Len())

	snap := tab.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b", snap[0].Key)
}

func TestTableWithoutTimeoutNeverExpires(t *testing.T) {
	tab := NewTable(0)
	tab.Apply("a", 1, r2.Point{}, time.Unix(0, 0))
	assert.Nil(t, tab.Expire(time.Unix(1e6, 0)))
	assert.Equal(t, 1, tab.Len())
}

func TestOrbit(t *testing.T) {
	m := Orbit(r2.Point{X: 1, Y: 1}, 2, 4*time.Second)
	for _, ms := range []int64{0, 500, 1000, 3999} {
		p := m(time.UnixMilli(ms))
		assert.InDelta(t, 2, p.Sub(r2.Point{X: 1, Y: 1}).Norm(), 1e-9)
	}
	p := m(time.UnixMilli(1000))
	assert.InDelta(t, 1, p.X, 1e-9)
	assert.InDelta(t, 3, p.Y, 1e-9)
}
