package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/obstacle"
	"github.com/banshee-data/scanlink/internal/position"
	"github.com/banshee-data/scanlink/internal/sensor"
	"github.com/banshee-data/scanlink/internal/supervisor"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

type fakeSupervisor struct {
	mu        sync.Mutex
	resetting bool
	deadline  time.Time
	origins   []supervisor.Origin
}

func (f *fakeSupervisor) Trigger(o supervisor.Origin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetting {
		return false
	}
	f.resetting = true
	f.deadline = time.Unix(100, 0).UTC()
	f.origins = append(f.origins, o)
	return true
}

func (f *fakeSupervisor) State() supervisor.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetting {
		return supervisor.Resetting
	}
	return supervisor.Idle
}

func (f *fakeSupervisor) Deadline() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resetting {
		return time.Time{}
	}
	return f.deadline
}

type fakePublisher struct{ enabled bool }

func (f *fakePublisher) Toggle() bool    { f.enabled = !f.enabled; return f.enabled }
func (f *fakePublisher) Enabled() bool   { return f.enabled }
func (f *fakePublisher) Paused() bool    { return false }
func (f *fakePublisher) IsSending() bool { return f.enabled }

var testObstacles = []obstacle.Obstacle{
	{Index: 0, Position: r2.Point{X: 0, Y: 3}, Distance: 3},
	{Index: 3, Position: r2.Point{X: 5, Y: 0}, Distance: 5},
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewMockClock(time.Unix(0, 0))
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{})
	rec := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	link := &sensor.LinkStateCell{}
	link.Store(sensor.Connected)
	stats := monitoring.NewLinkStats("scan", nil)
	stats.AddSent(10)

	s := newTestServer(t, Config{
		Role:       "send",
		Session:    "abc",
		Supervisor: &fakeSupervisor{},
		Publisher:  &fakePublisher{enabled: true},
		Link:       link,
		Obstacles:  func() []obstacle.Obstacle { return testObstacles },
		Links:      []*monitoring.LinkStats{stats},
	})
	rec := do(t, s, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "send", st.Role)
	assert.Equal(t, "abc", st.Session)
	assert.Equal(t, "connected", st.SensorLink)
	assert.Equal(t, "idle", st.Supervisor)
	assert.Nil(t, st.ResetDeadline)
	require.NotNil(t, st.Transmit)
	assert.True(t, st.Transmit.Sending)
	assert.Equal(t, 2, st.Obstacles)
	require.Len(t, st.Links, 1)
	assert.Equal(t, int64(1), st.Links[0].Sent)
}

func TestObstacles(t *testing.T) {
	s := newTestServer(t, Config{Obstacles: func() []obstacle.Obstacle { return testObstacles }})
	rec := do(t, s, http.MethodGet, "/api/obstacles")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ObstacleJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []ObstacleJSON{{Index: 0, X: 0, Y: 3, Distance: 3}, {Index: 3, X: 5, Y: 0, Distance: 5}}, got)

	empty := newTestServer(t, Config{})
	assert.JSONEq(t, `[]`, do(t, empty, http.MethodGet, "/api/obstacles").Body.String())
}

func TestPeers(t *testing.T) {
	s := newTestServer(t, Config{Peers: func() []position.Peer {
		return []position.Peer{{Key: "10.0.0.2:5000", Position: r2.Point{X: 1, Y: 2}, Seq: 7, Updates: 3}}
	}})
	rec := do(t, s, http.MethodGet, "/api/peers")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []PeerJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.2:5000", got[0].Peer)
	assert.Equal(t, uint64(7), got[0].Seq)

	assert.Equal(t, http.StatusNotFound, do(t, newTestServer(t, Config{}), http.MethodGet, "/api/peers").Code)
}

func TestReset(t *testing.T) {
	sup := &fakeSupervisor{}
	s := newTestServer(t, Config{Supervisor: sup})

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/reset").Code)

	rec := do(t, s, http.MethodPost, "/api/reset")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":true`)

	rec = do(t, s, http.MethodPost, "/api/reset")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []supervisor.Origin{supervisor.OriginUI}, sup.origins)

	none := newTestServer(t, Config{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, none, http.MethodPost, "/api/reset").Code)
}

func TestToggle(t *testing.T) {
	pub := &fakePublisher{enabled: true}
	s := newTestServer(t, Config{Publisher: pub})

	rec := do(t, s, http.MethodPost, "/api/toggle")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())
	assert.False(t, pub.enabled)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/toggle").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, newTestServer(t, Config{}), http.MethodPost, "/api/toggle").Code)
}

func TestObstacleChart(t *testing.T) {
	s := newTestServer(t, Config{
		Obstacles: func() []obstacle.Obstacle { return testObstacles },
		Geometry:  obstacle.Geometry{MaxDistance: 10},
	})
	rec := do(t, s, http.MethodGet, "/charts/obstacles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/charts/obstacles.png").Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitoring.NewMetrics(reg)
	m.Obstacles.Set(4)

	s := newTestServer(t, Config{Gatherer: reg})
	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scanlink_obstacles 4")
}

func TestDebugAndAdminRoutes(t *testing.T) {
	called := false
	s := newTestServer(t, Config{Role: "receive", Admin: []func(*http.ServeMux) error{
		func(mux *http.ServeMux) error {
			called = true
			mux.HandleFunc("/debug/extra", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("extra")) })
			return nil
		},
	}})
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/debug/").Code)
	assert.Equal(t, "extra", do(t, s, http.MethodGet, "/debug/extra").Body.String())

	_, err := New(Config{Admin: []func(*http.ServeMux) error{
		func(*http.ServeMux) error { return errors.New("boom") },
	}})
	assert.EqualError(t, err, "boom")
}

func TestObstacleFeed(t *testing.T) {
	s := newTestServer(t, Config{
		Obstacles:    func() []obstacle.Obstacle { return testObstacles },
		Clock:        timeutil.RealClock{},
		PushInterval: 10 * time.Millisecond,
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/obstacles"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		var got []ObstacleJSON
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&got))
		assert.Len(t, got, 2)
	}
	assert.Equal(t, 1, s.Clients())

	conn.Close()
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
