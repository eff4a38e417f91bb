package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/scanlink/internal/httputil"
	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/position"
	"github.com/banshee-data/scanlink/internal/supervisor"
)

// Status is the /api/status document.
type Status struct {
	Role          string                    `json:"role"`
	Session       string                    `json:"session,omitempty"`
	Uptime        string                    `json:"uptime"`
	SensorLink    string                    `json:"sensor_link,omitempty"`
	Supervisor    string                    `json:"supervisor,omitempty"`
	ResetDeadline *time.Time                `json:"reset_deadline,omitempty"`
	Transmit      *TransmitStatus           `json:"transmit,omitempty"`
	Obstacles     int                       `json:"obstacles"`
	Peers         int                       `json:"peers,omitempty"`
	Links         []monitoring.LinkSnapshot `json:"links,omitempty"`
}

// TransmitStatus reports the publisher gates.
type TransmitStatus struct {
	Enabled bool `json:"enabled"`
	Paused  bool `json:"paused"`
	Sending bool `json:"sending"`
}

// ObstacleJSON is one obstacle on the wire.
type ObstacleJSON struct {
	Index    int     `json:"index"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Distance float64 `json:"distance"`
}

// PeerJSON is one position-sync peer on the wire.
type PeerJSON struct {
	Peer     string    `json:"peer"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Seq      uint64    `json:"seq"`
	Updates  uint64    `json:"updates"`
	LastSeen time.Time `json:"last_seen"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) status() Status {
	st := Status{
		Role:    s.cfg.Role,
		Session: s.cfg.Session,
		Uptime:  s.cfg.Clock.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.Link != nil {
		st.SensorLink = s.cfg.Link.Load().String()
	}
	if sup := s.cfg.Supervisor; sup != nil {
		st.Supervisor = sup.State().String()
		if d := sup.Deadline(); !d.IsZero() {
			st.ResetDeadline = &d
		}
	}
	if pub := s.cfg.Publisher; pub != nil {
		st.Transmit = &TransmitStatus{Enabled: pub.Enabled(), Paused: pub.Paused(), Sending: pub.IsSending()}
	}
	if s.cfg.Obstacles != nil {
		st.Obstacles = len(s.cfg.Obstacles())
	}
	if s.cfg.Peers != nil {
		st.Peers = len(s.cfg.Peers())
	}
	for _, l := range s.cfg.Links {
		st.Links = append(st.Links, l.Snapshot())
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) obstacles() []ObstacleJSON {
	out := []ObstacleJSON{}
	if s.cfg.Obstacles == nil {
		return out
	}
	for _, o := range s.cfg.Obstacles() {
		out = append(out, ObstacleJSON{Index: o.Index, X: o.Position.X, Y: o.Position.Y, Distance: o.Distance})
	}
	return out
}

func (s *Server) handleObstacles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.obstacles())
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Peers == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "no position sync on this node")
		return
	}
	out := []PeerJSON{}
	for _, p := range s.cfg.Peers() {
		out = append(out, peerJSON(p))
	}
	httputil.WriteJSONOK(w, out)
}

func peerJSON(p position.Peer) PeerJSON {
	return PeerJSON{Peer: p.Key, X: p.Position.X, Y: p.Position.Y, Seq: p.Seq, Updates: p.Updates, LastSeen: p.LastSeen}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.cfg.Supervisor == nil {
		httputil.Unavailable(w, "sensor supervisor")
		return
	}
	started := s.cfg.Supervisor.Trigger(supervisor.OriginUI)
	status := http.StatusAccepted
	if !started {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, map[string]any{
		"started":  started,
		"deadline": s.cfg.Supervisor.Deadline(),
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if s.cfg.Publisher == nil {
		httputil.Unavailable(w, "publisher")
		return
	}
	enabled := s.cfg.Publisher.Toggle()
	httputil.WriteJSONOK(w, map[string]bool{"enabled": enabled})
}

// handleObstacleChart renders the current obstacles as an HTML scatter.
func (s *Server) handleObstacleChart(w http.ResponseWriter, r *http.Request) {
	obs := s.obstacles()
	data := make([]opts.ScatterData, 0, len(obs))
	for _, o := range obs {
		data = append(data, opts.ScatterData{Value: []interface{}{o.X, o.Y, o.Index}})
	}

	g := s.cfg.Geometry
	pad := g.MaxDistance * 1.05
	if pad == 0 {
		pad = 1
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Obstacles", Width: "800px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: "Obstacles", Subtitle: fmt.Sprintf("role=%s count=%d", s.cfg.Role, len(obs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: g.Origin.X - pad, Max: g.Origin.X + pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: g.Origin.Y - pad, Max: g.Origin.Y + pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("obstacles", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("sensor", []opts.ScatterData{{Value: []interface{}{g.Origin.X, g.Origin.Y}}},
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleObstaclePNG(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PNG == nil || s.cfg.Obstacles == nil {
		httputil.WriteJSONError(w, http.StatusNotFound, "png rendering not configured")
		return
	}
	var buf bytes.Buffer
	if err := s.cfg.PNG.WritePNG(&buf, s.cfg.Obstacles()); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// handleObstacleFeed pushes an obstacle snapshot to the client every
// PushInterval until either side closes.
func (s *Server) handleObstacleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.clients--
		s.mu.Unlock()
	}()

	// The read side only watches for the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := s.cfg.Clock.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()
	for {
		if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := conn.WriteJSON(s.obstacles()); err != nil {
			return
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C():
		}
	}
}
