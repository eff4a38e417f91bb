// Package monitor serves the operator HTTP surface: status and obstacle
// JSON, the reset and toggle actions, an obstacle chart and websocket
// feed, Prometheus metrics and the /debug pages.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/scanlink/internal/monitoring"
	"github.com/banshee-data/scanlink/internal/obstacle"
	"github.com/banshee-data/scanlink/internal/position"
	"github.com/banshee-data/scanlink/internal/render"
	"github.com/banshee-data/scanlink/internal/sensor"
	"github.com/banshee-data/scanlink/internal/supervisor"
	"github.com/banshee-data/scanlink/internal/timeutil"
)

// Resetter is the supervisor as seen by the UI.
type Resetter interface {
	Trigger(origin supervisor.Origin) bool
	State() supervisor.State
	Deadline() time.Time
}

// Transmitter is the publisher as seen by the UI.
type Transmitter interface {
	Toggle() bool
	Enabled() bool
	Paused() bool
	IsSending() bool
}

// Config wires a Server. Every source is optional; endpoints whose source
// is missing answer 503 or omit the field.
type Config struct {
	Address    string
	Role       string
	Session    string
	Supervisor Resetter
	Publisher  Transmitter
	Link       *sensor.LinkStateCell
	Obstacles  func() []obstacle.Obstacle
	Geometry   obstacle.Geometry
	Peers      func() []position.Peer
	Links      []*monitoring.LinkStats
	Gatherer   prometheus.Gatherer
	// PNG, if set, serves /charts/obstacles.png.
	PNG *render.PNGRenderer
	// PushInterval is the websocket snapshot period. Defaults to 200ms.
	PushInterval time.Duration
	// Admin attaches extra /debug routes (event log, serial mux).
	Admin []func(*http.ServeMux) error
	Clock timeutil.Clock
}

// Server is the monitor HTTP server.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	server   *http.Server
	started  time.Time
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients int
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 200 * time.Millisecond
	}
	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		started: cfg.Clock.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) setupRoutes() error {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/obstacles", s.handleObstacles)
	s.mux.HandleFunc("/api/peers", s.handlePeers)
	s.mux.HandleFunc("/api/reset", s.handleReset)
	s.mux.HandleFunc("/api/toggle", s.handleToggle)
	s.mux.HandleFunc("/charts/obstacles", s.handleObstacleChart)
	s.mux.HandleFunc("/charts/obstacles.png", s.handleObstaclePNG)
	s.mux.HandleFunc("/ws/obstacles", s.handleObstacleFeed)

	gatherer := s.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	debug := tsweb.Debugger(s.mux)
	debug.KVFunc("role", func() any { return s.cfg.Role })
	debug.KVFunc("uptime", func() any { return s.cfg.Clock.Since(s.started).Round(time.Second).String() })
	debug.KVFunc("websocket clients", func() any { return s.Clients() })
	for _, attach := range s.cfg.Admin {
		if err := attach(s.mux); err != nil {
			return err
		}
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[monitor] listening on %s", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("[monitor] shutdown error: %v", err)
		_ = s.server.Close()
	}
	monitoring.Logf("[monitor] stopped")
	return nil
}

// Clients returns the number of open websocket feeds.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients
}
