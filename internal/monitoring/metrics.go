package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors LinkStats counters into Prometheus collectors. A single
// Metrics value is shared by every link in the process; series are split by
// the "link" label.
type Metrics struct {
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	Bytes          *prometheus.CounterVec
	Classified     *prometheus.CounterVec
	FramesLost     *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	Suppressed     *prometheus.CounterVec
	SendErrors     *prometheus.CounterVec
	InterArrival   *prometheus.HistogramVec
	Resets         *prometheus.CounterVec
	SensorState    *prometheus.GaugeVec
	Obstacles      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. Passing nil
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "frames_sent_total",
			Help: "Frames written to the datagram endpoint.",
		}, []string{"link"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "frames_received_total",
			Help: "Datagrams read from the endpoint, before decoding.",
		}, []string{"link"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "bytes_total",
			Help: "Payload bytes sent or received.",
		}, []string{"link", "direction"}),
		Classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "frames_classified_total",
			Help: "Decoded frames by sequence classification.",
		}, []string{"link", "class"}),
		FramesLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "frames_lost_total",
			Help: "Frames skipped over by sequence gaps.",
		}, []string{"link"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "decode_errors_total",
			Help: "Datagrams dropped as malformed.",
		}, []string{"link"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "frames_suppressed_total",
			Help: "Frames not sent because the publisher was paused or the source unavailable.",
		}, []string{"link", "reason"}),
		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "send_errors_total",
			Help: "Send calls that returned an error.",
		}, []string{"link"}),
		InterArrival: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scanlink", Name: "interarrival_seconds",
			Help:    "Time between consecutive received datagrams.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"link"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scanlink", Name: "sensor_resets_total",
			Help: "Reset cycles entered, by trigger origin.",
		}, []string{"origin"}),
		SensorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scanlink", Name: "sensor_state",
			Help: "1 for the current sensor link state, 0 otherwise.",
		}, []string{"state"}),
		Obstacles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scanlink", Name: "obstacles",
			Help: "Obstacles currently held by the reconciler.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesSent, m.FramesReceived, m.Bytes, m.Classified, m.FramesLost,
			m.DecodeErrors, m.Suppressed, m.SendErrors, m.InterArrival,
			m.Resets, m.SensorState, m.Obstacles,
		)
	}
	return m
}
