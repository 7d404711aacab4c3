// Package metrics holds the overlay's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/breeze-rmm/overlay/internal/logging"
)

var log = logging.L("metrics")

const namespace = "overlay"

// Skip reasons for frames that drew no overlay.
const (
	SkipDisabled   = "disabled"
	SkipNotReady   = "not_ready"
	SkipGPUError   = "gpu_error"
	SkipDeviceLost = "device_lost"
)

// Rebuild kinds.
const (
	RebuildDevice = "device"
	RebuildSize   = "size"
	RebuildShared = "shared"
	RebuildTarget = "target"
)

type Metrics struct {
	registry *prometheus.Registry

	FramesDrawn      prometheus.Counter
	FramesSkipped    *prometheus.CounterVec
	Rebuilds         *prometheus.CounterVec
	OverlayCost      prometheus.Histogram
	LastOverlayCost  prometheus.Gauge
	LastFrameTime    prometheus.Gauge
	TransportFrames  *prometheus.CounterVec
	TransportInvalid prometheus.Counter
	ProducerLost     prometheus.Counter
	InputSent        prometheus.Counter
	InputDropped     prometheus.Counter
	Actions          *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FramesDrawn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "frames_drawn_total",
		Help:      "Present calls that drew the overlay",
	})
	m.FramesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "frames_skipped_total",
		Help:      "Present calls that passed through without drawing",
	}, []string{"reason"})
	m.Rebuilds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "rebuilds_total",
		Help:      "GPU resource rebuilds by kind",
	}, []string{"kind"})
	m.OverlayCost = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "overlay_seconds",
		Help:      "Time spent compositing before calling the original present",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
	})
	m.LastOverlayCost = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "last_overlay_seconds",
		Help:      "Overlay cost of the most recent present",
	})
	m.LastFrameTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "composite",
		Name:      "last_frame_seconds",
		Help:      "Interval between the two most recent presents",
	})
	m.TransportFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "frames_total",
		Help:      "Frames received from the producer",
	}, []string{"mode"})
	m.TransportInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "invalid_headers_total",
		Help:      "Headers rejected by bounds validation",
	})
	m.ProducerLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "producer_lost_total",
		Help:      "Producer exits observed through the liveness object",
	})
	m.InputSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "input",
		Name:      "packets_sent_total",
		Help:      "Pointer packets sent to the producer",
	})
	m.InputDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "input",
		Name:      "packets_dropped_total",
		Help:      "Pointer packets dropped because the queue was full",
	})
	m.Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "actions",
		Name:      "runs_total",
		Help:      "Action invocations by name and result",
	}, []string{"action", "result"})

	m.registry.MustRegister(
		m.FramesDrawn, m.FramesSkipped, m.Rebuilds, m.OverlayCost,
		m.LastOverlayCost, m.LastFrameTime, m.TransportFrames,
		m.TransportInvalid, m.ProducerLost, m.InputSent, m.InputDropped,
		m.Actions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FrameDrawn(cost, interval time.Duration) {
	if m == nil {
		return
	}
	m.FramesDrawn.Inc()
	m.OverlayCost.Observe(cost.Seconds())
	m.LastOverlayCost.Set(cost.Seconds())
	if interval > 0 {
		m.LastFrameTime.Set(interval.Seconds())
	}
}

func (m *Metrics) FrameSkipped(reason string) {
	if m == nil {
		return
	}
	m.FramesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Rebuilt(kind string) {
	if m == nil {
		return
	}
	m.Rebuilds.WithLabelValues(kind).Inc()
}

func (m *Metrics) TransportFrame(mode string) {
	if m == nil {
		return
	}
	m.TransportFrames.WithLabelValues(mode).Inc()
}

func (m *Metrics) InvalidHeader() {
	if m == nil {
		return
	}
	m.TransportInvalid.Inc()
}

func (m *Metrics) ProducerExited() {
	if m == nil {
		return
	}
	m.ProducerLost.Inc()
}

func (m *Metrics) PacketSent() {
	if m == nil {
		return
	}
	m.InputSent.Inc()
}

func (m *Metrics) PacketDropped() {
	if m == nil {
		return
	}
	m.InputDropped.Inc()
}

func (m *Metrics) ActionRun(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Actions.WithLabelValues(action, result).Inc()
}

// Snapshot flattens counters and gauges into "name{label=value}" keys.
// Histograms report their sample count and sum.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	if m == nil {
		return out
	}
	families, err := m.registry.Gather()
	if err != nil {
		log.Warn("gather metrics failed", "error", err.Error())
	}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName() + labelSuffix(metric.GetLabel())
			switch {
			case metric.Counter != nil:
				out[key] = metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				out[key] = metric.GetGauge().GetValue()
			case metric.Histogram != nil:
				out[key+"_count"] = float64(metric.GetHistogram().GetSampleCount())
				out[key+"_sum"] = metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}

func labelSuffix(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, l.GetName()+"="+l.GetValue())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables
// the endpoint.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if m == nil || addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics endpoint stopped", "error", err.Error())
		}
	}()
	log.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return nil
}
