// Package metrics provides Prometheus metrics for an archive run.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "course_archiver"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	Requests *prometheus.CounterVec
	Bytes    *prometheus.CounterVec

	// Video
	Segments     prometheus.Counter
	Videos       *prometheus.CounterVec
	MuxDuration  prometheus.Histogram
	VideoSeconds prometheus.Histogram

	// Localizer
	Assets *prometheus.CounterVec

	// Walk
	Nodes *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Outbound HTTP requests by method and status code",
		}, []string{"method", "code"}),
		Bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes downloaded by resource kind",
		}, []string{"kind"}),
		Segments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dash_segments_total",
			Help:      "DASH segments fetched, including init segments",
		}),
		Videos: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_total",
			Help:      "Video downloads by result",
		}, []string{"result"}),
		MuxDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mux_duration_seconds",
			Help:      "Time spent in ffmpeg",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		VideoSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_download_duration_seconds",
			Help:      "Wall time of one video download, manifest to muxed file",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Assets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_total",
			Help:      "Localized resources by kind and result",
		}, []string{"kind", "result"}),
		Nodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Course nodes by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRequest counts one finished request. code is 0 for transport errors.
func (m *Metrics) ObserveRequest(method string, code int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// AddBytes counts downloaded payload bytes.
func (m *Metrics) AddBytes(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Bytes.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) SegmentFetched() {
	if m == nil {
		return
	}
	m.Segments.Inc()
}

// VideoDone records a finished video download attempt.
func (m *Metrics) VideoDone(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Videos.WithLabelValues(result).Inc()
	m.VideoSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMux(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MuxDuration.Observe(elapsed.Seconds())
}

// Asset records a localizer outcome: "downloaded", "cached" or "failed".
func (m *Metrics) Asset(kind, result string) {
	if m == nil {
		return
	}
	m.Assets.WithLabelValues(kind, result).Inc()
}

// Node records a walker outcome.
func (m *Metrics) Node(outcome string) {
	if m == nil {
		return
	}
	m.Nodes.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a /metrics listener on addr in the background.
// Errors after startup are passed to onErr.
func (m *Metrics) Serve(addr string, onErr func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onErr != nil {
			onErr(err)
		}
	}()
	return srv
}
