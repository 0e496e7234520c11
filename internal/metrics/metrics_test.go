package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", 200)
		m.AddBytes("chunk", 10)
		m.SegmentFetched()
		m.VideoDone("ok", time.Second)
		m.ObserveMux(time.Second)
		m.Asset("css", "downloaded")
		m.Node("completed")
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", 206)
	m.ObserveRequest("GET", 206)
	m.AddBytes("chunk", 1024)
	m.AddBytes("chunk", -5)
	m.SegmentFetched()
	m.Asset("image", "cached")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "206")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.Bytes.WithLabelValues("chunk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Segments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assets.WithLabelValues("image", "cached")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Node("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `course_archiver_nodes_total{outcome="completed"} 1`)
}
