package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizePathLabel(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/", "/"},
		{"/metrics", "/metrics"},
		{"/health", "/health"},
		{"/release/abc", "/release/*"},
		{"/release/abc/with/more/segments", "/release/*"},
		{"/release", "/release"},
		{"/release?query=param", "/release"},
		{"", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := sanitizePathLabel(tt.path)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRecordHTTPRequest_Cardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordHTTPRequest("GET", "/release/abc", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest("GET", "/release/def", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest("GET", "/track/xyz", http.StatusOK, time.Millisecond, 100)

	countRelease := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/release/*", "OK"))
	assert.Equal(t, 2.0, countRelease)

	countTrack := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/track/*", "OK"))
	assert.Equal(t, 1.0, countTrack)
}

func TestRecordHTTPRequest_PathLabelDisabled(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := Config{EnablePathLabel: false}
	m := newMetricsWithRegistry(reg, cfg)

	m.RecordHTTPRequest("GET", "/release/abc", http.StatusOK, time.Millisecond, 100)
	m.RecordHTTPRequest("GET", "/release/def", http.StatusOK, time.Millisecond, 100)

	count := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "*", "OK"))
	assert.Equal(t, 2.0, count)
}
