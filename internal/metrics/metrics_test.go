package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCatalogMetrics_ObserveRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("/Catalog/GetAllProducts", http.MethodGet, http.StatusOK, 15*time.Millisecond)
	m.ObserveRequest("/Catalog/GetAllProducts", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest("", http.MethodGet, http.StatusNotFound, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/Catalog/GetAllProducts", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "GET", "404")))
}

func TestCatalogMetrics_ObserveUpload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUpload(UploadStored, 1024)
	m.ObserveUpload(UploadOrphaned, 10)
	m.ObserveUpload(UploadRejected, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues(UploadStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues(UploadOrphaned)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues(UploadRejected)))
	assert.Equal(t, 1034.0, testutil.ToFloat64(m.uploadBytes))
}

func TestCatalogMetrics_NilSafe(t *testing.T) {
	var m *CatalogMetrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("/x", "GET", 200, time.Second)
		m.ObserveUpload(UploadStored, 1)
	})

	unregistered := New(nil)
	assert.NotPanics(t, func() {
		unregistered.ObserveUpload(UploadFailed, 1)
	})
}
