package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload outcomes recorded by ObserveUpload
const (
	UploadStored   = "stored"
	UploadRejected = "rejected"
	UploadOrphaned = "orphaned"
	UploadFailed   = "failed"
)

// CatalogMetrics records request and image upload metrics. A nil receiver is
// a no-op so components can run without a registry.
type CatalogMetrics struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
}

// New registers the catalog metrics on the provided registerer.
func New(reg prometheus.Registerer) *CatalogMetrics {
	if reg == nil {
		return &CatalogMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "HTTP requests handled by the catalog API.",
	}, []string{"route", "method", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "Duration of catalog API requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_image_uploads_total",
		Help: "Image uploads by outcome.",
	}, []string{"outcome"})
	uploadBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "catalog_image_upload_bytes_total",
		Help: "Bytes written to the image content root.",
	})
	reg.MustRegister(requests, duration, uploads, uploadBytes)
	return &CatalogMetrics{
		requests:    requests,
		duration:    duration,
		uploads:     uploads,
		uploadBytes: uploadBytes,
	}
}

// ObserveRequest records one completed HTTP request.
func (m *CatalogMetrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	route = normalizeLabel(route)
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// ObserveUpload records the outcome of an image upload and the bytes written.
func (m *CatalogMetrics) ObserveUpload(outcome string, written int64) {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues(normalizeLabel(outcome)).Inc()
	if written > 0 {
		m.uploadBytes.Add(float64(written))
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
