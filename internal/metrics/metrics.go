package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles prometheus collectors for the compression session.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec

	InputsTotal        *prometheus.CounterVec
	BytesTotal         *prometheus.CounterVec
	RecompressionsSec  *prometheus.HistogramVec
	ExportedFilesTotal *prometheus.CounterVec

	CollectionImages prometheus.Gauge
	Quality          prometheus.Gauge
	Processing       prometheus.Gauge
}

func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photo_compressor_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "photo_compressor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		InputsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photo_compressor_inputs_total",
			Help: "Inputs received by batch outcome.",
		}, []string{"result"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photo_compressor_bytes_total",
			Help: "Bytes of ingested originals and their compressed artifacts.",
		}, []string{"kind"}),
		RecompressionsSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "photo_compressor_recompression_duration_seconds",
			Help:    "Duration of collection recompressions by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		ExportedFilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photo_compressor_exported_files_total",
			Help: "Exported files by result.",
		}, []string{"result"}),
		CollectionImages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photo_compressor_collection_images",
			Help: "Number of images in the collection.",
		}),
		Quality: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photo_compressor_quality",
			Help: "Current compression quality.",
		}),
		Processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photo_compressor_processing",
			Help: "1 while a batch or recompression is running.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.InputsTotal,
		m.BytesTotal,
		m.RecompressionsSec,
		m.ExportedFilesTotal,
		m.CollectionImages,
		m.Quality,
		m.Processing,
	)

	return m
}

// ObserveBatch counts the outcome of one ingested batch.
func (m *Metrics) ObserveBatch(accepted, skipped, failed int) {
	m.InputsTotal.WithLabelValues("accepted").Add(float64(accepted))
	m.InputsTotal.WithLabelValues("skipped").Add(float64(skipped))
	m.InputsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveBytes adds original and compressed byte counts.
func (m *Metrics) ObserveBytes(in, out int64) {
	m.BytesTotal.WithLabelValues("original").Add(float64(in))
	m.BytesTotal.WithLabelValues("compressed").Add(float64(out))
}

// ObserveRecompression records one recompression attempt.
func (m *Metrics) ObserveRecompression(ok bool, d time.Duration) {
	m.RecompressionsSec.WithLabelValues(result(ok)).Observe(d.Seconds())
}

// ObserveExport counts saved and failed files of one export.
func (m *Metrics) ObserveExport(saved, failed int) {
	m.ExportedFilesTotal.WithLabelValues("ok").Add(float64(saved))
	m.ExportedFilesTotal.WithLabelValues("error").Add(float64(failed))
}

// SetCollection mirrors the collection state into gauges.
func (m *Metrics) SetCollection(images, quality int, processing bool) {
	m.CollectionImages.Set(float64(images))
	m.Quality.Set(float64(quality))
	if processing {
		m.Processing.Set(1)
	} else {
		m.Processing.Set(0)
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := routeTemplate(r)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// routeTemplate labels requests by their mux pattern so ids do not explode
// the label set.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes websocket upgrades through wrapped ResponseWriter.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Flush keeps streaming behavior for handlers that require it.
func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
