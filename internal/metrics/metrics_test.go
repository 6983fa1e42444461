package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBatch(3, 1, 2)
	m.ObserveBatch(1, 0, 0)
	m.ObserveBytes(1000, 250)
	m.ObserveExport(4, 1)
	m.SetCollection(4, 60, true)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"accepted", testutil.ToFloat64(m.InputsTotal.WithLabelValues("accepted")), 4},
		{"skipped", testutil.ToFloat64(m.InputsTotal.WithLabelValues("skipped")), 1},
		{"failed", testutil.ToFloat64(m.InputsTotal.WithLabelValues("failed")), 2},
		{"original bytes", testutil.ToFloat64(m.BytesTotal.WithLabelValues("original")), 1000},
		{"compressed bytes", testutil.ToFloat64(m.BytesTotal.WithLabelValues("compressed")), 250},
		{"exported", testutil.ToFloat64(m.ExportedFilesTotal.WithLabelValues("ok")), 4},
		{"export errors", testutil.ToFloat64(m.ExportedFilesTotal.WithLabelValues("error")), 1},
		{"images", testutil.ToFloat64(m.CollectionImages), 4},
		{"quality", testutil.ToFloat64(m.Quality), 60},
		{"processing", testutil.ToFloat64(m.Processing), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	m.SetCollection(0, 60, false)
	if got := testutil.ToFloat64(m.Processing); got != 0 {
		t.Errorf("processing = %v after reset", got)
	}
}

func TestObserveRecompression(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRecompression(true, 200*time.Millisecond)
	m.ObserveRecompression(false, time.Second)

	if n := testutil.CollectAndCount(m.RecompressionsSec); n != 2 {
		t.Errorf("expected one series per result, got %d", n)
	}
}

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	m := New(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(m.Middleware)
	router.HandleFunc("/api/images/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("DELETE")

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/images/"+id, nil))
	}

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/images/{id}", "DELETE", "404"))
	if got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(m.RequestsTotal); n != 1 {
		t.Errorf("expected a single series, got %d", n)
	}
}
