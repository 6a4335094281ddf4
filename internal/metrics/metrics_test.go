package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	r := New()
	c := r.Counter("test_total", "help")
	c.Inc()
	c.Add(2)
	if c.Value() != 3 {
		t.Errorf("counter = %d", c.Value())
	}
	// same name returns the same series
	if r.Counter("test_total", "help") != c {
		t.Error("counter not deduplicated")
	}

	g := r.Gauge("test_gauge", "help")
	g.Set(5)
	g.Inc()
	g.Dec()
	if g.Value() != 5 {
		t.Errorf("gauge = %d", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("test_seconds", "help", []float64{1, 5})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	if h.count != 3 {
		t.Errorf("count = %d", h.count)
	}
	if h.buckets[0].count != 1 || h.buckets[1].count != 2 {
		t.Errorf("buckets = %+v", h.buckets)
	}
}

func TestHandlerExposition(t *testing.T) {
	r := New()
	r.Counter("lumichat_test_total", "A counter").Add(7)
	r.Gauge("lumichat_test_gauge", "A gauge").Set(2)
	r.Histogram("lumichat_test_seconds", "A histogram", []float64{1}).Observe(0.5)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"lumichat_uptime_seconds",
		"# TYPE lumichat_test_total counter",
		"lumichat_test_total 7",
		"lumichat_test_gauge 2",
		`lumichat_test_seconds_bucket{le="1"} 1`,
		"lumichat_test_seconds_count 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}
