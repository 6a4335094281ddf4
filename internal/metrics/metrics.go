// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly, avoiding the client_golang dependency for
// the handful of series the app exports.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = New()

// Registry aggregates counters, gauges, and histograms.
type Registry struct {
	counters   sync.Map
	gauges     sync.Map
	histograms sync.Map
	startTime  time.Time
}

func New() *Registry {
	return &Registry{startTime: time.Now()}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name.
func (r *Registry) Counter(name, help string) *Counter {
	if v, ok := r.counters.Load(name); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help}
	actual, _ := r.counters.LoadOrStore(name, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (r *Registry) Gauge(name, help string) *Gauge {
	if v, ok := r.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help}
	actual, _ := r.gauges.LoadOrStore(name, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if v, ok := r.histograms.Load(name); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, buckets: hb}
	actual, _ := r.histograms.LoadOrStore(name, h)
	return actual.(*Histogram)
}

// Handler renders the registry in Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP lumichat_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE lumichat_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "lumichat_uptime_seconds %d\n\n", int64(r.Uptime().Seconds()))

		r.counters.Range(func(_, value any) bool {
			c := value.(*Counter)
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.Value())
			return true
		})
		r.gauges.Range(func(_, value any) bool {
			g := value.(*Gauge)
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", g.name, g.help, g.name, g.name, g.Value())
			return true
		})
		r.histograms.Range(func(_, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()

			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, le, b.count)
			}
			fmt.Fprintf(&sb, "%s_count %d\n%s_sum %f\n", h.name, h.count, h.name, h.sum)
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// Series used across the application.
var (
	MessagesTotal    = Collector.Counter("lumichat_messages_total", "Total user messages processed")
	StreamsTotal     = Collector.Counter("lumichat_streams_total", "Total model response streams started")
	StreamErrors     = Collector.Counter("lumichat_stream_errors_total", "Total model response streams that failed")
	BusyRejections   = Collector.Counter("lumichat_busy_rejections_total", "Sends rejected because the session was streaming")
	RemoteSaveErrors = Collector.Counter("lumichat_remote_save_errors_total", "Failed remote session saves")
	SpeechTotal      = Collector.Counter("lumichat_speech_requests_total", "Total speech synthesis requests")
	SessionsGauge    = Collector.Gauge("lumichat_sessions", "Sessions currently in the store")
	StreamsInFlight  = Collector.Gauge("lumichat_streams_inflight", "Model response streams currently running")
	EventSubscribers = Collector.Gauge("lumichat_event_subscribers", "Connected store event listeners")

	StreamLatency = Collector.Histogram("lumichat_stream_latency_seconds", "Full response stream duration in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
)
