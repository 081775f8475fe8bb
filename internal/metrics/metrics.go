// Package metrics exposes multiplexer counters as Prometheus series and
// publishes the same totals to CloudWatch when configured.
//
// Registers:
//
//	#marketmux_messages_in_total / marketmux_messages_out_total
//	#marketmux_bytes_in_total / marketmux_bytes_out_total
//	#marketmux_decode_errors_total
//	#marketmux_outbound_dropped_total
//	#marketmux_reconnects_total
//	#marketmux_active_connections
//	#go_* and process_* system metrics
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once         sync.Once
	messagesIn   *prometheus.CounterVec
	messagesOut  *prometheus.CounterVec
	bytesIn      *prometheus.CounterVec
	bytesOut     *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	activeConns  prometheus.Gauge
)

// totals mirror the Prometheus series so the CloudWatch publisher and the
// dashboard can read values back without scraping.
var totals struct {
	messagesIn   uint64
	messagesOut  uint64
	bytesIn      uint64
	bytesOut     uint64
	decodeErrors uint64
	dropped      uint64
	reconnects   uint64
	active       int64
}

// Init registers the collectors and serves /metrics on addr. An empty addr
// skips the HTTP listener, which tests rely on.
func Init(addr string) {
	once.Do(func() {
		counter := func(name, help string) *prometheus.CounterVec {
			vec := prometheus.NewCounterVec(
				prometheus.CounterOpts{Name: name, Help: help},
				[]string{"venue"},
			)
			_ = prometheus.Register(vec)
			return vec
		}

		messagesIn = counter("marketmux_messages_in_total", "Frames received from venues")
		messagesOut = counter("marketmux_messages_out_total", "Frames written to venues")
		bytesIn = counter("marketmux_bytes_in_total", "Bytes received from venues")
		bytesOut = counter("marketmux_bytes_out_total", "Bytes written to venues")
		decodeErrors = counter("marketmux_decode_errors_total", "Frames that failed to decode")
		dropped = counter("marketmux_outbound_dropped_total", "Outbound payloads evicted from full queues")
		reconnects = counter("marketmux_reconnects_total", "Reconnect attempts scheduled")

		activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketmux_active_connections",
			Help: "Connections currently open or retrying",
		})
		_ = prometheus.Register(activeConns)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			return
		}
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncInbound records a received frame of the given size.
func IncInbound(venue string, size int) {
	if messagesIn != nil {
		messagesIn.WithLabelValues(venue).Inc()
		bytesIn.WithLabelValues(venue).Add(float64(size))
	}
	atomic.AddUint64(&totals.messagesIn, 1)
	atomic.AddUint64(&totals.bytesIn, uint64(size))
}

// IncOutbound records a written frame of the given size.
func IncOutbound(venue string, size int) {
	if messagesOut != nil {
		messagesOut.WithLabelValues(venue).Inc()
		bytesOut.WithLabelValues(venue).Add(float64(size))
	}
	atomic.AddUint64(&totals.messagesOut, 1)
	atomic.AddUint64(&totals.bytesOut, uint64(size))
}

// IncDecodeError records a frame the venue codec rejected.
func IncDecodeError(venue string) {
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(venue).Inc()
	}
	atomic.AddUint64(&totals.decodeErrors, 1)
}

// IncDropped records an outbound payload evicted from a full queue.
func IncDropped(venue string) {
	if dropped != nil {
		dropped.WithLabelValues(venue).Inc()
	}
	atomic.AddUint64(&totals.dropped, 1)
}

// IncReconnect records a scheduled reconnect attempt.
func IncReconnect(venue string) {
	if reconnects != nil {
		reconnects.WithLabelValues(venue).Inc()
	}
	atomic.AddUint64(&totals.reconnects, 1)
}

// SetActiveConnections updates the live connection gauge.
func SetActiveConnections(n int) {
	if activeConns != nil {
		activeConns.Set(float64(n))
	}
	atomic.StoreInt64(&totals.active, int64(n))
}

// Snapshot returns the current totals keyed by metric name.
func Snapshot() map[string]float64 {
	return map[string]float64{
		"MessagesIn":        float64(atomic.LoadUint64(&totals.messagesIn)),
		"MessagesOut":       float64(atomic.LoadUint64(&totals.messagesOut)),
		"BytesIn":           float64(atomic.LoadUint64(&totals.bytesIn)),
		"BytesOut":          float64(atomic.LoadUint64(&totals.bytesOut)),
		"DecodeErrors":      float64(atomic.LoadUint64(&totals.decodeErrors)),
		"DroppedOutbound":   float64(atomic.LoadUint64(&totals.dropped)),
		"Reconnects":        float64(atomic.LoadUint64(&totals.reconnects)),
		"ActiveConnections": float64(atomic.LoadInt64(&totals.active)),
	}
}
