package obs

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Messaging metrics.
var (
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Currently attached websocket connections.",
	})

	messagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Messages durably persisted to the message log.",
	})

	fanoutDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_delivered_total",
		Help: "Realtime frames delivered to room members.",
	})

	fanoutDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_dropped_total",
		Help: "Realtime frames dropped because a subscriber was slow or gone.",
	})
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		wsConnections, messagesSentTotal, fanoutDeliveredTotal, fanoutDroppedTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WSConnected / WSDisconnected track the websocket connection gauge.
func WSConnected()    { wsConnections.Inc() }
func WSDisconnected() { wsConnections.Dec() }

// MessageSent increments the persisted-message counter.
func MessageSent() { messagesSentTotal.Inc() }

// FanoutDelivered and FanoutDropped record fan-out outcomes.
func FanoutDelivered(n int) { fanoutDeliveredTotal.Add(float64(n)) }
func FanoutDropped(n int)   { fanoutDroppedTotal.Add(float64(n)) }

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter records the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the wrapped writer so websocket upgrades work
// through the instrumentation wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
