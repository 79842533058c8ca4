package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agora/internal/domain"
)

const namespace = "agora"

type Metrics struct {
	registry         *prometheus.Registry
	messagesAppended *prometheus.CounterVec
	repliesDropped   *prometheus.CounterVec
	backgroundActive prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the service collectors on a fresh registry. chatLen, when
// not nil, is exported as the current chat log length.
func New(chatLen func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messagesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_appended_total",
			Help:      "Chat messages appended to the log, by kind.",
		}, []string{"kind"}),
		repliesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_replies_dropped_total",
			Help:      "Agent replies dropped before reaching the log, by reason.",
		}, []string{"reason"}),
		backgroundActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_background_running",
			Help:      "1 while the background conversation loop runs.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.messagesAppended,
		m.repliesDropped,
		m.backgroundActive,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewGoCollector(),
	)
	if chatLen != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_log_length",
			Help:      "Messages currently held in the chat log.",
		}, func() float64 { return float64(chatLen()) }))
	}
	return m
}

func (m *Metrics) MessageAppended(kind domain.MessageKind) {
	m.messagesAppended.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ReplyDropped(reason string) {
	m.repliesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) BackgroundRunning(running bool) {
	if running {
		m.backgroundActive.Set(1)
		return
	}
	m.backgroundActive.Set(0)
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
