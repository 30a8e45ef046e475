package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the watch service.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	commandsTotal        *prometheus.CounterVec
	eventsBroadcastTotal prometheus.Counter
	relayPublishedTotal  prometheus.Counter
	relayReceivedTotal   prometheus.Counter
	persistErrorsTotal   prometheus.Counter
	feeds                prometheus.Gauge
	subscribers          prometheus.Gauge
}

// New creates and registers the service metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watch_commands_total",
			Help: "Playback commands dispatched to a feed, by kind",
		}, []string{"kind"}),
		eventsBroadcastTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_events_broadcast_total",
			Help: "Events broadcast by feeds owned by this process",
		}),
		relayPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_relay_published_total",
			Help: "Frames published to sibling workers",
		}),
		relayReceivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_relay_received_total",
			Help: "Frames received from sibling workers",
		}),
		persistErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watch_persist_errors_total",
			Help: "Failed writes of feed state to the durable store",
		}),
		feeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watch_feeds",
			Help: "Feeds active in this process",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watch_subscribers",
			Help: "Subscribers connected to this process",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.commandsTotal,
		m.eventsBroadcastTotal,
		m.relayPublishedTotal,
		m.relayReceivedTotal,
		m.persistErrorsTotal,
		m.feeds,
		m.subscribers,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncCommand counts one dispatched command of the given kind.
func (m *Metrics) IncCommand(kind string) { m.commandsTotal.WithLabelValues(kind).Inc() }

func (m *Metrics) IncEventsBroadcast() { m.eventsBroadcastTotal.Inc() }
func (m *Metrics) IncRelayPublished()  { m.relayPublishedTotal.Inc() }
func (m *Metrics) IncRelayReceived()   { m.relayReceivedTotal.Inc() }
func (m *Metrics) IncPersistErrors()   { m.persistErrorsTotal.Inc() }

// SetFeeds sets the active feeds gauge.
func (m *Metrics) SetFeeds(n int) { m.feeds.Set(float64(n)) }

// SetSubscribers sets the connected subscribers gauge.
func (m *Metrics) SetSubscribers(n int) { m.subscribers.Set(float64(n)) }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
