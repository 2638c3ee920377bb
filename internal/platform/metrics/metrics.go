// Package metrics exposes Prometheus counters for the realtime delivery layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is nil-safe so components can run without metrics in tests.
type Recorder struct {
	registry      *prometheus.Registry
	connections   *prometheus.CounterVec
	live          prometheus.Gauge
	fanout        *prometheus.CounterVec
	messages      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

// New creates a recorder backed by its own registry, including Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the realtime metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: reg,
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketws_connections_total",
			Help: "Connection lifecycle transitions by stage",
		}, []string{"stage"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketws_connections_live",
			Help: "Currently open transport connections",
		}),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketws_fanout_deliveries_total",
			Help: "Per-connection event deliveries by event and result",
		}, []string{"event", "result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketws_messages_total",
			Help: "Chat message sends by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketws_notifications_total",
			Help: "Notification dispatches by outcome",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketws_commands_total",
			Help: "Inbound commands by name",
		}, []string{"command"}),
	}
	reg.MustRegister(r.connections, r.live, r.fanout, r.messages, r.notifications, r.commands)
	return r
}

func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.connections.WithLabelValues("opened").Inc()
	r.live.Inc()
}

func (r *Recorder) ConnectionAuthenticated() {
	if r == nil {
		return
	}
	r.connections.WithLabelValues("authenticated").Inc()
}

func (r *Recorder) ConnectionReleased() {
	if r == nil {
		return
	}
	r.connections.WithLabelValues("released").Inc()
	r.live.Dec()
}

func (r *Recorder) Delivery(event, result string) {
	if r == nil {
		return
	}
	r.fanout.WithLabelValues(event, result).Inc()
}

func (r *Recorder) MessageSend(result string) {
	if r == nil {
		return
	}
	r.messages.WithLabelValues(result).Inc()
}

func (r *Recorder) NotificationDispatch(outcome string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Command(name string) {
	if r == nil {
		return
	}
	r.commands.WithLabelValues(name).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
