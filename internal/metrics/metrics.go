// Package metrics exposes broker counters to Prometheus. A nil *Collector
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stompnet"

// Collector holds the broker's Prometheus metrics.
type Collector struct {
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	framesTotal       *prometheus.CounterVec
	frameDuration     *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	loginsTotal       *prometheus.CounterVec
	messagesDelivered prometheus.Counter
	subscriptions     prometheus.Gauge
	uploadsTotal      prometheus.Counter
}

// New registers the broker metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of registered connections",
		}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total connections accepted, by transport",
		}, []string{"transport"}),
		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total connections closed by a rate limit, by transport",
		}, []string{"transport"}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total client frames processed, by command",
		}, []string{"command"}),
		frameDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_duration_seconds",
			Help:      "Time spent processing one client frame",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"command"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_sent_total",
			Help:      "Total ERROR frames sent, by reason",
		}, []string{"reason"}),
		loginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Total login attempts, by result",
		}, []string{"result"}),
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total MESSAGE frames handed to subscribers",
		}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_active",
			Help:      "Number of live (connection, topic) subscriptions",
		}),
		uploadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_uploads_total",
			Help:      "Total SEND frames carrying a filename header",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (c *Collector) ConnectionOpened(transport string) {
	if c == nil {
		return
	}
	c.connectionsTotal.WithLabelValues(transport).Inc()
}

func (c *Collector) ConnectionRejected(transport string) {
	if c == nil {
		return
	}
	c.rejectedTotal.WithLabelValues(transport).Inc()
}

func (c *Collector) ConnectionRegistered() {
	if c == nil {
		return
	}
	c.connectionsActive.Inc()
}

func (c *Collector) ConnectionRemoved() {
	if c == nil {
		return
	}
	c.connectionsActive.Dec()
}

// FrameProcessed records one processed client frame.
func (c *Collector) FrameProcessed(command string, d time.Duration) {
	if c == nil {
		return
	}
	c.framesTotal.WithLabelValues(command).Inc()
	c.frameDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (c *Collector) ErrorSent(reason string) {
	if c == nil {
		return
	}
	c.errorsTotal.WithLabelValues(reason).Inc()
}

func (c *Collector) Login(result string) {
	if c == nil {
		return
	}
	c.loginsTotal.WithLabelValues(result).Inc()
}

func (c *Collector) MessagesDelivered(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.messagesDelivered.Add(float64(n))
}

// SubscriptionsChanged adjusts the live subscription gauge by delta.
func (c *Collector) SubscriptionsChanged(delta int) {
	if c == nil || delta == 0 {
		return
	}
	c.subscriptions.Add(float64(delta))
}

func (c *Collector) FileUploaded() {
	if c == nil {
		return
	}
	c.uploadsTotal.Inc()
}
