package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/domain"
)

const namespace = "witcopier"

// Recorder publishes notification, subscriber, and copy metrics on a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	notifications *prometheus.CounterVec
	subscribers   *prometheus.CounterVec
	subscriberDur *prometheus.HistogramVec
	copies        *prometheus.CounterVec
	copyDur       *prometheus.HistogramVec
}

var _ app.MetricsRecorder = (*Recorder)(nil)

// Options controls optional collectors.
type Options struct {
	// Runtime adds the Go runtime and process collectors.
	Runtime bool
}

// NewRecorder constructs a recorder with its own registry.
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications dispatched, by category and event type.",
		}, []string{"category", "event_type"}),
		subscribers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_deliveries_total",
			Help:      "Subscriber deliveries, by subscriber and result.",
		}, []string{"subscriber", "result"}),
		subscriberDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "subscriber_duration_seconds",
			Help:      "Time spent inside one subscriber delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"subscriber"}),
		copies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "copies_total",
			Help:      "Copy attempts, by outcome and skip reason.",
		}, []string{"outcome", "reason"}),
		copyDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "copy_duration_seconds",
			Help:      "Time spent evaluating and copying one notification.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(r.notifications, r.subscribers, r.subscriberDur, r.copies, r.copyDur)
	if opts.Runtime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveNotification counts one dispatched notification.
func (r *Recorder) ObserveNotification(category domain.NotificationCategory, eventType domain.EventType) {
	r.notifications.WithLabelValues(string(category), string(eventType)).Inc()
}

// ObserveSubscriber counts one delivery and its duration.
func (r *Recorder) ObserveSubscriber(name string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	r.subscribers.WithLabelValues(name, result).Inc()
	r.subscriberDur.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveCopy counts one copier decision and its duration.
func (r *Recorder) ObserveCopy(outcome domain.CopyOutcome, reason app.SkipReason, duration time.Duration) {
	r.copies.WithLabelValues(string(outcome), string(reason)).Inc()
	r.copyDur.WithLabelValues(string(outcome)).Observe(duration.Seconds())
}
