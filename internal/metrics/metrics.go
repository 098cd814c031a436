// Package metrics exposes feed, notifier and sink counters for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"contestfeed/internal/eventbus"
	"contestfeed/internal/feed"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contestfeed"

// Metrics registers on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	LastSuccess   prometheus.Gauge
	Participants  prometheus.Gauge
	Tracked       prometheus.Gauge
	Events        *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	SinkPublishes *prometheus.CounterVec
	Digests       prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by result",
		}, []string{"result"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one poll cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed cycle",
		}),
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Participants in the last snapshot",
		}),
		Tracked: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_users",
			Help:      "Users whose submissions are tracked",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_events_total",
			Help:      "Feed events emitted by kind",
		}, []string{"kind", "urgent"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifier outcomes by status",
		}, []string{"status"}),
		SinkPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_publishes_total",
			Help:      "Sink publishes by sink and status",
		}, []string{"sink", "status"}),
		Digests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_sent_total",
			Help:      "Scheduled scoreboard digests sent",
		}),
	}
}

// Registry is the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RecordCycle implements feed.CycleRecorder.
func (m *Metrics) RecordCycle(r feed.CycleResult) {
	m.CycleDuration.Observe(r.Duration.Seconds())
	if r.Err != nil {
		m.Cycles.WithLabelValues("error").Inc()
		return
	}
	m.Cycles.WithLabelValues("ok").Inc()
	m.LastSuccess.Set(float64(r.Started.Add(r.Duration).Unix()))
	m.Participants.Set(float64(r.Participants))
	m.Tracked.Set(float64(r.Tracked))
}

func (m *Metrics) ObserveEvent(e feed.Event) {
	urgent := "false"
	if e.Urgent {
		urgent = "true"
	}
	m.Events.WithLabelValues(string(e.Kind), urgent).Inc()
}

func (m *Metrics) ObserveSink(name string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkPublishes.WithLabelValues(name, status).Inc()
}

// Consume counts notifier and digest bus events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.observeBus(e)
		}
	}
}

func (m *Metrics) observeBus(e eventbus.Event) {
	switch {
	case e.Type == eventbus.TypeDigestSent:
		m.Digests.Inc()
	case strings.HasPrefix(e.Type, "notifier."):
		m.Notifications.WithLabelValues(strings.TrimPrefix(e.Type, "notifier.")).Inc()
	}
}
