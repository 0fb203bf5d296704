// Package metrics turns event bus traffic into prometheus series.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"funbot/internal/content/resolver"
	"funbot/internal/eventbus"
	"funbot/internal/handler"
	"funbot/internal/task/engine"
	"funbot/internal/task/scheduler"
	logx "funbot/pkg/logx"
)

const namespace = "funbot"

// Metrics holds every series funbot exports.
type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	Resolved        *prometheus.CounterVec
	ResolveAttempts *prometheus.HistogramVec
	ResolveLatency  *prometheus.HistogramVec
	Exhausted       *prometheus.CounterVec
	ProviderFailure *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	ScheduleFired   *prometheus.CounterVec
	Tasks           *prometheus.CounterVec
	TaskDuration    prometheus.Histogram
}

// New registers the funbot series on a private registry together with the
// Go runtime and process collectors.
func New(log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		log: log,

		Resolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_resolved_total",
			Help:      "Content requests answered, by category and source.",
		}, []string{"category", "source", "kind"}),
		ResolveAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "content_resolve_attempts",
			Help:      "Sources tried per resolution.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		}, []string{"category"}),
		ResolveLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "content_resolve_duration_seconds",
			Help:      "Time to resolve content, including fallbacks.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"category"}),
		Exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_exhausted_total",
			Help:      "Resolutions where every source failed.",
		}, []string{"category"}),
		ProviderFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Provider attempts that failed, by failure kind.",
		}, []string{"category", "kind"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Handled content commands by outcome.",
		}, []string{"category", "outcome", "scheduled"}),
		ScheduleFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_fired_total",
			Help:      "Schedule ticks by enqueue result.",
		}, []string{"command", "result"}),
		Tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Task engine lifecycle events.",
		}, []string{"event"}),
		TaskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Run time of finished and failed tasks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe updates the series for one event. Unknown events are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case resolver.ResolvedEvent:
		m.Resolved.WithLabelValues(d.Category, d.Source, d.Kind).Inc()
		m.ResolveAttempts.WithLabelValues(d.Category).Observe(float64(d.Attempts))
		m.ResolveLatency.WithLabelValues(d.Category).Observe(d.Took.Seconds())
	case resolver.ExhaustedEvent:
		m.Exhausted.WithLabelValues(d.Category).Inc()
		m.ResolveLatency.WithLabelValues(d.Category).Observe(d.Took.Seconds())
	case resolver.ProviderFailedEvent:
		m.ProviderFailure.WithLabelValues(d.Category, d.Kind).Inc()
	case handler.HandledEvent:
		sched := "false"
		if d.Scheduled {
			sched = "true"
		}
		m.Commands.WithLabelValues(d.Category, d.Outcome, sched).Inc()
	case scheduler.FiredEvent:
		res := "enqueued"
		if d.Error != "" {
			res = "rejected"
		}
		m.ScheduleFired.WithLabelValues(d.Job.Command, res).Inc()
	case engine.TaskEvent:
		if !strings.HasPrefix(ev.Type, "task.") {
			return
		}
		event := strings.TrimPrefix(ev.Type, "task.")
		m.Tasks.WithLabelValues(event).Inc()
		if event == "finished" || event == "failed" {
			m.TaskDuration.Observe(d.Duration.Seconds())
		}
	default:
		if m.log.Enabled(logx.LevelTrace) {
			m.log.Trace("metrics: event ignored", logx.String("type", ev.Type))
		}
	}
}
