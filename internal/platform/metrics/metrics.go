package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "member_tenure"

// Metrics agrupa los collectors del servicio sobre un registry propio
// (no el global), así cada test arma el suyo.
// Todos los métodos toleran receiver nil.
type Metrics struct {
	registry *prometheus.Registry

	tasksEnqueued  *prometheus.CounterVec
	tasksProcessed *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	writes         *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		tasksEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks put on the work queue, by task name.",
		}, []string{"task"}),
		tasksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_processed_total",
			Help:      "Tasks taken off the work queue, by task name and outcome.",
		}, []string{"task", "outcome"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time of one unit of work.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation writer outcomes (created, updated, unchanged, unresolved, join_date).",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) TaskEnqueued(task string) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(task).Inc()
}

// TaskProcessed: outcome es ok | retry | failed | dead | unknown_task.
func (m *Metrics) TaskProcessed(task, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.tasksProcessed.WithLabelValues(task, outcome).Inc()
	m.taskDuration.WithLabelValues(task).Observe(seconds)
}

func (m *Metrics) Reconciled(outcome string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler expone /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
