// Package metrics exposes Prometheus collectors for build activity and the
// live reload hub.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kingrea/assetflow/internal/orchestrator"
	"github.com/kingrea/assetflow/internal/task"
)

const namespace = "assetflow"

// Metrics holds the collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	taskRuns     *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	bytesWritten *prometheus.CounterVec
	runsActive   prometheus.Gauge
	reloads      prometheus.Counter
	sessions     prometheus.Gauge
}

// New constructs and registers the collectors on reg. Collectors that are
// already registered are reused, so building twice against one registry is
// safe.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "Task executions by outcome.",
		}, []string{"task", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Time spent executing a task.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task", "outcome"}),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "bytes_written_total",
			Help:      "Bytes of output committed by successful tasks.",
		}, []string{"task"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "runs_active",
			Help:      "Runs currently in progress.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "reloads_total",
			Help:      "Reload commands broadcast to browsers.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "sessions",
			Help:      "Connected browser sessions.",
		}),
	}
	var err error
	if m.taskRuns, err = register(reg, m.taskRuns); err != nil {
		return nil, err
	}
	if m.taskDuration, err = register(reg, m.taskDuration); err != nil {
		return nil, err
	}
	if m.bytesWritten, err = register(reg, m.bytesWritten); err != nil {
		return nil, err
	}
	if m.runsActive, err = register(reg, m.runsActive); err != nil {
		return nil, err
	}
	if m.reloads, err = register(reg, m.reloads); err != nil {
		return nil, err
	}
	if m.sessions, err = register(reg, m.sessions); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe records orchestrator events.
func (m *Metrics) Observe(ev orchestrator.Event) {
	if m == nil {
		return
	}
	switch ev.Kind {
	case orchestrator.EventRunStarted:
		m.runsActive.Inc()
	case orchestrator.EventRunFinished:
		m.runsActive.Dec()
	case orchestrator.EventTaskFinished:
		m.observeResult(ev.Result)
	}
}

func (m *Metrics) observeResult(res task.Result) {
	outcome := string(res.Outcome)
	m.taskRuns.WithLabelValues(res.TaskID, outcome).Inc()
	if res.Outcome == task.OutcomeSkipped {
		return
	}
	m.taskDuration.WithLabelValues(res.TaskID, outcome).Observe(res.Duration.Seconds())
	if res.Outcome == task.OutcomeSuccess {
		m.bytesWritten.WithLabelValues(res.TaskID).Add(float64(res.Summary.TotalBytes()))
	}
}

// IncReload counts a broadcast reload.
func (m *Metrics) IncReload() {
	if m == nil {
		return
	}
	m.reloads.Inc()
}

// SetSessions records the number of connected browsers.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
