package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/gsc-tracker/internal/progress"
)

// PrometheusSink turns fetch run events into run level metrics. Per query
// and HTTP metrics live in internal/metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsInFlight  prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	queries       *prometheus.CounterVec
	datesWritten  prometheus.Counter

	inFlight *runSet
}

// NewPrometheusSink registers the sink's collectors on reg, or on the
// default registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_runs_started_total",
			Help: "Fetch runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_runs_completed_total",
			Help: "Fetch runs finished, by final link status.",
		}, []string{"status"}),
		runsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetch_runs_in_flight",
			Help: "Fetch runs started but not yet finished.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fetch_run_duration_seconds",
			Help:    "Wall time of finished fetch runs.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_run_queries_total",
			Help: "Search Analytics queries issued by fetch runs, by outcome.",
		}, []string{"result"}),
		datesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fetch_run_dates_written_total",
			Help: "Per-date performance rows upserted by fetch runs.",
		}),
		inFlight: &runSet{ids: make(map[[16]byte]struct{})},
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsInFlight, s.runDuration, s.queries, s.datesWritten,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageFetchStart:
			s.runsStarted.Inc()
			if s.inFlight.add(evt.RunID) {
				s.runsInFlight.Inc()
			}
		case progress.StageQueryDone:
			s.queries.WithLabelValues(evt.Status).Inc()
		case progress.StageFetchDone, progress.StageFetchError:
			status := evt.Status
			if status == "" {
				status = "unknown"
			}
			s.runsCompleted.WithLabelValues(status).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(status).Observe(evt.Dur.Seconds())
			}
			if evt.Dates > 0 {
				s.datesWritten.Add(float64(evt.Dates))
			}
			if s.inFlight.remove(evt.RunID) {
				s.runsInFlight.Dec()
			}
		}
	}
	return nil
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runSet struct {
	mu  sync.Mutex
	ids map[[16]byte]struct{}
}

func (r *runSet) add(id [16]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *runSet) remove(id [16]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return false
	}
	delete(r.ids, id)
	return true
}
