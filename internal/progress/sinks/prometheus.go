package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/boardscrape/internal/progress"
)

// PrometheusSink exports scrape progress metrics via Prometheus. It owns all
// collectors for runs started/completed/running and per-batch counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec
	runErrors     prometheus.Counter

	batchesApplied prometheus.Counter
	postsApplied   prometheus.Counter
	threadErrors   prometheus.Counter
	lastProgress   prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardscrape_runs_started_total",
			Help: "Total scrape runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boardscrape_runs_completed_total",
			Help: "Total scrape runs completed partitioned by outcome.",
		}, []string{"outcome"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boardscrape_runs_running",
			Help: "Current number of running scrape runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boardscrape_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"outcome"}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardscrape_run_errors_total",
			Help: "Recoverable errors reported by completed runs.",
		}),
		batchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardscrape_batches_applied_total",
			Help: "Thread batches reconciled into the store.",
		}),
		postsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardscrape_posts_applied_total",
			Help: "Posts upserted into the store.",
		}),
		threadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boardscrape_thread_errors_total",
			Help: "Threads dropped by a recoverable error.",
		}),
		lastProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boardscrape_run_progress_ratio",
			Help: "Fraction of planned threads reconciled in the latest run.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.runErrors,
		s.batchesApplied,
		s.postsApplied,
		s.threadErrors,
		s.lastProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.lastProgress.Set(0)
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageBatchDone:
		s.batchesApplied.Inc()
		s.postsApplied.Add(float64(evt.Posts))
		if evt.Total > 0 {
			s.lastProgress.Set(float64(evt.Done) / float64(evt.Total))
		}
	case progress.StageThreadError:
		s.threadErrors.Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(evt.Outcome).Inc()
		s.runErrors.Add(float64(evt.Errors))
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
