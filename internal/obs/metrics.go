// Package obs exposes the Prometheus counters the scheduler loops and
// handlers update. Grounded on the promauto pattern the pack's
// zerostate libs use throughout (e.g. libs/p2p/provider_refresh.go's
// package-level promauto.NewCounterVec/NewGauge vars), adapted from P2P
// provider-record refresh counters to task scheduler tick counters.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksClaimed counts rows the main loop moved from pending to
	// processing, per tick.
	TasksClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatasks_scheduler_claimed_total",
		Help: "Total number of tasks claimed by the main loop.",
	})

	// TasksPolled counts async tasks the poll loop queried.
	TasksPolled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatasks_scheduler_polled_total",
		Help: "Total number of asynchronous tasks queried by the poll loop.",
	})

	// TasksTimedOutReclaimed counts tasks the timeout sweep reclaimed
	// from an abandoned processing state.
	TasksTimedOutReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatasks_scheduler_timeout_reclaimed_total",
		Help: "Total number of tasks reclaimed by the timeout recovery sweep.",
	})

	// TasksCompleted counts tasks that reached the completed state.
	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatasks_tasks_completed_total",
		Help: "Total number of tasks that reached the completed state.",
	})

	// TasksFailed counts tasks that reached the failed state.
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatasks_tasks_failed_total",
		Help: "Total number of tasks that reached the failed state.",
	})

	// TasksRetried counts tasks returned to pending for another attempt.
	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediatasks_tasks_retried_total",
		Help: "Total number of tasks returned to pending for a retry.",
	})

	// SchedulerTickErrors counts errors caught within a single scheduler
	// tick; per spec §4.6, individual task failures never abort a tick,
	// so this is the only signal an operator has that something in a
	// batch went wrong without a task-level log line.
	SchedulerTickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediatasks_scheduler_tick_errors_total",
		Help: "Total number of task-level errors caught during a scheduler tick, by loop.",
	}, []string{"loop"})
)
