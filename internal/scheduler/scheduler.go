// Package scheduler implements spec §4.6's double loop: a main claim
// loop, an asynchronous poll loop, and the timeout recovery sweep that
// runs after every main loop tick. Concurrency correctness rests on the
// three mechanisms spec §5 names: SKIP LOCKED claiming (internal/store's
// Claim* methods), state-gated updates (internal/store's *Tx methods),
// and the updated_at heartbeat. Scheduler itself holds no per-task
// state — every tick re-derives its work from the database.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/mediatasks/internal/backoff"
	"github.com/inaiurai/mediatasks/internal/models"
	"github.com/inaiurai/mediatasks/internal/obs"
)

// TaskRepo is the subset of internal/store.TaskRepo the scheduler needs.
type TaskRepo interface {
	ClaimPending(ctx context.Context, limit int) ([]*models.Task, error)
	ClaimAsyncForPoll(ctx context.Context, limit int) ([]*models.Task, error)
	ClaimTimedOut(ctx context.Context, syncTimeout, asyncTimeout time.Duration, limit int) ([]*models.Task, error)
	RetryTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, retryCount int, nextRetryAt time.Time, clearExternalID bool) (bool, error)
	FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

// Billing is the minimal billing surface the timeout sweep needs to
// refund a task it gives up on.
type Billing interface {
	Refund(ctx context.Context, tx pgx.Tx, accountID, taskID uuid.UUID, estimatedCost int64) error
}

// LogRepo appends a TaskLog row recording why the sweep reclaimed or
// terminally failed a task.
type LogRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, l *models.TaskLog) error
}

// TxRunner runs fn inside a transaction. The timeout sweep owns its own
// transaction boundary per reclaimed task, the same way Handler does.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Executor routes one claimed task to its Provider/Handler. Implemented
// by internal/executor.Executor.
type Executor interface {
	ExecuteTask(ctx context.Context, task *models.Task) error
	QueryAsyncTask(ctx context.Context, task *models.Task) error
}

// Config carries the tunables spec §6 lists as environment variables.
type Config struct {
	MainInterval      time.Duration
	AsyncPollInterval time.Duration
	BatchSize         int
	MaxRetries        int
	SyncTimeout       time.Duration
	AsyncTimeout      time.Duration
}

// Scheduler runs the two periodic loops. Safe to run as multiple process
// replicas against the same database (spec §5, scenario 8): claiming is
// partitioned by SKIP LOCKED, so concurrent Scheduler instances never
// claim the same row twice.
type Scheduler struct {
	cfg      Config
	tasks    TaskRepo
	billing  Billing
	logs     LogRepo
	db       TxRunner
	executor Executor
	log      *slog.Logger

	mainBusy atomic.Bool
	pollBusy atomic.Bool
}

func New(cfg Config, tasks TaskRepo, billing Billing, logs LogRepo, db TxRunner, executor Executor, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{cfg: cfg, tasks: tasks, billing: billing, logs: logs, db: db, executor: executor, log: log}
}

// Start launches the main loop and the poll loop as background
// goroutines, each on its own ticker, and returns immediately. Both loops
// stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.runLoop(ctx, s.cfg.MainInterval, &s.mainBusy, "main", s.mainTick)
	go s.runLoop(ctx, s.cfg.AsyncPollInterval, &s.pollBusy, "poll", s.pollTick)
}

// runLoop drives one periodic tick function on interval, skipping a tick
// if the previous one is still running rather than starting a second
// goroutine on top of it — the "non-reentrant timer" spec §5 requires.
func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, busy *atomic.Bool, name string, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !busy.CompareAndSwap(false, true) {
				s.log.Warn("scheduler: skipping tick, previous tick still running", "loop", name)
				continue
			}
			tick(ctx)
			busy.Store(false)
		}
	}
}

// mainTick implements spec §4.6's main loop: claim pending tasks,
// execute each without holding a lock, then run timeout recovery.
func (s *Scheduler) mainTick(ctx context.Context) {
	claimed, err := s.tasks.ClaimPending(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("scheduler: claim pending failed", "error", err)
		obs.SchedulerTickErrors.WithLabelValues("main").Inc()
	} else {
		obs.TasksClaimed.Add(float64(len(claimed)))
		for _, task := range claimed {
			if err := s.executor.ExecuteTask(ctx, task); err != nil {
				s.log.Error("scheduler: execute task failed", "task_id", task.ID, "error", err)
				obs.SchedulerTickErrors.WithLabelValues("main").Inc()
			}
		}
	}
	s.timeoutSweep(ctx)
}

// pollTick implements spec §4.6's async poll loop.
func (s *Scheduler) pollTick(ctx context.Context) {
	claimed, err := s.tasks.ClaimAsyncForPoll(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("scheduler: claim async for poll failed", "error", err)
		obs.SchedulerTickErrors.WithLabelValues("poll").Inc()
		return
	}
	obs.TasksPolled.Add(float64(len(claimed)))
	for _, task := range claimed {
		if err := s.executor.QueryAsyncTask(ctx, task); err != nil {
			s.log.Error("scheduler: query async task failed", "task_id", task.ID, "error", err)
			obs.SchedulerTickErrors.WithLabelValues("poll").Inc()
		}
	}
}

// timeoutSweep implements spec §4.6's timeout recovery: claim processing
// tasks whose heartbeat is stale for their category, and either retry or
// terminally fail + refund them.
func (s *Scheduler) timeoutSweep(ctx context.Context) {
	timedOut, err := s.tasks.ClaimTimedOut(ctx, s.cfg.SyncTimeout, s.cfg.AsyncTimeout, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("scheduler: claim timed out failed", "error", err)
		obs.SchedulerTickErrors.WithLabelValues("timeout").Inc()
		return
	}
	for _, task := range timedOut {
		s.reclaim(ctx, task)
	}
}

func (s *Scheduler) reclaim(ctx context.Context, task *models.Task) {
	shouldRetry := task.RetryCount < s.cfg.MaxRetries
	// Sync-mode tasks re-execute from scratch on timeout (there is no
	// upstream job id to resume); async-mode tasks keep external_task_id
	// so the poll loop resumes against the same upstream job.
	clearExternalID := task.Mode == models.ModeSync
	nextRetryAt := time.Now().Add(backoff.Duration(task.RetryCount))

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		logLevel := models.LogWarn
		message := "task timed out, scheduled for retry"
		if !shouldRetry {
			logLevel = models.LogError
			message = "task timed out, retries exhausted, failing"
		}
		if err := s.logs.CreateTx(ctx, tx, &models.TaskLog{ID: uuid.New(), TaskID: task.ID, Level: logLevel, Message: message}); err != nil {
			return err
		}

		if shouldRetry {
			won, err := s.tasks.RetryTx(ctx, tx, task.ID, task.RetryCount+1, nextRetryAt, clearExternalID)
			if err != nil || !won {
				return err
			}
			return nil
		}

		won, err := s.tasks.FailTx(ctx, tx, task.ID)
		if err != nil || !won {
			return err
		}
		return s.billing.Refund(ctx, tx, task.AccountID, task.ID, task.EstimatedCost)
	})
	if err != nil {
		s.log.Error("scheduler: reclaim failed", "task_id", task.ID, "error", err)
		obs.SchedulerTickErrors.WithLabelValues("timeout").Inc()
		return
	}
	if shouldRetry {
		obs.TasksTimedOutReclaimed.Inc()
		obs.TasksRetried.Inc()
		s.log.Warn("scheduler: task reclaimed after timeout", "task_id", task.ID, "retry_count", task.RetryCount+1)
	} else {
		obs.TasksFailed.Inc()
		s.log.Error("scheduler: task failed after exhausting retries on timeout", "task_id", task.ID)
	}
}
