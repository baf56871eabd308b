package scheduler

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/k-shibuki/lyra/pkg/models"
)

// JobStore is the subset of *store.Store the Scheduler depends on,
// narrowed to an interface at this package's boundary for testability.
type JobStore interface {
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)
	CompleteJob(ctx context.Context, jobID, claimToken string) error
	FailJob(ctx context.Context, jobID, claimToken, lastError string, retryAfter time.Duration) error
	ParkJobAwaitingAuth(ctx context.Context, jobID, claimToken string) error
}

// Registry is the subset of Pool a Worker uses to register its
// cancel function for stop_task(scope=all_jobs), mirroring the teacher's
// SessionRegistry boundary interface.
type Registry interface {
	RegisterJob(jobID, taskID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

const maxAttempts = 5

// Worker polls the Store for claimable jobs and dispatches each to a
// JobExecutor, one job at a time.
type Worker struct {
	id       string
	store    JobStore
	executor JobExecutor
	registry Registry
	pollBase time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        string
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker constructs a Worker identified by id.
func NewWorker(id string, st JobStore, executor JobExecutor, registry Registry, pollBase time.Duration) *Worker {
	if pollBase <= 0 {
		pollBase = 500 * time.Millisecond
	}
	return &Worker{id: id, store: st, executor: executor, registry: registry, pollBase: pollBase,
		stopCh: make(chan struct{}), status: "idle", lastActivity: time.Now()}
}

// Start begins the worker's poll loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to finish its current job, then exit. Safe to
// call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports this worker's current status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{ID: w.id, Status: w.status, CurrentJobID: w.currentJobID,
		JobsProcessed: w.jobsProcessed, LastActivity: w.lastActivity}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("scheduler worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("scheduler worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := w.pollAndProcess(ctx); err != nil {
			if err == ErrNoJobsAvailable {
				w.sleepPoll(ctx)
				continue
			}
			log.Error("poll failed", "error", err)
			w.sleepPoll(ctx)
		}
	}
}

func (w *Worker) sleepPoll(ctx context.Context) {
	jitter := time.Duration(rand.Int64N(int64(w.pollBase)))
	select {
	case <-time.After(w.pollBase + jitter):
	case <-ctx.Done():
	case <-w.stopCh:
	}
}

func (w *Worker) pollAndProcess(ctx context.Context) error {
	job, err := w.store.ClaimNextJob(ctx, w.id)
	if err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.registry.RegisterJob(job.ID, job.TaskID, cancel)
	defer w.registry.UnregisterJob(job.ID)

	w.mu.Lock()
	w.status = "working"
	w.currentJobID = job.ID
	w.lastActivity = time.Now()
	w.mu.Unlock()

	result := w.executor.Execute(jobCtx, job)

	w.mu.Lock()
	w.status = "idle"
	w.currentJobID = ""
	w.jobsProcessed++
	w.lastActivity = time.Now()
	w.mu.Unlock()

	return w.applyOutcome(ctx, job, result)
}

func (w *Worker) applyOutcome(ctx context.Context, job *models.Job, result *ExecutionResult) error {
	switch result.Outcome {
	case OutcomeCompleted:
		return w.store.CompleteJob(ctx, job.ID, job.ClaimToken)
	case OutcomeAwaitingAuth:
		return w.store.ParkJobAwaitingAuth(ctx, job.ID, job.ClaimToken)
	case OutcomeRetriable:
		lastErr := ""
		if result.Error != nil {
			lastErr = result.Error.Error()
		}
		if job.Attempts >= maxAttempts {
			return w.store.FailJob(ctx, job.ID, job.ClaimToken, lastErr, 0)
		}
		return w.store.FailJob(ctx, job.ID, job.ClaimToken, lastErr, retryBackoff(job.Attempts))
	default: // OutcomeTerminal or unset
		lastErr := ""
		if result.Error != nil {
			lastErr = result.Error.Error()
		}
		return w.store.FailJob(ctx, job.ID, job.ClaimToken, lastErr, 0)
	}
}

// retryBackoff is exponential with jitter, per spec's retry policy.
func retryBackoff(attempts int) time.Duration {
	base := time.Second * time.Duration(1<<min(attempts, 6))
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
