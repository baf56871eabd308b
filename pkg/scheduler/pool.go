package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// TaskJobStore is the subset of *store.Store the Pool uses for task-scoped
// operations (stop_task, startup recovery), distinct from JobStore's
// per-job operations so a caller that only needs one need not satisfy both.
type TaskJobStore interface {
	CancelTaskJobs(ctx context.Context, taskID string, onlyTargetQueue bool) (int, error)
	ResetOrphansOnStartup(ctx context.Context) (int, error)
	Health(ctx context.Context) error
}

// Pool runs N workers against a shared Store and JobExecutor, implementing
// the Scheduler's worker-pool lifecycle and stop_task cancellation.
type Pool struct {
	processID string
	store     JobStore
	taskStore TaskJobStore
	executor  JobExecutor
	workers    []*Worker
	numWorkers int

	mu          sync.RWMutex
	activeJobs  map[string]context.CancelFunc
	jobToTask   map[string]string
	started     bool
}

// NewPool constructs a worker pool of numWorkers workers, all sharing st
// for job claims and executor for dispatch.
func NewPool(processID string, st JobStore, taskStore TaskJobStore, executor JobExecutor, numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		processID:  processID,
		store:      st,
		taskStore:  taskStore,
		executor:   executor,
		numWorkers: numWorkers,
		activeJobs: make(map[string]context.CancelFunc),
		jobToTask:  make(map[string]string),
	}
}

// Start resets crash-orphaned jobs from a prior process (§4.1's crash-safe
// restart policy) and spawns the configured worker goroutines. Safe to call
// once; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	reset, err := p.taskStore.ResetOrphansOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("resetting orphaned jobs on startup: %w", err)
	}
	if reset > 0 {
		slog.Info("reset orphaned jobs from a prior process", "count", reset)
	}

	for i := 0; i < p.numWorkers; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.processID, i)
		w := NewWorker(workerID, p.store, p.executor, p, 0)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	slog.Info("scheduler pool started", "process_id", p.processID, "worker_count", p.numWorkers)
	return nil
}

// Stop signals every worker to finish its current job and exit.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("scheduler pool stopped")
}

// RegisterJob implements Registry.
func (p *Pool) RegisterJob(jobID, taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
	p.jobToTask[jobID] = taskID
}

// UnregisterJob implements Registry.
func (p *Pool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
	delete(p.jobToTask, jobID)
}

// StopTaskScope controls which non-terminal jobs stop_task cancels.
type StopTaskScope string

// Scopes.
const (
	StopTaskScopeAllJobs         StopTaskScope = "all_jobs"
	StopTaskScopeTargetQueueOnly StopTaskScope = "target_queue_only"
)

// StopTask cancels every non-terminal job of taskID. With
// scope=target_queue_only, verify_nli and citation_graph jobs are left to
// complete — CancelTaskJobs filters them out of its UPDATE when that scope
// is requested. With scope=all_jobs, the contexts of the task's in-flight
// running jobs are also cancelled so they observe cancellation at their
// next suspension point; with target_queue_only no running job's context
// is cancelled.
func (p *Pool) StopTask(ctx context.Context, taskID string, scope StopTaskScope) (int, error) {
	cancelled, err := p.taskStore.CancelTaskJobs(ctx, taskID, scope == StopTaskScopeTargetQueueOnly)
	if err != nil {
		return 0, err
	}

	p.mu.RLock()
	var toCancel []context.CancelFunc
	for jobID, jTaskID := range p.jobToTask {
		if jTaskID != taskID {
			continue
		}
		if cancel, ok := p.activeJobs[jobID]; ok {
			toCancel = append(toCancel, cancel)
		}
	}
	p.mu.RUnlock()

	if scope == StopTaskScopeAllJobs {
		for _, cancel := range toCancel {
			cancel()
		}
	}

	return cancelled, nil
}

// Health reports the pool's current operational status.
func (p *Pool) Health(ctx context.Context) PoolHealth {
	storeErr := p.taskStore.Health(ctx)

	var stats []WorkerHealth
	active := 0
	for _, w := range p.workers {
		h := w.Health()
		stats = append(stats, h)
		if h.Status == "working" {
			active++
		}
	}

	return PoolHealth{
		IsHealthy:     storeErr == nil,
		StoreHealthy:  storeErr == nil,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		WorkerStats:   stats,
	}
}
