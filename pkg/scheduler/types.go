// Package scheduler implements the Scheduler: the job state machine and
// worker pool that turn queued jobs into claimed, executed, and terminally
// resolved work, crash-safely.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/k-shibuki/lyra/pkg/models"
)

// Sentinel errors for scheduler operations, mirroring the teacher's
// pkg/queue/types.go.
var (
	ErrNoJobsAvailable = errors.New("scheduler: no jobs available")
	ErrAtCapacity      = errors.New("scheduler: at capacity")
)

// Outcome is what a JobExecutor reports once it has finished a job,
// indicating exactly one terminal or semi-terminal transition per spec's
// job state machine (§4.6).
type Outcome string

// Outcomes.
const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeRetriable    Outcome = "retriable"
	OutcomeTerminal     Outcome = "terminal"
	OutcomeAwaitingAuth Outcome = "awaiting_auth"
)

// ExecutionResult is what JobExecutor.Execute returns: the terminal state
// plus any error detail. All intermediate work (fragments, claims, edges)
// is written to the Store progressively by the executor itself, not here.
type ExecutionResult struct {
	Outcome Outcome
	Error   error
}

// JobExecutor dispatches one claimed job by kind. The executor owns the
// entire job body: Retriever/EvidenceGraph calls, InterventionQueue
// enqueue on an auth wall, and any Store writes its work produces. The
// worker only handles claiming, terminal status update, and resource
// release.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) *ExecutionResult
}

// PoolHealth reports operational status for the entire worker pool. Not
// part of the external tool protocol (§12 supplemented feature) — exposed
// for operator visibility only.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	StoreHealthy  bool           `json:"store_healthy"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	QueueDepth    int            `json:"queue_depth"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth reports operational status for a single worker.
type WorkerHealth struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	CurrentJobID    string    `json:"current_job_id,omitempty"`
	JobsProcessed   int       `json:"jobs_processed"`
	LastActivity    time.Time `json:"last_activity"`
}
