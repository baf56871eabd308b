package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/scheduler"
)

// fakeStore is a deterministic in-memory JobStore + TaskJobStore, grounded
// on the collaboratorstest fakes' scripted-queue pattern.
type fakeStore struct {
	mu       sync.Mutex
	queue    []*models.Job
	completed []string
	failed    map[string]string
	parked    []string
	resetCount int
}

func newFakeStore(jobs ...*models.Job) *fakeStore {
	return &fakeStore{queue: jobs, failed: make(map[string]string)}
}

func (f *fakeStore) ClaimNextJob(_ context.Context, workerID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, scheduler.ErrNoJobsAvailable
	}
	job := f.queue[0]
	f.queue = f.queue[1:]
	job.State = models.JobStateRunning
	job.ClaimToken = workerID + ":claim"
	return job, nil
}

func (f *fakeStore) CompleteJob(_ context.Context, jobID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, jobID, _, lastError string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = lastError
	return nil
}

func (f *fakeStore) ParkJobAwaitingAuth(_ context.Context, jobID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parked = append(f.parked, jobID)
	return nil
}

func (f *fakeStore) CancelTaskJobs(_ context.Context, _ string, _ bool) (int, error) { return 0, nil }

func (f *fakeStore) ResetOrphansOnStartup(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCount++
	return 0, nil
}

func (f *fakeStore) Health(_ context.Context) error { return nil }

// scriptedExecutor returns a fixed outcome for every job it executes.
type scriptedExecutor struct {
	outcome scheduler.Outcome
	err     error
	ran     chan string
}

func (e *scriptedExecutor) Execute(_ context.Context, job *models.Job) *scheduler.ExecutionResult {
	if e.ran != nil {
		e.ran <- job.ID
	}
	return &scheduler.ExecutionResult{Outcome: e.outcome, Error: e.err}
}

func TestPool_CompletesClaimedJob(t *testing.T) {
	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKindSearch}
	fs := newFakeStore(job)
	ran := make(chan string, 1)
	exec := &scriptedExecutor{outcome: scheduler.OutcomeCompleted, ran: ran}

	pool := scheduler.NewPool("proc-1", fs, fs, exec, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("executor never ran")
	}

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.completed) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, fs.resetCount, "Start must reset orphans exactly once")
}

func TestPool_RetriableFailureRecordsError(t *testing.T) {
	job := &models.Job{ID: "job-2", TaskID: "task-1", Kind: models.JobKindIngestURL, Attempts: 1}
	fs := newFakeStore(job)
	ran := make(chan string, 1)
	exec := &scriptedExecutor{outcome: scheduler.OutcomeRetriable, err: errors.New("timeout"), ran: ran}

	pool := scheduler.NewPool("proc-2", fs, fs, exec, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	<-ran
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		_, ok := fs.failed["job-2"]
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "timeout", fs.failed["job-2"])
}

func TestPool_AwaitingAuthParksJob(t *testing.T) {
	job := &models.Job{ID: "job-3", TaskID: "task-1", Kind: models.JobKindSearch}
	fs := newFakeStore(job)
	ran := make(chan string, 1)
	exec := &scriptedExecutor{outcome: scheduler.OutcomeAwaitingAuth, ran: ran}

	pool := scheduler.NewPool("proc-3", fs, fs, exec, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	<-ran
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.parked) == 1
	}, time.Second, 10*time.Millisecond)
}
