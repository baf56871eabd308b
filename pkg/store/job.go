package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k-shibuki/lyra/pkg/models"
)

// pgUniqueViolation is Postgres's error code for a unique/exclusion
// constraint violation, raised here by idx_jobs_dedup.
const pgUniqueViolation = "23505"

// PayloadHash derives the dedup hash stored alongside a job's payload. Two
// jobs of the same kind, for the same task, with the same payload hash
// collide under idx_jobs_dedup unless the earlier one is terminal.
func PayloadHash(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// EnqueueJob inserts a job in the queued state. If an equivalent
// non-terminal job already exists for (task_id, kind, payload_hash), the
// existing job is returned instead and enqueued is false.
func (s *Store) EnqueueJob(ctx context.Context, j *models.Job) (job *models.Job, enqueued bool, err error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.PayloadHash == "" {
		j.PayloadHash = PayloadHash(j.Payload)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, task_id, kind, payload, payload_hash, priority, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		j.ID, j.TaskID, j.Kind, j.Payload, j.PayloadHash, j.Priority, models.JobStateQueued)
	if err == nil {
		j.State = models.JobStateQueued
		return j, true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		existing, loadErr := s.loadJobByDedupKey(ctx, j.TaskID, j.Kind, j.PayloadHash)
		if loadErr != nil {
			return nil, false, loadErr
		}
		return existing, false, nil
	}
	return nil, false, err
}

func (s *Store) loadJobByDedupKey(ctx context.Context, taskID string, kind models.JobKind, payloadHash string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, kind, payload, payload_hash, priority, state, attempts,
		       coalesce(claim_token, ''), last_error, result, created_at, updated_at
		FROM jobs
		WHERE task_id = $1 AND kind = $2 AND payload_hash = $3 AND state NOT IN ('failed', 'cancelled')`,
		taskID, kind, payloadHash)
	return scanJob(row)
}

// SetJobResult stamps a JSON result blob onto a completed job — used by the
// search executor to record a models.SearchResult for get_status to read
// back without re-running the search.
func (s *Store) SetJobResult(ctx context.Context, jobID, result string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET result = $2 WHERE id = $1`, jobID, result)
	return err
}

// ListJobsForTask lists every job belonging to taskID, newest first, for
// get_status's per-search reporting.
func (s *Store) ListJobsForTask(ctx context.Context, taskID string) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, kind, payload, payload_hash, priority, state, attempts,
		       coalesce(claim_token, ''), last_error, result, created_at, updated_at
		FROM jobs WHERE task_id = $1 ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.TaskID, &j.Kind, &j.Payload, &j.PayloadHash, &j.Priority, &j.State,
		&j.Attempts, &j.ClaimToken, &j.LastError, &j.Result, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimNextJob atomically claims the highest-priority, oldest queued job
// whose not_before has elapsed, via SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never double-claim. Returns ErrNoJobAvailable if the
// queue is empty.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, task_id, kind, payload, payload_hash, priority, state, attempts,
		       coalesce(claim_token, ''), last_error, result, created_at, updated_at
		FROM jobs
		WHERE state = 'queued' AND (not_before IS NULL OR not_before <= now())
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)

	j, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, err
	}

	claimToken := workerID + ":" + uuid.NewString()
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET state = 'running', claim_token = $2, attempts = attempts + 1, updated_at = now()
		WHERE id = $1`, j.ID, claimToken)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	j.State = models.JobStateRunning
	j.ClaimToken = claimToken
	j.Attempts++
	return j, nil
}

// CompleteJob marks a held job completed. claimToken must match the token
// returned by ClaimNextJob, or ErrStaleClaim is returned (the job was
// reclaimed by an orphan-recovery sweep after this worker stalled).
func (s *Store) CompleteJob(ctx context.Context, jobID, claimToken string) error {
	return s.transitionClaimedJob(ctx, jobID, claimToken, models.JobStateCompleted, "")
}

// FailJob marks a held job failed (terminal) or requeues it for retry
// after backoff, depending on retryAfter. A zero retryAfter marks the job
// permanently failed.
func (s *Store) FailJob(ctx context.Context, jobID, claimToken, lastError string, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		return s.transitionClaimedJob(ctx, jobID, claimToken, models.JobStateFailed, lastError)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = 'queued', claim_token = NULL, last_error = $3,
		    not_before = now() + make_interval(secs => $4), updated_at = now()
		WHERE id = $1 AND claim_token = $2`,
		jobID, claimToken, lastError, retryAfter.Seconds())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleClaim
	}
	return nil
}

// ParkJobAwaitingAuth moves a held job to awaiting_auth; it resumes via
// RequeueJobsForDomain once the blocking intervention resolves.
func (s *Store) ParkJobAwaitingAuth(ctx context.Context, jobID, claimToken string) error {
	return s.transitionClaimedJob(ctx, jobID, claimToken, models.JobStateAwaitingAuth, "")
}

func (s *Store) transitionClaimedJob(ctx context.Context, jobID, claimToken string, newState models.JobState, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $3, claim_token = NULL, last_error = $4, updated_at = now()
		WHERE id = $1 AND claim_token = $2`,
		jobID, claimToken, newState, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleClaim
	}
	return nil
}

// RequeueJobsForDomain moves every awaiting_auth job whose payload
// references domain back to queued, called once an intervention for that
// domain resolves.
func (s *Store) RequeueJobsForDomain(ctx context.Context, domain string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'queued', updated_at = now()
		WHERE state = 'awaiting_auth' AND payload LIKE '%' || $1 || '%'`, domain)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CancelTaskJobs cancels every non-terminal job belonging to taskID. With
// onlyTargetQueue, verify_nli and citation_graph jobs are excluded so
// in-flight evidence synthesis can finish even after stop_task(scope=
// target_queue_only) halts new retrieval. Only queued and awaiting_auth
// jobs are cancelled here; running jobs are not touched by this UPDATE.
func (s *Store) CancelTaskJobs(ctx context.Context, taskID string, onlyTargetQueue bool) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'cancelled', updated_at = now()
		WHERE task_id = $1 AND state IN ('queued', 'awaiting_auth')
		  AND ($2 = false OR kind NOT IN ('verify_nli', 'citation_graph'))`,
		taskID, onlyTargetQueue)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ServerRestartResetReason is the reserved last_error value
// ResetOrphansOnStartup stamps onto every job it fails.
const ServerRestartResetReason = "server_restart_reset"

// ResetOrphansOnStartup implements the crash-safe restart policy: every job
// left in queued or running state by a prior process is failed outright
// with the reserved reason, never silently resumed. The client must
// re-submit. Call this once, before the Scheduler starts claiming jobs.
func (s *Store) ResetOrphansOnStartup(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'failed', claim_token = NULL, last_error = $1, updated_at = now()
		WHERE state IN ('queued', 'running')`, ServerRestartResetReason)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
