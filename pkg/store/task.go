package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/k-shibuki/lyra/pkg/models"
)

// CreateTask inserts a new task in the exploring state.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, hypothesis, status, pages_limit, time_limit_s, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())`,
		t.ID, t.Hypothesis, t.Status, t.Budget.PagesLimit, t.Budget.TimeLimitS)
	return err
}

// LoadTask fetches a task by id. Returns ErrNotFound if absent.
func (s *Store) LoadTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, hypothesis, status, pages_limit, time_limit_s, created_at, updated_at
		FROM tasks WHERE id = $1`, taskID)

	var t models.Task
	err := row.Scan(&t.ID, &t.Hypothesis, &t.Status, &t.Budget.PagesLimit, &t.Budget.TimeLimitS, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTaskStatus transitions a task's status and wakes any get_status
// long-pollers waiting on it.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`, taskID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := notifyTaskStatus(ctx, tx, taskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WaitForStatusChange blocks until the task's status changes, the wait
// elapses, or ctx is cancelled, then returns the task's current state. This
// is the long-poll backing get_status(wait_seconds).
func (s *Store) WaitForStatusChange(ctx context.Context, taskID string, wait time.Duration) (*models.Task, error) {
	if wait > 0 {
		s.notify.Wait(ctx, taskID, wait)
	}
	return s.LoadTask(ctx, taskID)
}
