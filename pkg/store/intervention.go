package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/k-shibuki/lyra/pkg/models"
)

// EnqueueIntervention parks a pending human-in-the-loop request.
func (s *Store) EnqueueIntervention(ctx context.Context, iv *models.Intervention) error {
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}
	iv.Status = models.InterventionStatusPending
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interventions (id, task_id, url, domain, auth_type, status, search_job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, nullif($7, ''), now(), now())`,
		iv.ID, iv.TaskID, iv.URL, iv.Domain, iv.AuthType, iv.Status, iv.SearchJobID)
	return err
}

// ListPendingInterventions returns every pending intervention, oldest first.
func (s *Store) ListPendingInterventions(ctx context.Context) ([]models.Intervention, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, url, domain, auth_type, status, coalesce(search_job_id, '')
		FROM interventions WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Intervention
	for rows.Next() {
		var iv models.Intervention
		if err := rows.Scan(&iv.ID, &iv.TaskID, &iv.URL, &iv.Domain, &iv.AuthType, &iv.Status, &iv.SearchJobID); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// GetIntervention fetches one intervention by id, for resolve_auth to learn
// its domain before capturing a session.
func (s *Store) GetIntervention(ctx context.Context, id string) (*models.Intervention, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, url, domain, auth_type, status, coalesce(search_job_id, '')
		FROM interventions WHERE id = $1`, id)

	var iv models.Intervention
	err := row.Scan(&iv.ID, &iv.TaskID, &iv.URL, &iv.Domain, &iv.AuthType, &iv.Status, &iv.SearchJobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &iv, nil
}

// StartIntervention transitions a pending intervention to in_progress,
// called when a human opens a captured session to work the auth wall.
func (s *Store) StartIntervention(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interventions SET status = 'in_progress', updated_at = now() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveIntervention marks an intervention resolved (completed, skipped or
// cancelled) and stores the captured session data for reuse by later jobs
// against the same domain.
func (s *Store) ResolveIntervention(ctx context.Context, id string, status models.InterventionStatus, sessionData []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE interventions SET status = $2, session_data = $3, updated_at = now() WHERE id = $1`,
		id, status, sessionData)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSessionForDomain returns the most recently captured, still-usable
// session for domain, letting a later job skip re-running an intervention
// an operator already cleared.
func (s *Store) GetSessionForDomain(ctx context.Context, domain string) ([]byte, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_data FROM interventions
		WHERE domain = $1 AND status = 'completed' AND session_data IS NOT NULL
		ORDER BY updated_at DESC LIMIT 1`, domain)

	var data []byte
	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}
