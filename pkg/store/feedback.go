package store

import (
	"context"
	"encoding/json"
)

// FeedbackAction is the kind of correction feedback() applies.
type FeedbackAction string

// Feedback actions.
const (
	FeedbackActionEdgeCorrect     FeedbackAction = "edge_correct"
	FeedbackActionClaimMark       FeedbackAction = "claim_mark"
	FeedbackActionDomainReclassify FeedbackAction = "domain_reclassify"
)

// AppendFeedbackLog records a feedback() call in the audit log, independent
// of whatever mutation the caller applies alongside it. Kept separate from
// RecordFeedback so callers that need a richer, multi-statement mutation
// (pkg/feedback's edge_correct and domain_reclassify handling) can compose
// their own transaction around this insert instead of being limited to
// RecordFeedback's single-table updates.
func (s *Store) AppendFeedbackLog(ctx context.Context, action FeedbackAction, targetID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO feedback_log (action, target_id, payload, created_at) VALUES ($1, $2, $3, now())`,
		action, targetID, payloadJSON)
	return err
}

// RecordFeedback appends an audit entry for a feedback() call and applies
// a claim_mark confidence-override note in the same transaction, so the
// log and the mutated row never diverge. edge_correct and
// domain_reclassify are handled by pkg/feedback, which needs the Bayesian
// recompute only that package's category weights can perform.
func (s *Store) RecordFeedback(ctx context.Context, action FeedbackAction, targetID string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO feedback_log (action, target_id, payload, created_at) VALUES ($1, $2, $3, now())`,
		action, targetID, payloadJSON)
	if err != nil {
		return err
	}

	if action == FeedbackActionClaimMark {
		note, _ := payload["note"].(string)
		if _, err := tx.Exec(ctx, `UPDATE claims SET verification_notes = $2 WHERE id = $1`, targetID, note); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
