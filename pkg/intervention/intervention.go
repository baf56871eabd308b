// Package intervention implements the InterventionQueue: the
// human-in-the-loop sink for CAPTCHA and login walls that a parked job
// can't clear on its own, plus the session capture/reuse that lets later
// jobs against the same domain skip the wall entirely.
package intervention

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/k-shibuki/lyra/pkg/models"
)

// Store is the subset of *store.Store the InterventionQueue depends on.
type Store interface {
	EnqueueIntervention(ctx context.Context, iv *models.Intervention) error
	ListPendingInterventions(ctx context.Context) ([]models.Intervention, error)
	GetIntervention(ctx context.Context, id string) (*models.Intervention, error)
	StartIntervention(ctx context.Context, id string) error
	ResolveIntervention(ctx context.Context, id string, status models.InterventionStatus, sessionData []byte) error
	GetSessionForDomain(ctx context.Context, domain string) ([]byte, error)
	RequeueJobsForDomain(ctx context.Context, domain string) (int, error)
}

// Notifier is told about new pending interventions so an operator can be
// paged to open a headful session. Implementations must be nil-safe.
type Notifier interface {
	NotifyPending(ctx context.Context, iv models.Intervention)
}

// Queue is the InterventionQueue.
type Queue struct {
	store    Store
	notifier Notifier
}

// New constructs a Queue. notifier may be nil, in which case no
// notification is attempted.
func New(st Store, notifier Notifier) *Queue {
	return &Queue{store: st, notifier: notifier}
}

// Enqueue parks a pending auth-wall request raised by a job that hit a
// CAPTCHA or login wall, and notifies the configured sink.
func (q *Queue) Enqueue(ctx context.Context, taskID, url, domain string, authType models.AuthType, searchJobID string) (string, error) {
	iv := &models.Intervention{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		URL:         url,
		Domain:      domain,
		AuthType:    authType,
		SearchJobID: searchJobID,
	}
	if err := q.store.EnqueueIntervention(ctx, iv); err != nil {
		return "", err
	}

	slog.Info("intervention enqueued", "queue_id", iv.ID, "task_id", taskID, "domain", domain, "auth_type", authType)
	if q.notifier != nil {
		q.notifier.NotifyPending(ctx, *iv)
	}
	return iv.ID, nil
}

// Pending lists every queued intervention, for get_auth_queue.
func (q *Queue) Pending(ctx context.Context) ([]models.Intervention, error) {
	return q.store.ListPendingInterventions(ctx)
}

// Get fetches one intervention by id, for resolve_auth to learn its domain
// before capturing a session.
func (q *Queue) Get(ctx context.Context, queueID string) (*models.Intervention, error) {
	return q.store.GetIntervention(ctx, queueID)
}

// StartSession marks an intervention in_progress, called once an operator
// has brought a headful browser context to the URL in question. The
// caller (driven by the Retriever's browser engine) is responsible for
// the actual navigation; this only records the state transition.
func (q *Queue) StartSession(ctx context.Context, queueID string) error {
	return q.store.StartIntervention(ctx, queueID)
}

// Complete captures the cleared session's cookies / conditional-request
// headers, marks the intervention completed, and atomically requeues
// every job parked on that domain. Returns the number of jobs requeued.
func (q *Queue) Complete(ctx context.Context, queueID, domain string, sessionData []byte) (int, error) {
	if err := q.store.ResolveIntervention(ctx, queueID, models.InterventionStatusCompleted, sessionData); err != nil {
		return 0, err
	}
	requeued, err := q.store.RequeueJobsForDomain(ctx, domain)
	if err != nil {
		return 0, err
	}
	slog.Info("intervention resolved", "queue_id", queueID, "domain", domain, "requeued_jobs", requeued)
	return requeued, nil
}

// Skip marks an intervention skipped without capturing a session — used
// when an operator declines to clear the wall. The parked job remains
// awaiting_auth until a later resolve_auth call, or the task is stopped.
func (q *Queue) Skip(ctx context.Context, queueID string) error {
	return q.store.ResolveIntervention(ctx, queueID, models.InterventionStatusSkipped, nil)
}

// SessionFor returns the most recently captured, reusable session for
// domain, or (nil, false) if none exists. The Retriever's fetcher layer
// injects the returned cookies / headers into outgoing requests for URLs
// on that domain.
func (q *Queue) SessionFor(ctx context.Context, domain string) ([]byte, bool) {
	data, err := q.store.GetSessionForDomain(ctx, domain)
	if err != nil {
		return nil, false
	}
	return data, true
}
