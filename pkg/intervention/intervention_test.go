package intervention_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/intervention"
	"github.com/k-shibuki/lyra/pkg/models"
)

type fakeStore struct {
	pending   []models.Intervention
	started   []string
	resolved  map[string]models.InterventionStatus
	sessions  map[string][]byte
	requeued  map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{resolved: make(map[string]models.InterventionStatus), sessions: make(map[string][]byte), requeued: make(map[string]int)}
}

func (f *fakeStore) EnqueueIntervention(_ context.Context, iv *models.Intervention) error {
	iv.Status = models.InterventionStatusPending
	f.pending = append(f.pending, *iv)
	return nil
}

func (f *fakeStore) ListPendingInterventions(_ context.Context) ([]models.Intervention, error) {
	return f.pending, nil
}

func (f *fakeStore) GetIntervention(_ context.Context, id string) (*models.Intervention, error) {
	for _, iv := range f.pending {
		if iv.ID == id {
			return &iv, nil
		}
	}
	return nil, errNotFound
}

var errNotFound = errors.New("intervention not found")

func (f *fakeStore) StartIntervention(_ context.Context, id string) error {
	f.started = append(f.started, id)
	return nil
}

func (f *fakeStore) ResolveIntervention(_ context.Context, id string, status models.InterventionStatus, sessionData []byte) error {
	f.resolved[id] = status
	if sessionData != nil {
		f.sessions[id] = sessionData
	}
	return nil
}

func (f *fakeStore) GetSessionForDomain(_ context.Context, domain string) ([]byte, error) {
	data, ok := f.sessions[domain]
	if !ok {
		return nil, assertNotFound{}
	}
	return data, nil
}

func (f *fakeStore) RequeueJobsForDomain(_ context.Context, domain string) (int, error) {
	return f.requeued[domain], nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

type fakeNotifier struct {
	notified []models.Intervention
}

func (n *fakeNotifier) NotifyPending(_ context.Context, iv models.Intervention) {
	n.notified = append(n.notified, iv)
}

func TestQueue_EnqueueNotifiesAndPersists(t *testing.T) {
	fs := newFakeStore()
	notifier := &fakeNotifier{}
	q := intervention.New(fs, notifier)

	queueID, err := q.Enqueue(context.Background(), "task-1", "https://paywalled.example/doc", "paywalled.example", models.AuthTypeCaptcha, "job-1")
	require.NoError(t, err)
	assert.NotEmpty(t, queueID)
	require.Len(t, fs.pending, 1)
	assert.Equal(t, models.InterventionStatusPending, fs.pending[0].Status)
	require.Len(t, notifier.notified, 1)
	assert.Equal(t, "paywalled.example", notifier.notified[0].Domain)
}

func TestQueue_CompleteResolvesAndRequeues(t *testing.T) {
	fs := newFakeStore()
	fs.requeued["paywalled.example"] = 3
	q := intervention.New(fs, nil)

	requeued, err := q.Complete(context.Background(), "queue-1", "paywalled.example", []byte("cookie-jar"))
	require.NoError(t, err)
	assert.Equal(t, 3, requeued)
	assert.Equal(t, models.InterventionStatusCompleted, fs.resolved["queue-1"])
	assert.Equal(t, []byte("cookie-jar"), fs.sessions["queue-1"])
}

func TestQueue_SessionForReturnsFalseWhenAbsent(t *testing.T) {
	fs := newFakeStore()
	q := intervention.New(fs, nil)

	_, ok := q.SessionFor(context.Background(), "unknown.example")
	assert.False(t, ok)
}

func TestQueue_NilNotifierIsSafe(t *testing.T) {
	fs := newFakeStore()
	q := intervention.New(fs, nil)

	_, err := q.Enqueue(context.Background(), "task-1", "https://x.example", "x.example", models.AuthTypeLogin, "")
	require.NoError(t, err)
}
