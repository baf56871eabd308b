package feedback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/feedback"
	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/store"
)

type fakeStore struct {
	edges          map[string]*models.Edge
	claimAlphaBeta map[string][2]float64
	logged         []store.FeedbackAction
	reclassified   map[string]models.DomainCategory
	recomputed     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{edges: make(map[string]*models.Edge), claimAlphaBeta: make(map[string][2]float64), reclassified: make(map[string]models.DomainCategory)}
}

func (f *fakeStore) AppendFeedbackLog(_ context.Context, action store.FeedbackAction, _ string, _ map[string]any) error {
	f.logged = append(f.logged, action)
	return nil
}

func (f *fakeStore) RecordFeedback(_ context.Context, action store.FeedbackAction, _ string, _ map[string]any) error {
	f.logged = append(f.logged, action)
	return nil
}

func (f *fakeStore) GetEdgeByID(_ context.Context, edgeID string) (*models.Edge, error) {
	e, ok := f.edges[edgeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) CorrectEdgeRelation(_ context.Context, edgeID string, newRelation models.EdgeRelation, wCat float64) error {
	e := f.edges[edgeID]
	old := f.claimAlphaBeta[e.TargetID]
	oldA, oldB := edgeDelta(e.Relation, e.NLIEdgeConfidence*wCat)
	newA, newB := edgeDelta(newRelation, e.NLIEdgeConfidence*wCat)
	f.claimAlphaBeta[e.TargetID] = [2]float64{old[0] - oldA + newA, old[1] - oldB + newB}
	e.Relation = newRelation
	return nil
}

func (f *fakeStore) ReclassifyDomain(_ context.Context, domain string, category models.DomainCategory) ([]string, error) {
	f.reclassified[domain] = category
	return []string{"claim-1", "claim-2"}, nil
}

func (f *fakeStore) RecomputeClaimFromEdges(_ context.Context, claimID string, _ func(models.DomainCategory) float64) error {
	f.recomputed = append(f.recomputed, claimID)
	return nil
}

func edgeDelta(relation models.EdgeRelation, weight float64) (float64, float64) {
	switch relation {
	case models.EdgeRelationSupports:
		return weight, 0
	case models.EdgeRelationRefutes:
		return 0, weight
	case models.EdgeRelationNeutral:
		return 0.25 * weight, 0.25 * weight
	default:
		return 0, 0
	}
}

func testWeights() map[models.DomainCategory]float64 {
	return map[models.DomainCategory]float64{
		models.DomainCategoryTrusted: 1.0,
		models.DomainCategoryUnknown: 0.2,
	}
}

func TestEdgeCorrect_FlipsSupportsToRefutes(t *testing.T) {
	fs := newFakeStore()
	fs.edges["e1"] = &models.Edge{ID: "e1", TargetID: "c1", Relation: models.EdgeRelationSupports,
		NLIEdgeConfidence: 0.8, SourceDomainCategory: models.DomainCategoryTrusted}
	fs.claimAlphaBeta["c1"] = [2]float64{0.8, 0}

	bus := feedback.New(fs, testWeights())
	require.NoError(t, bus.EdgeCorrect(context.Background(), "e1", models.EdgeRelationRefutes))

	ab := fs.claimAlphaBeta["c1"]
	assert.InDelta(t, 0, ab[0], 1e-9, "supports contribution must be fully removed")
	assert.InDelta(t, 0.8, ab[1], 1e-9, "refutes contribution must be added")
	assert.Contains(t, fs.logged, store.FeedbackActionEdgeCorrect)
}

func TestClaimMark_RecordsAuditOnly(t *testing.T) {
	fs := newFakeStore()
	bus := feedback.New(fs, testWeights())

	require.NoError(t, bus.ClaimMark(context.Background(), "c1", "reviewed by analyst"))
	assert.Contains(t, fs.logged, store.FeedbackActionClaimMark)
}

func TestDomainReclassify_RecomputesWhenRequested(t *testing.T) {
	fs := newFakeStore()
	bus := feedback.New(fs, testWeights())

	count, err := bus.DomainReclassify(context.Background(), "paywalled.example", models.DomainCategoryTrusted, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"claim-1", "claim-2"}, fs.recomputed)
	assert.Equal(t, models.DomainCategoryTrusted, fs.reclassified["paywalled.example"])
}

func TestDomainReclassify_SkipsRecomputeWhenNotRequested(t *testing.T) {
	fs := newFakeStore()
	bus := feedback.New(fs, testWeights())

	count, err := bus.DomainReclassify(context.Background(), "paywalled.example", models.DomainCategoryTrusted, false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Empty(t, fs.recomputed)
}
