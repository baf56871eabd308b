package evidence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/evidence"
	"github.com/k-shibuki/lyra/pkg/models"
)

// fakeStore is a minimal in-memory evidence.Store, enough to observe the
// weights AddEdge/AddCitation derive without a real database.
type fakeStore struct {
	fragments map[string]*models.Fragment
	claims    map[string]*models.Claim
	edges     []models.Edge
	wCatSeen  []float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{fragments: make(map[string]*models.Fragment), claims: make(map[string]*models.Claim)}
}

func (f *fakeStore) UpsertPage(_ context.Context, p *models.Page) (*models.Page, error) { return p, nil }

func (f *fakeStore) InsertFragment(_ context.Context, frag *models.Fragment) (*models.Fragment, error) {
	f.fragments[frag.ID] = frag
	return frag, nil
}

func (f *fakeStore) InsertClaim(_ context.Context, c *models.Claim, _ []models.ClaimSource) error {
	if c.Alpha == 0 && c.Beta == 0 {
		c.Alpha, c.Beta = 1, 1
	}
	f.claims[c.ID] = c
	return nil
}

func (f *fakeStore) InsertEdge(_ context.Context, e *models.Edge, wCat float64) error {
	f.wCatSeen = append(f.wCatSeen, wCat)
	f.edges = append(f.edges, *e)

	if e.SourceType == models.EdgeEndpointFragment && e.TargetType == models.EdgeEndpointClaim {
		c := f.claims[e.TargetID]
		weight := e.NLIEdgeConfidence * wCat
		switch e.Relation {
		case models.EdgeRelationSupports:
			c.Alpha += weight
		case models.EdgeRelationRefutes:
			c.Beta += weight
		case models.EdgeRelationNeutral:
			c.Alpha += 0.25 * weight
			c.Beta += 0.25 * weight
		}
	}
	return nil
}

func (f *fakeStore) LoadEvidenceGraph(_ context.Context, _ string) ([]models.Claim, []models.Edge, error) {
	return nil, nil, nil
}

func (f *fakeStore) GetClaimEvidence(_ context.Context, claimID string) (*models.Claim, []models.Edge, []models.ClaimSource, error) {
	var edges []models.Edge
	for _, e := range f.edges {
		if e.TargetID == claimID {
			edges = append(edges, e)
		}
	}
	return f.claims[claimID], edges, nil, nil
}

func testWeights() map[models.DomainCategory]float64 {
	return map[models.DomainCategory]float64{
		models.DomainCategoryTrusted: 1.0,
		models.DomainCategoryNews:    0.6,
		models.DomainCategoryUnknown: 0.2,
	}
}

func TestAddEdge_SupportsIncreasesAlpha(t *testing.T) {
	fs := newFakeStore()
	g := evidence.New(fs, testWeights())
	ctx := context.Background()

	require.NoError(t, g.AddClaim(ctx, &models.Claim{ID: "c1", TaskID: "t1", Text: "x"}, nil))

	edge := &models.Edge{TaskID: "t1", SourceType: models.EdgeEndpointFragment, SourceID: "f1",
		TargetType: models.EdgeEndpointClaim, TargetID: "c1", Relation: models.EdgeRelationSupports, NLIEdgeConfidence: 0.8}
	require.NoError(t, g.AddEdge(ctx, edge, models.DomainCategoryTrusted))

	claim := fs.claims["c1"]
	assert.InDelta(t, 1.8, claim.Alpha, 1e-9)
	assert.InDelta(t, 1.0, claim.Beta, 1e-9)
	assert.Equal(t, []float64{1.0}, fs.wCatSeen)
}

func TestAddEdge_NeutralSplitsBothSides(t *testing.T) {
	fs := newFakeStore()
	g := evidence.New(fs, testWeights())
	ctx := context.Background()

	require.NoError(t, g.AddClaim(ctx, &models.Claim{ID: "c1", TaskID: "t1", Text: "x"}, nil))

	edge := &models.Edge{TaskID: "t1", SourceType: models.EdgeEndpointFragment, SourceID: "f1",
		TargetType: models.EdgeEndpointClaim, TargetID: "c1", Relation: models.EdgeRelationNeutral, NLIEdgeConfidence: 1.0}
	require.NoError(t, g.AddEdge(ctx, edge, models.DomainCategoryNews))

	claim := fs.claims["c1"]
	assert.InDelta(t, 1.15, claim.Alpha, 1e-9)
	assert.InDelta(t, 1.15, claim.Beta, 1e-9)
}

func TestGetClaimEvidence_CountsDistinctPagesOnly(t *testing.T) {
	fs := newFakeStore()
	g := evidence.New(fs, testWeights())
	ctx := context.Background()

	require.NoError(t, g.AddClaim(ctx, &models.Claim{ID: "c1", TaskID: "t1", Text: "x"}, nil))

	pageOf := map[string]string{"f1": "p1", "f2": "p1", "f3": "p2"}
	for _, fragID := range []string{"f1", "f2", "f3"} {
		e := &models.Edge{TaskID: "t1", SourceType: models.EdgeEndpointFragment, SourceID: fragID,
			TargetType: models.EdgeEndpointClaim, TargetID: "c1", Relation: models.EdgeRelationSupports, NLIEdgeConfidence: 0.5}
		require.NoError(t, g.AddEdge(ctx, e, models.DomainCategoryUnknown))
	}

	result, err := g.GetClaimEvidence(ctx, "c1", func(fragmentID string) (string, bool) {
		p, ok := pageOf[fragmentID]
		return p, ok
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.IndependentSources, "f1 and f2 share page p1, so only p1 and p2 count")
}

func TestAddCitation_PropagatesIsAcademic(t *testing.T) {
	fs := newFakeStore()
	g := evidence.New(fs, testWeights())
	ctx := context.Background()

	paper := &models.Page{ID: "p1", PageType: models.PageTypeAcademicPaper}
	web := &models.Page{ID: "p2", PageType: models.PageTypeWeb}
	require.NoError(t, g.AddCitation(ctx, "t1", web, paper))

	require.Len(t, fs.edges, 1)
	assert.True(t, fs.edges[0].IsAcademic)
	assert.Equal(t, models.EdgeRelationCites, fs.edges[0].Relation)
}
