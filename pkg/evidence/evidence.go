// Package evidence implements EvidenceGraph: the write path that turns
// fetched fragments into typed, directed edges against claims and pages,
// and the read path that reconstructs a task's evidence graph for
// get_materials. Bayesian confidence bookkeeping itself lives on
// models.Claim; this package is responsible for computing the edge weight
// that feeds it and for the graph-shaped reads (independent_sources,
// get_claim_evidence).
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/k-shibuki/lyra/pkg/models"
)

// Store is the subset of *store.Store EvidenceGraph writes through,
// narrowed to an interface at this package's boundary for testability.
type Store interface {
	UpsertPage(ctx context.Context, p *models.Page) (*models.Page, error)
	InsertFragment(ctx context.Context, f *models.Fragment) (*models.Fragment, error)
	InsertClaim(ctx context.Context, c *models.Claim, sources []models.ClaimSource) error
	InsertEdge(ctx context.Context, e *models.Edge, wCat float64) error
	LoadEvidenceGraph(ctx context.Context, taskID string) ([]models.Claim, []models.Edge, error)
	GetClaimEvidence(ctx context.Context, claimID string) (*models.Claim, []models.Edge, []models.ClaimSource, error)
}

// Graph is EvidenceGraph: the single write/read surface for claims, edges,
// fragments and citations within one Lyra process.
type Graph struct {
	store    Store
	wCat     map[models.DomainCategory]float64
}

// New constructs an EvidenceGraph backed by st, weighting evidence from
// each domain category by categoryWeights (spec §13's w_cat map).
func New(st Store, categoryWeights map[models.DomainCategory]float64) *Graph {
	return &Graph{store: st, wCat: categoryWeights}
}

func (g *Graph) weightFor(category models.DomainCategory) float64 {
	if w, ok := g.wCat[category]; ok {
		return w
	}
	return g.wCat[models.DomainCategoryUnknown]
}

// HashText derives the dedup key add_fragment uses: sha256(text).
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// AddFragment deduplicates on sha256(text) within the owning page before
// inserting — two extractions of the same passage from the same page
// collapse to one Fragment row.
func (g *Graph) AddFragment(ctx context.Context, f *models.Fragment) (*models.Fragment, error) {
	if f.TextHash == "" {
		f.TextHash = HashText(f.Text)
	}
	return g.store.InsertFragment(ctx, f)
}

// AddClaim inserts a claim. A non-zero c.Alpha or c.Beta seeds the
// posterior directly; if both are zero the Store applies the uninformative
// Beta(1,1) prior.
func (g *Graph) AddClaim(ctx context.Context, c *models.Claim, sources []models.ClaimSource) error {
	return g.store.InsertClaim(ctx, c, sources)
}

// AddEdge inserts a typed edge and folds it into the target claim's Beta
// posterior (for fragment->claim edges) using the source fragment's page
// category weight.
func (g *Graph) AddEdge(ctx context.Context, e *models.Edge, sourceCategory models.DomainCategory) error {
	return g.store.InsertEdge(ctx, e, g.weightFor(sourceCategory))
}

// AddCitation records a page->page citation edge, propagating is_academic
// from whether either endpoint is an academic paper.
func (g *Graph) AddCitation(ctx context.Context, taskID string, sourcePage, targetPage *models.Page) error {
	isAcademic := sourcePage.PageType == models.PageTypeAcademicPaper || targetPage.PageType == models.PageTypeAcademicPaper
	e := &models.Edge{
		TaskID:               taskID,
		SourceType:           models.EdgeEndpointPage,
		SourceID:             sourcePage.ID,
		TargetType:           models.EdgeEndpointPage,
		TargetID:             targetPage.ID,
		Relation:             models.EdgeRelationCites,
		NLIEdgeConfidence:    1,
		IsAcademic:           isAcademic,
		SourceDomainCategory: sourcePage.DomainCategory,
		TargetDomainCategory: targetPage.DomainCategory,
	}
	return g.store.InsertEdge(ctx, e, 1)
}

// LoadFromDB reconstructs a task's claim/edge node set from the Store, for
// process-restart recovery or get_materials(scope=evidence_graph).
func (g *Graph) LoadFromDB(ctx context.Context, taskID string) ([]models.Claim, []models.Edge, error) {
	return g.store.LoadEvidenceGraph(ctx, taskID)
}

// ClaimEvidence is one claim plus every edge that targets it and the
// provenance rows those edges' fragments trace back to — the unit
// get_materials assembles into a provenance trail.
type ClaimEvidence struct {
	Claim              models.Claim
	Edges              []models.Edge
	Sources            []models.ClaimSource
	IndependentSources int
}

// GetClaimEvidence enumerates a claim's contributing edges and computes
// independent_sources by walking each supporting (fragment->claim) edge
// back to its fragment's page and counting distinct pages — never by
// looking for direct page->claim edges, since add_claim never produces
// those (see spec's open-question decision on this point).
func (g *Graph) GetClaimEvidence(ctx context.Context, claimID string, fragmentPage func(fragmentID string) (pageID string, ok bool)) (*ClaimEvidence, error) {
	claim, edges, sources, err := g.store.GetClaimEvidence(ctx, claimID)
	if err != nil {
		return nil, err
	}

	distinctPages := make(map[string]struct{})
	for _, e := range edges {
		if e.Relation != models.EdgeRelationSupports || e.SourceType != models.EdgeEndpointFragment {
			continue
		}
		if pageID, ok := fragmentPage(e.SourceID); ok {
			distinctPages[pageID] = struct{}{}
		}
	}

	return &ClaimEvidence{
		Claim:              *claim,
		Edges:              edges,
		Sources:            sources,
		IndependentSources: len(distinctPages),
	}, nil
}
