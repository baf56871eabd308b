// Package feedback implements the FeedbackBus: the audited correction
// surface that lets an operator overwrite an edge's relation, mark a
// claim's confidence, or reclassify a domain, feeding each correction back
// into the evidence graph's Bayesian posteriors.
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/store"
)

// Store is the subset of *store.Store the FeedbackBus depends on.
type Store interface {
	AppendFeedbackLog(ctx context.Context, action store.FeedbackAction, targetID string, payload map[string]any) error
	RecordFeedback(ctx context.Context, action store.FeedbackAction, targetID string, payload map[string]any) error
	GetEdgeByID(ctx context.Context, edgeID string) (*models.Edge, error)
	CorrectEdgeRelation(ctx context.Context, edgeID string, newRelation models.EdgeRelation, wCat float64) error
	ReclassifyDomain(ctx context.Context, domain string, category models.DomainCategory) ([]string, error)
	RecomputeClaimFromEdges(ctx context.Context, claimID string, categoryWeight func(models.DomainCategory) float64) error
}

// Bus is the FeedbackBus.
type Bus struct {
	store    Store
	wCat     map[models.DomainCategory]float64
}

// New constructs a Bus. categoryWeights must be the same domain-category
// weight table the EvidenceGraph uses to fold new edges, so a correction's
// recompute agrees with the original insert's arithmetic.
func New(st Store, categoryWeights map[models.DomainCategory]float64) *Bus {
	return &Bus{store: st, wCat: categoryWeights}
}

func (b *Bus) weightFor(category models.DomainCategory) float64 {
	if w, ok := b.wCat[category]; ok {
		return w
	}
	return b.wCat[models.DomainCategoryUnknown]
}

// EdgeCorrect overwrites edgeID's relation and refolds the target claim's
// Beta posterior to reflect the correction.
func (b *Bus) EdgeCorrect(ctx context.Context, edgeID string, newRelation models.EdgeRelation) error {
	edge, err := b.store.GetEdgeByID(ctx, edgeID)
	if err != nil {
		return fmt.Errorf("loading edge %s: %w", edgeID, err)
	}

	wCat := b.weightFor(edge.SourceDomainCategory)
	if err := b.store.CorrectEdgeRelation(ctx, edgeID, newRelation, wCat); err != nil {
		return fmt.Errorf("correcting edge %s: %w", edgeID, err)
	}

	payload := map[string]any{"relation": string(newRelation), "previous_relation": string(edge.Relation)}
	if err := b.store.AppendFeedbackLog(ctx, store.FeedbackActionEdgeCorrect, edgeID, payload); err != nil {
		return fmt.Errorf("logging edge_correct feedback: %w", err)
	}

	slog.Info("edge relation corrected", "edge_id", edgeID, "claim_id", edge.TargetID,
		"previous_relation", edge.Relation, "new_relation", newRelation)
	return nil
}

// ClaimMark applies a confidence-override note to a claim, recorded as an
// audit row without touching its Beta parameters — the note documents a
// human judgment call alongside the statistical confidence, not a
// replacement for it.
func (b *Bus) ClaimMark(ctx context.Context, claimID, note string) error {
	payload := map[string]any{"note": note}
	if err := b.store.RecordFeedback(ctx, store.FeedbackActionClaimMark, claimID, payload); err != nil {
		return fmt.Errorf("recording claim_mark feedback: %w", err)
	}
	slog.Info("claim marked", "claim_id", claimID)
	return nil
}

// DomainReclassify updates every page's domain_category for domain and, if
// recompute is true, refolds the Beta posterior of every claim reached
// through that domain's fragments against the new category weight.
func (b *Bus) DomainReclassify(ctx context.Context, domain string, category models.DomainCategory, recompute bool) (int, error) {
	claimIDs, err := b.store.ReclassifyDomain(ctx, domain, category)
	if err != nil {
		return 0, fmt.Errorf("reclassifying domain %s: %w", domain, err)
	}

	payload := map[string]any{"domain_category": string(category), "recompute": recompute}
	if err := b.store.AppendFeedbackLog(ctx, store.FeedbackActionDomainReclassify, domain, payload); err != nil {
		return 0, fmt.Errorf("logging domain_reclassify feedback: %w", err)
	}

	if !recompute {
		slog.Info("domain reclassified", "domain", domain, "category", category, "affected_claims", len(claimIDs))
		return len(claimIDs), nil
	}

	recomputed := 0
	for _, claimID := range claimIDs {
		if err := b.store.RecomputeClaimFromEdges(ctx, claimID, b.weightFor); err != nil {
			slog.Error("failed to recompute claim confidence after domain reclassify",
				"domain", domain, "claim_id", claimID, "error", err)
			continue
		}
		recomputed++
	}

	slog.Info("domain reclassified", "domain", domain, "category", category,
		"affected_claims", len(claimIDs), "recomputed", recomputed)
	return recomputed, nil
}
