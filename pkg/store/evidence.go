package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/k-shibuki/lyra/pkg/models"
)

// UpsertPage inserts a page or, if its URL already exists, returns the
// existing row unchanged — pages are append-only and shared across tasks.
func (s *Store) UpsertPage(ctx context.Context, p *models.Page) (*models.Page, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	var metaJSON []byte
	if p.PaperMetadata != nil {
		var err error
		metaJSON, err = json.Marshal(p.PaperMetadata)
		if err != nil {
			return nil, err
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pages (id, url, domain, domain_category, title, fetched_at, html_path, paper_metadata, page_type)
		VALUES ($1, $2, $3, $4, $5, now(), nullif($6, ''), $7, $8)`,
		p.ID, p.URL, p.Domain, p.DomainCategory, p.Title, p.HTMLPath, metaJSON, p.PageType)
	if err == nil {
		return p, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return s.LoadPageByURL(ctx, p.URL)
	}
	return nil, err
}

// LoadPageByURL fetches a page by its normalized URL.
func (s *Store) LoadPageByURL(ctx context.Context, url string) (*models.Page, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, url, domain, domain_category, title, fetched_at, coalesce(html_path, ''), paper_metadata, page_type
		FROM pages WHERE url = $1`, url)
	return scanPage(row)
}

func scanPage(row pgx.Row) (*models.Page, error) {
	var p models.Page
	var metaJSON []byte
	err := row.Scan(&p.ID, &p.URL, &p.Domain, &p.DomainCategory, &p.Title, &p.FetchedAt, &p.HTMLPath, &metaJSON, &p.PageType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		var meta models.PaperMetadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, err
		}
		p.PaperMetadata = &meta
	}
	return &p, nil
}

// InsertFragment inserts a fragment, deduplicating on (page_id, text_hash):
// a repeat extraction of the same span from the same page returns the
// existing row.
func (s *Store) InsertFragment(ctx context.Context, f *models.Fragment) (*models.Fragment, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO fragments (id, page_id, fragment_type, text, text_hash, heading_context, source_url, is_primary, relevance_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.PageID, f.FragmentType, f.Text, f.TextHash, f.HeadingContext, f.SourceURL, f.IsPrimary, f.RelevanceReason)
	if err == nil {
		return f, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		row := s.pool.QueryRow(ctx, `
			SELECT id, page_id, fragment_type, text, text_hash, heading_context, source_url, is_primary, relevance_reason
			FROM fragments WHERE page_id = $1 AND text_hash = $2`, f.PageID, f.TextHash)
		var existing models.Fragment
		scanErr := row.Scan(&existing.ID, &existing.PageID, &existing.FragmentType, &existing.Text, &existing.TextHash,
			&existing.HeadingContext, &existing.SourceURL, &existing.IsPrimary, &existing.RelevanceReason)
		if scanErr != nil {
			return nil, scanErr
		}
		return &existing, nil
	}
	return nil, err
}

// LoadPageByID fetches a page by its opaque ID.
func (s *Store) LoadPageByID(ctx context.Context, pageID string) (*models.Page, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, url, domain, domain_category, title, fetched_at, coalesce(html_path, ''), paper_metadata, page_type
		FROM pages WHERE id = $1`, pageID)
	return scanPage(row)
}

// GetFragmentByID fetches a fragment by its opaque ID, used by the
// verify_nli job to load the text a claim is checked against.
func (s *Store) GetFragmentByID(ctx context.Context, fragmentID string) (*models.Fragment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, page_id, fragment_type, text, text_hash, coalesce(heading_context, ''), coalesce(source_url, ''), is_primary, coalesce(relevance_reason, '')
		FROM fragments WHERE id = $1`, fragmentID)
	var f models.Fragment
	err := row.Scan(&f.ID, &f.PageID, &f.FragmentType, &f.Text, &f.TextHash, &f.HeadingContext, &f.SourceURL, &f.IsPrimary, &f.RelevanceReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

// InsertClaim inserts a claim with a Beta(1,1) uninformative prior and its
// source provenance rows.
func (s *Store) InsertClaim(ctx context.Context, c *models.Claim, sources []models.ClaimSource) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Alpha == 0 && c.Beta == 0 {
		c.Alpha, c.Beta = 1, 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO claims (id, task_id, claim_text, alpha, beta, verification_notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		c.ID, c.TaskID, c.Text, c.Alpha, c.Beta, c.VerificationNotes)
	if err != nil {
		return err
	}

	for _, src := range sources {
		_, err = tx.Exec(ctx, `
			INSERT INTO claim_sources (claim_id, url, title, is_primary) VALUES ($1, $2, $3, $4)`,
			c.ID, src.URL, src.Title, src.IsPrimary)
		if err != nil {
			return err
		}
	}

	for _, fragID := range c.SourceFragmentIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO claim_fragments (claim_id, fragment_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, c.ID, fragID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// InsertEdge inserts an evidence-graph edge and, for fragment->claim edges,
// folds its NLI verdict into the claim's Beta posterior within the same
// transaction so the graph is never observed in a half-updated state.
func (s *Store) InsertEdge(ctx context.Context, e *models.Edge, wCat float64) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO edges (id, task_id, source_type, source_id, target_type, target_id, relation,
		                    nli_edge_confidence, is_academic, source_domain_category, target_domain_category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.TaskID, e.SourceType, e.SourceID, e.TargetType, e.TargetID, e.Relation,
		e.NLIEdgeConfidence, e.IsAcademic, e.SourceDomainCategory, e.TargetDomainCategory)
	if err != nil {
		return err
	}

	if e.SourceType == models.EdgeEndpointFragment && e.TargetType == models.EdgeEndpointClaim {
		weight := e.NLIEdgeConfidence * wCat
		var deltaAlpha, deltaBeta float64
		switch e.Relation {
		case models.EdgeRelationSupports:
			deltaAlpha = weight
		case models.EdgeRelationRefutes:
			deltaBeta = weight
		case models.EdgeRelationNeutral:
			deltaAlpha = 0.25 * weight
			deltaBeta = 0.25 * weight
		}
		if deltaAlpha != 0 || deltaBeta != 0 {
			_, err = tx.Exec(ctx, `UPDATE claims SET alpha = alpha + $2, beta = beta + $3 WHERE id = $1`,
				e.TargetID, deltaAlpha, deltaBeta)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// edgeDelta returns the (alpha, beta) contribution a fragment->claim edge
// of the given relation and weight makes to its target claim's posterior,
// mirroring InsertEdge's folding rule.
func edgeDelta(relation models.EdgeRelation, weight float64) (deltaAlpha, deltaBeta float64) {
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

// CorrectEdgeRelation overwrites a fragment->claim edge's relation and
// un-folds its old contribution from the target claim's posterior before
// folding in the new one, keeping the Beta parameters consistent with the
// edge set as of this call. wCat is the domain-category weight in effect
// when the edge was first inserted (the caller recomputes it from the
// edge's stored SourceDomainCategory).
func (s *Store) CorrectEdgeRelation(ctx context.Context, edgeID string, newRelation models.EdgeRelation, wCat float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var e models.Edge
	row := tx.QueryRow(ctx, `
		SELECT id, task_id, source_type, source_id, target_type, target_id, relation, nli_edge_confidence
		FROM edges WHERE id = $1 FOR UPDATE`, edgeID)
	if err := row.Scan(&e.ID, &e.TaskID, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID, &e.Relation, &e.NLIEdgeConfidence); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if _, err := tx.Exec(ctx, `UPDATE edges SET relation = $2 WHERE id = $1`, edgeID, newRelation); err != nil {
		return err
	}

	if e.SourceType == models.EdgeEndpointFragment && e.TargetType == models.EdgeEndpointClaim {
		weight := e.NLIEdgeConfidence * wCat
		oldAlpha, oldBeta := edgeDelta(e.Relation, weight)
		newAlpha, newBeta := edgeDelta(newRelation, weight)
		deltaAlpha, deltaBeta := newAlpha-oldAlpha, newBeta-oldBeta
		if deltaAlpha != 0 || deltaBeta != 0 {
			if _, err := tx.Exec(ctx, `UPDATE claims SET alpha = alpha + $2, beta = beta + $3 WHERE id = $1`,
				e.TargetID, deltaAlpha, deltaBeta); err != nil {
				return err
			}
		}
	}

	return tx.Commit(ctx)
}

// GetEdgeByID fetches a single edge, used by feedback() to resolve the
// target claim and domain category an edge_correct call needs.
func (s *Store) GetEdgeByID(ctx context.Context, edgeID string) (*models.Edge, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, source_type, source_id, target_type, target_id, relation,
		       nli_edge_confidence, is_academic, source_domain_category, target_domain_category
		FROM edges WHERE id = $1`, edgeID)
	var e models.Edge
	err := row.Scan(&e.ID, &e.TaskID, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID,
		&e.Relation, &e.NLIEdgeConfidence, &e.IsAcademic, &e.SourceDomainCategory, &e.TargetDomainCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &e, err
}

// ReclassifyDomain updates every page's domain_category for domain and
// returns the affected claim IDs reached through that domain's pages, so
// the caller can optionally recompute their confidence against the new
// category weight.
func (s *Store) ReclassifyDomain(ctx context.Context, domain string, category models.DomainCategory) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE pages SET domain_category = $2 WHERE domain = $1`, domain, category); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT DISTINCT cf.claim_id
		FROM claim_fragments cf
		JOIN fragments f ON f.id = cf.fragment_id
		JOIN pages p ON p.id = f.page_id
		WHERE p.domain = $1`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimIDs = append(claimIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return claimIDs, tx.Commit(ctx)
}

// RecomputeClaimFromEdges rebuilds a claim's Beta(alpha, beta) posterior
// from scratch by refolding every fragment->claim edge that targets it
// with wCat looked up fresh per edge's stored source domain category,
// used after a domain_reclassify changes the weight those edges carry.
func (s *Store) RecomputeClaimFromEdges(ctx context.Context, claimID string, categoryWeight func(models.DomainCategory) float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT relation, nli_edge_confidence, source_domain_category
		FROM edges WHERE target_type = 'claim' AND target_id = $1 AND source_type = 'fragment'`, claimID)
	if err != nil {
		return err
	}

	alpha, beta := 1.0, 1.0 // uninformative prior, same as InsertClaim's default
	for rows.Next() {
		var relation models.EdgeRelation
		var confidence float64
		var category models.DomainCategory
		if err := rows.Scan(&relation, &confidence, &category); err != nil {
			rows.Close()
			return err
		}
		da, db := edgeDelta(relation, confidence*categoryWeight(category))
		alpha += da
		beta += db
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if _, err := tx.Exec(ctx, `UPDATE claims SET alpha = $2, beta = $3 WHERE id = $1`, claimID, alpha, beta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LoadEvidenceGraph returns every claim, edge and fragment scoped to a task,
// used to reconstruct an in-memory EvidenceGraph on process restart.
func (s *Store) LoadEvidenceGraph(ctx context.Context, taskID string) ([]models.Claim, []models.Edge, error) {
	claimRows, err := s.pool.Query(ctx, `
		SELECT id, task_id, claim_text, alpha, beta, verification_notes FROM claims WHERE task_id = $1`, taskID)
	if err != nil {
		return nil, nil, err
	}
	defer claimRows.Close()

	var claims []models.Claim
	for claimRows.Next() {
		var c models.Claim
		if err := claimRows.Scan(&c.ID, &c.TaskID, &c.Text, &c.Alpha, &c.Beta, &c.VerificationNotes); err != nil {
			return nil, nil, err
		}
		claims = append(claims, c)
	}
	if err := claimRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := s.pool.Query(ctx, `
		SELECT id, task_id, source_type, source_id, target_type, target_id, relation,
		       nli_edge_confidence, is_academic, source_domain_category, target_domain_category
		FROM edges WHERE task_id = $1`, taskID)
	if err != nil {
		return nil, nil, err
	}
	defer edgeRows.Close()

	var edges []models.Edge
	for edgeRows.Next() {
		var e models.Edge
		if err := edgeRows.Scan(&e.ID, &e.TaskID, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID,
			&e.Relation, &e.NLIEdgeConfidence, &e.IsAcademic, &e.SourceDomainCategory, &e.TargetDomainCategory); err != nil {
			return nil, nil, err
		}
		edges = append(edges, e)
	}
	return claims, edges, edgeRows.Err()
}

// GetClaimEvidence returns a claim and every edge that targets it, the raw
// material get_materials assembles into a provenance trail.
func (s *Store) GetClaimEvidence(ctx context.Context, claimID string) (*models.Claim, []models.Edge, []models.ClaimSource, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, claim_text, alpha, beta, verification_notes FROM claims WHERE id = $1`, claimID)
	var c models.Claim
	if err := row.Scan(&c.ID, &c.TaskID, &c.Text, &c.Alpha, &c.Beta, &c.VerificationNotes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, err
	}

	edgeRows, err := s.pool.Query(ctx, `
		SELECT id, task_id, source_type, source_id, target_type, target_id, relation,
		       nli_edge_confidence, is_academic, source_domain_category, target_domain_category
		FROM edges WHERE target_type = 'claim' AND target_id = $1`, claimID)
	if err != nil {
		return nil, nil, nil, err
	}
	defer edgeRows.Close()

	var edges []models.Edge
	for edgeRows.Next() {
		var e models.Edge
		if err := edgeRows.Scan(&e.ID, &e.TaskID, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID,
			&e.Relation, &e.NLIEdgeConfidence, &e.IsAcademic, &e.SourceDomainCategory, &e.TargetDomainCategory); err != nil {
			return nil, nil, nil, err
		}
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	srcRows, err := s.pool.Query(ctx, `SELECT claim_id, url, title, is_primary FROM claim_sources WHERE claim_id = $1`, claimID)
	if err != nil {
		return nil, nil, nil, err
	}
	defer srcRows.Close()

	var sources []models.ClaimSource
	for srcRows.Next() {
		var src models.ClaimSource
		if err := srcRows.Scan(&src.ClaimID, &src.URL, &src.Title, &src.IsPrimary); err != nil {
			return nil, nil, nil, err
		}
		sources = append(sources, src)
	}
	return &c, edges, sources, srcRows.Err()
}
