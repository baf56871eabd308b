// Package retriever implements the Retriever: query classification and
// operator normalization, parallel browser-SERP/academic-API fan-out,
// canonical paper deduplication, and abstract-only or deferred-fetch
// persistence into the evidence graph.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/k-shibuki/lyra/pkg/collaborators"
	"github.com/k-shibuki/lyra/pkg/concurrency"
	"github.com/k-shibuki/lyra/pkg/config"
	"github.com/k-shibuki/lyra/pkg/evidence"
	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/store"
)

// ErrCaptcha is returned by Search when a browser SERP fetch hits an auth
// wall. The caller (the scheduler's JobExecutor adapter) is responsible for
// translating this into an awaiting_auth outcome.
var ErrCaptcha = errors.New("retriever: captcha encountered")

// Store is the subset of *store.Store the Retriever writes through.
type Store interface {
	UpsertPage(ctx context.Context, p *models.Page) (*models.Page, error)
	InsertFragment(ctx context.Context, f *models.Fragment) (*models.Fragment, error)
	EnqueueJob(ctx context.Context, j *models.Job) (*models.Job, bool, error)
}

// PolicyEngine is the subset of *policy.Engine the Retriever consults.
type PolicyEngine interface {
	SelectEngine(ctx context.Context, category string, candidates []string) string
	CanRequestToDomain(ctx context.Context, domain string) bool
	RecordEngineResult(ctx context.Context, engine string, success, isCaptcha bool, latencyMs float64) error
}

// ConcurrencyController is the subset of *concurrency.Controller the
// Retriever acquires resources from.
type ConcurrencyController interface {
	Tabs() *concurrency.TabPool
	Engine(name string) *concurrency.EngineLimiter
	AcademicAPI(name string) *concurrency.AcademicAPILimiter
}

// InterventionSink is the subset of *intervention.Queue the Retriever
// writes a parked auth-wall request to.
type InterventionSink interface {
	Enqueue(ctx context.Context, taskID, url, domain string, authType models.AuthType, searchJobID string) (string, error)
}

// Retriever is the Retriever.
type Retriever struct {
	store        Store
	policy       PolicyEngine
	concurrency  ConcurrencyController
	fetcher      collaborators.Fetcher
	academicAPIs map[string]collaborators.AcademicApi
	engines      *config.EngineRegistry
	academic     *config.AcademicAPIRegistry
	interventions InterventionSink
	cache        *serpCache
	noveltyThreshold float64
	serpMaxPages     int
}

// New constructs a Retriever.
func New(st Store, policy PolicyEngine, cc ConcurrencyController, fetcher collaborators.Fetcher,
	academicAPIs map[string]collaborators.AcademicApi, engines *config.EngineRegistry, academic *config.AcademicAPIRegistry,
	interventions InterventionSink, defaults config.PolicyDefaults) *Retriever {
	noveltyThreshold := defaults.NoveltyThreshold
	if noveltyThreshold <= 0 {
		noveltyThreshold = 0.1
	}
	serpMaxPages := defaults.SERPMaxPages
	if serpMaxPages <= 0 {
		serpMaxPages = 3
	}
	ttl := defaults.SERPCacheTTL
	return &Retriever{
		store: st, policy: policy, concurrency: cc, fetcher: fetcher,
		academicAPIs: academicAPIs, engines: engines, academic: academic,
		interventions: interventions, cache: newSERPCache(ttl),
		noveltyThreshold: noveltyThreshold, serpMaxPages: serpMaxPages,
	}
}

// Search runs one retrieval against query, persisting results into the
// evidence graph and scheduling follow-up jobs, per spec.md §4.4.
func (r *Retriever) Search(ctx context.Context, taskID, searchJobID, query string, opts models.SearchOptions) (*models.SearchResult, error) {
	category := classifyQuery(query)
	candidateEngines := opts.Engines
	if len(candidateEngines) == 0 {
		for _, e := range r.engines.ByCategory(category) {
			candidateEngines = append(candidateEngines, e.Name)
		}
	}

	serpMaxPages := opts.SERPMaxPages
	if serpMaxPages <= 0 {
		serpMaxPages = r.serpMaxPages
	}
	cacheKey := serpCacheKey(query, candidateEngines, opts.TimeRange, serpMaxPages)

	idx := newCanonicalIndex()
	var noveltyScore float64
	var pagesFetched int

	if cached, ok := r.cache.Get(cacheKey); ok {
		for _, item := range cached {
			idx.addSERP(item)
		}
	} else {
		results, novelty, fetched, err := r.fetchSERP(ctx, taskID, searchJobID, category, query, candidateEngines, serpMaxPages)
		if err != nil {
			return nil, err
		}
		noveltyScore = novelty
		pagesFetched = fetched
		for _, item := range results {
			idx.addSERP(item)
		}
		r.cache.Set(cacheKey, results)
	}

	if category == "academic" {
		if err := r.fetchAcademic(ctx, query, idx); err != nil {
			slog.Warn("academic API fan-out partially failed", "task_id", taskID, "error", err)
		}
	}

	usefulFragments, claimsFound, hasPrimary, err := r.persist(ctx, taskID, idx)
	if err != nil {
		return nil, err
	}

	entries := idx.entries()
	harvestRate := 0.0
	if len(entries) > 0 {
		harvestRate = float64(usefulFragments) / float64(len(entries))
	}

	status := models.SearchStatusExhausted
	switch {
	case usefulFragments > 0 && noveltyScore >= r.noveltyThreshold:
		status = models.SearchStatusSatisfied
	case usefulFragments > 0:
		status = models.SearchStatusPartial
	}

	return &models.SearchResult{
		SearchID:        searchJobID,
		Status:          status,
		PagesFetched:    pagesFetched,
		UsefulFragments: usefulFragments,
		HarvestRate:     harvestRate,
		NoveltyScore:    noveltyScore,
		ClaimsFound:     claimsFound,
		HasPrimarySource: hasPrimary,
		DedupStats: models.DedupStats{
			SERPItems:     countSERP(entries),
			APIPapers:     countPapers(entries),
			MergedEntries: idx.mergedCount(),
			UniqueEntries: len(entries),
		},
	}, nil
}

// fetchSERP paginates one or more engines' search-results pages, stopping
// once novelty_rate falls below threshold or page_index reaches
// serpMaxPages, per spec.md §4.4 step 3.
func (r *Retriever) fetchSERP(ctx context.Context, taskID, searchJobID, category, query string, engines []string, serpMaxPages int) ([]models.SERPResult, float64, int, error) {
	seen := make(map[string]struct{})
	var all []models.SERPResult
	var lastNovelty float64
	pagesFetched := 0

	for page := 0; page < serpMaxPages; page++ {
		engine := r.policy.SelectEngine(ctx, category, engines)
		if engine == "" {
			break
		}

		cfg, err := r.engines.Get(engine)
		if err != nil {
			break
		}

		tab, err := r.concurrency.Tabs().Acquire(ctx)
		if err != nil {
			return all, lastNovelty, pagesFetched, err
		}
		release, err := r.concurrency.Engine(engine).Acquire(ctx)
		if err != nil {
			r.concurrency.Tabs().Release(tab)
			return all, lastNovelty, pagesFetched, err
		}

		normalizedQuery := normalizeOperators(query, cfg.OperatorMapping)
		serpURL := buildSERPURL(engine, normalizedQuery, page)

		start := time.Now()
		result, fetchErr := r.fetcher.Fetch(ctx, serpURL, collaborators.FetchModeBrowser, nil)
		latencyMs := float64(time.Since(start).Milliseconds())

		release()
		r.concurrency.Tabs().Release(tab)

		if fetchErr != nil {
			_ = r.policy.RecordEngineResult(ctx, engine, false, false, latencyMs)
			return all, lastNovelty, pagesFetched, fetchErr
		}
		pagesFetched++

		if result.CaptchaKind != "" {
			r.concurrency.Tabs().Backoff()
			_ = r.policy.RecordEngineResult(ctx, engine, false, true, latencyMs)
			domain := domainOf(serpURL)
			if _, enqErr := r.interventions.Enqueue(ctx, taskID, serpURL, domain,
				models.AuthType(result.CaptchaKind), searchJobID); enqErr != nil {
				slog.Error("failed to enqueue intervention after captcha", "task_id", taskID, "domain", domain, "error", enqErr)
			}
			return all, lastNovelty, pagesFetched, ErrCaptcha
		}

		_ = r.policy.RecordEngineResult(ctx, engine, true, false, latencyMs)

		items := parseSERPItems(result.Text)
		newCount := 0
		for _, item := range items {
			if _, ok := seen[item.URL]; !ok {
				seen[item.URL] = struct{}{}
				newCount++
			}
		}
		total := len(items)
		if total == 0 {
			break
		}
		lastNovelty = float64(newCount) / float64(total)
		all = append(all, items...)

		if lastNovelty < r.noveltyThreshold {
			break
		}
	}

	return all, lastNovelty, pagesFetched, nil
}

// fetchAcademic queries every enabled academic API in parallel, each paced
// by its own ConcurrencyController limiter, and merges results into idx.
func (r *Retriever) fetchAcademic(ctx context.Context, query string, idx *canonicalIndex) error {
	apis := r.academic.Enabled()
	if len(apis) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]models.Paper, len(apis))

	for i, apiCfg := range apis {
		i, apiCfg := i, apiCfg
		client, ok := r.academicAPIs[apiCfg.Name]
		if !ok {
			continue
		}
		limiter := r.concurrency.AcademicAPI(apiCfg.Name)
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Acquire(gctx); err != nil {
					return err
				}
				defer limiter.Release()
			}
			papers, err := client.Search(gctx, query, 20)
			if err != nil {
				if limiter != nil {
					limiter.Backoff()
				}
				slog.Warn("academic API search failed", "api", apiCfg.Name, "error", err)
				return nil // fail-open: one API's error doesn't abort the fan-out
			}
			results[i] = papers
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, papers := range results {
		sourceAPI := apis[i].Name
		for j := range papers {
			p := &papers[j]
			if p.Doi == "" && (p.PMID != "" || p.ArxivID != "") {
				r.resolveDoi(ctx, p, sourceAPI, apis)
			}
			idx.addPaper(p)
		}
	}
	return nil
}

// resolveDoi attempts to cross-reference a paper identified only by PMID or
// arXiv ID to a DOI, per spec.md §4.4 step 4 ("PMID or arXiv identifiers are
// resolved to DOI when possible"). It queries every other registered
// academic API (skipping the one p was already found on) by the bare
// identifier — the same search-by-identifier call each API already serves
// for bibliographic lookups — and adopts the first DOI a hit returns.
// Fails open: an API error or empty result just moves on to the next API,
// leaving p.Doi empty so canonicalIDForPaper falls back to pmid:/arxiv:.
func (r *Retriever) resolveDoi(ctx context.Context, p *models.Paper, sourceAPI string, apis []*config.AcademicAPIConfig) {
	identifier := p.PMID
	if identifier == "" {
		identifier = p.ArxivID
	}
	for _, apiCfg := range apis {
		if apiCfg.Name == sourceAPI {
			continue
		}
		client, ok := r.academicAPIs[apiCfg.Name]
		if !ok {
			continue
		}
		limiter := r.concurrency.AcademicAPI(apiCfg.Name)
		if limiter != nil {
			if err := limiter.Acquire(ctx); err != nil {
				return
			}
		}
		hits, err := client.Search(ctx, identifier, 1)
		if limiter != nil {
			limiter.Release()
		}
		if err != nil {
			if limiter != nil {
				limiter.Backoff()
			}
			slog.Warn("doi resolution search failed", "api", apiCfg.Name, "identifier", identifier, "error", err)
			continue
		}
		if len(hits) > 0 && hits[0].Doi != "" {
			p.Doi = hits[0].Doi
			return
		}
	}
}

// persist writes every CanonicalEntry to the Store: abstract-only for
// entries whose paper carries an abstract, deferred ingest_url/ingest_doi
// jobs otherwise. Returns the number of useful fragments and claims
// produced immediately (abstracts only — claim extraction happens in the
// verify_nli job this schedules) and whether any primary-source fragment
// was found.
func (r *Retriever) persist(ctx context.Context, taskID string, idx *canonicalIndex) (usefulFragments, claimsFound int, hasPrimary bool, err error) {
	for _, entry := range idx.entries() {
		if entry.Paper != nil && entry.Paper.Abstract != "" {
			page, pErr := r.store.UpsertPage(ctx, &models.Page{
				URL:            paperURL(entry.Paper),
				Domain:         domainOf(paperURL(entry.Paper)),
				DomainCategory: models.DomainCategoryAcademic,
				Title:          entry.Paper.Title,
				PageType:       models.PageTypeAcademicPaper,
				PaperMetadata: &models.PaperMetadata{
					PaperID: entry.Paper.PaperID, Doi: entry.Paper.Doi, Venue: entry.Paper.Venue,
					Year: entry.Paper.Year, CitationCount: entry.Paper.CitationCount, IsOpenAccess: entry.Paper.IsOpenAccess,
				},
			})
			if pErr != nil {
				return usefulFragments, claimsFound, hasPrimary, fmt.Errorf("persisting academic page: %w", pErr)
			}

			frag, fErr := r.store.InsertFragment(ctx, &models.Fragment{
				PageID:       page.ID,
				FragmentType: models.FragmentTypeAbstract,
				Text:         entry.Paper.Abstract,
				TextHash:     evidence.HashText(entry.Paper.Abstract),
				SourceURL:    page.URL,
				IsPrimary:    true,
			})
			if fErr != nil {
				return usefulFragments, claimsFound, hasPrimary, fmt.Errorf("persisting abstract fragment: %w", fErr)
			}
			usefulFragments++
			hasPrimary = true

			if err := r.enqueueVerifyNLI(ctx, taskID, frag.ID); err != nil {
				slog.Error("failed to enqueue verify_nli job", "task_id", taskID, "fragment_id", frag.ID, "error", err)
			}
			continue
		}

		// SERP-only or abstract-less entry: schedule a deferred ingest job
		// rather than fetching inline, per spec.md §4.4 step 5.
		url := entryURL(entry)
		if url == "" {
			continue
		}
		if !r.policy.CanRequestToDomain(ctx, domainOf(url)) {
			continue
		}

		kind := models.JobKindIngestURL
		payload := url
		if entry.Paper != nil && entry.Paper.Doi != "" {
			kind = models.JobKindIngestDoi
			payload = entry.Paper.Doi
		}

		job := &models.Job{
			TaskID:      taskID,
			Kind:        kind,
			Payload:     payload,
			PayloadHash: store.PayloadHash(taskID + "|" + string(kind) + "|" + payload),
		}
		if _, _, jErr := r.store.EnqueueJob(ctx, job); jErr != nil {
			slog.Error("failed to enqueue ingest job", "task_id", taskID, "url", url, "error", jErr)
		}
	}

	return usefulFragments, claimsFound, hasPrimary, nil
}

func (r *Retriever) enqueueVerifyNLI(ctx context.Context, taskID, fragmentID string) error {
	job := &models.Job{
		TaskID:      taskID,
		Kind:        models.JobKindVerifyNLI,
		Payload:     fragmentID,
		PayloadHash: store.PayloadHash(taskID + "|verify_nli|" + fragmentID),
	}
	_, _, err := r.store.EnqueueJob(ctx, job)
	return err
}

func entryURL(entry *models.CanonicalEntry) string {
	if entry.Paper != nil && entry.Paper.URL != "" {
		return entry.Paper.URL
	}
	if len(entry.SERPResults) > 0 {
		return entry.SERPResults[0].URL
	}
	return ""
}

func paperURL(p *models.Paper) string {
	if p.URL != "" {
		return p.URL
	}
	if p.Doi != "" {
		return "https://doi.org/" + p.Doi
	}
	return "urn:paper:" + p.PaperID
}

func countSERP(entries []*models.CanonicalEntry) int {
	n := 0
	for _, e := range entries {
		n += len(e.SERPResults)
	}
	return n
}

func countPapers(entries []*models.CanonicalEntry) int {
	n := 0
	for _, e := range entries {
		if e.Paper != nil {
			n++
		}
	}
	return n
}

func domainOf(rawURL string) string {
	s := strings.TrimPrefix(rawURL, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

func buildSERPURL(engine, query string, page int) string {
	return fmt.Sprintf("serp://%s/search?q=%s&page=%d", engine, query, page)
}

// parseSERPItems extracts result items from a fetched SERP page's plain
// text. Real DOM parsing of the rendered page is the external Fetcher
// collaborator's responsibility; this module only consumes the
// line-oriented "url\ttitle\tsnippet" records it is expected to produce.
func parseSERPItems(text string) []models.SERPResult {
	var out []models.SERPResult
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		item := models.SERPResult{URL: fields[0]}
		if len(fields) > 1 {
			item.Title = fields[1]
		}
		if len(fields) > 2 {
			item.Snippet = fields[2]
		}
		out = append(out, item)
	}
	return out
}
