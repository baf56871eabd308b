package retriever_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/collaborators"
	"github.com/k-shibuki/lyra/pkg/collaborators/collaboratorstest"
	"github.com/k-shibuki/lyra/pkg/concurrency"
	"github.com/k-shibuki/lyra/pkg/config"
	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/retriever"
)

type fakeStore struct {
	mu        sync.Mutex
	pages     []*models.Page
	fragments []*models.Fragment
	jobs      []*models.Job
}

func (s *fakeStore) UpsertPage(_ context.Context, p *models.Page) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = "page-" + p.URL
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *fakeStore) InsertFragment(_ context.Context, f *models.Fragment) (*models.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = "frag-" + f.PageID + "-" + string(rune('a'+len(s.fragments)))
	s.fragments = append(s.fragments, f)
	return f, nil
}

func (s *fakeStore) EnqueueJob(_ context.Context, j *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.ID = "job-" + string(rune('a'+len(s.jobs)))
	s.jobs = append(s.jobs, j)
	return j, true, nil
}

func (s *fakeStore) jobsOfKind(kind models.JobKind) []*models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

type fakePolicy struct {
	engineOrder []string
	calls       int
	denyDomains map[string]bool
}

func (p *fakePolicy) SelectEngine(_ context.Context, _ string, candidates []string) string {
	if p.calls >= len(p.engineOrder) {
		return ""
	}
	e := p.engineOrder[p.calls]
	p.calls++
	for _, c := range candidates {
		if c == e {
			return e
		}
	}
	return ""
}

func (p *fakePolicy) CanRequestToDomain(_ context.Context, domain string) bool {
	return !p.denyDomains[domain]
}

func (p *fakePolicy) RecordEngineResult(_ context.Context, _ string, _, _ bool, _ float64) error {
	return nil
}

type fakeIntervention struct {
	mu      sync.Mutex
	enqueued []string
}

func (f *fakeIntervention) Enqueue(_ context.Context, _, url, _ string, _ models.AuthType, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, url)
	return "queue-1", nil
}

func newTestConcurrency() *concurrency.Controller {
	backoff := concurrency.BackoffConfig{DecreaseStep: 1, RecoveryStableSeconds: 0}
	c := concurrency.New(4, backoff)
	c.RegisterEngine("google", 0)
	c.RegisterEngine("bing", 0)
	c.RegisterAcademicAPI("semanticscholar", 0, 2, backoff)
	return c
}

func newTestEngines() *config.EngineRegistry {
	return config.NewEngineRegistry([]config.EngineConfig{
		{Name: "google", Categories: []string{"general", "academic"}},
		{Name: "bing", Categories: []string{"general"}},
	})
}

func newTestAcademic(enabled bool) *config.AcademicAPIRegistry {
	return config.NewAcademicAPIRegistry([]config.AcademicAPIConfig{
		{Name: "semanticscholar", Enabled: enabled},
	})
}

func TestSearch_PaginatesUntilNoveltyBelowThreshold(t *testing.T) {
	ctx := context.Background()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("serp://google/search?q=golang&page=0", collaborators.FetchResult{
		Text: "https://a.example/1\tA\tsnippet\nhttps://a.example/2\tB\tsnippet\n",
	})
	fetcher.ScriptResult("serp://google/search?q=golang&page=1", collaborators.FetchResult{
		Text: "https://a.example/1\tA\tsnippet\n",
	})

	st := &fakeStore{}
	pol := &fakePolicy{engineOrder: []string{"google", "google", "google"}, denyDomains: map[string]bool{}}
	iv := &fakeIntervention{}

	r := retriever.New(st, pol, newTestConcurrency(), fetcher, nil,
		newTestEngines(), newTestAcademic(false), iv, config.PolicyDefaults{NoveltyThreshold: 0.5, SERPMaxPages: 5})

	result, err := r.Search(ctx, "task-1", "job-1", "golang", models.SearchOptions{Engines: []string{"google"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PagesFetched, "should stop after page 2 once novelty (0/1) falls below 0.5")
	assert.Equal(t, 2, result.DedupStats.UniqueEntries)
}

func TestSearch_CaptchaEnqueuesInterventionAndReturnsErrCaptcha(t *testing.T) {
	ctx := context.Background()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("serp://google/search?q=golang&page=0", collaborators.FetchResult{
		CaptchaKind: "recaptcha",
	})

	st := &fakeStore{}
	pol := &fakePolicy{engineOrder: []string{"google"}, denyDomains: map[string]bool{}}
	iv := &fakeIntervention{}

	r := retriever.New(st, pol, newTestConcurrency(), fetcher, nil,
		newTestEngines(), newTestAcademic(false), iv, config.PolicyDefaults{NoveltyThreshold: 0.1, SERPMaxPages: 3})

	_, err := r.Search(ctx, "task-1", "job-1", "golang", models.SearchOptions{Engines: []string{"google"}})
	require.ErrorIs(t, err, retriever.ErrCaptcha)
	assert.Len(t, iv.enqueued, 1)
}

func TestSearch_AcademicFanOutMergesWithSERPByDOI(t *testing.T) {
	ctx := context.Background()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("serp://google/search?q=doi:10.1000/xyz&page=0", collaborators.FetchResult{
		Text: "https://doi.org/10.1000/xyz\tPaper title\tsnippet\n",
	})

	academicAPI := collaboratorstest.NewAcademicApi("semanticscholar")
	academicAPI.ScriptSearch("doi:10.1000/xyz", []models.Paper{
		{Doi: "10.1000/xyz", Title: "Paper title", Abstract: "The abstract text.", URL: "https://doi.org/10.1000/xyz"},
	})

	st := &fakeStore{}
	pol := &fakePolicy{engineOrder: []string{"google"}, denyDomains: map[string]bool{}}
	iv := &fakeIntervention{}

	r := retriever.New(st, pol, newTestConcurrency(), fetcher,
		map[string]collaborators.AcademicApi{"semanticscholar": academicAPI},
		newTestEngines(), newTestAcademic(true), iv, config.PolicyDefaults{NoveltyThreshold: 0.1, SERPMaxPages: 1})

	result, err := r.Search(ctx, "task-1", "job-1", "doi:10.1000/xyz", models.SearchOptions{Engines: []string{"google"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DedupStats.UniqueEntries, "SERP item and API paper share canonical_id doi:10.1000/xyz")
	assert.Equal(t, 1, result.DedupStats.MergedEntries)
	assert.Equal(t, 1, result.UsefulFragments, "abstract persisted directly, no deferred ingest job")
	assert.True(t, result.HasPrimarySource)
	assert.Len(t, st.jobsOfKind(models.JobKindVerifyNLI), 1)
	assert.Empty(t, st.jobsOfKind(models.JobKindIngestURL))
	assert.Empty(t, st.jobsOfKind(models.JobKindIngestDoi))
}

func TestSearch_SERPOnlyEntrySchedulesDeferredIngestJob(t *testing.T) {
	ctx := context.Background()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("serp://google/search?q=golang&page=0", collaborators.FetchResult{
		Text: "https://a.example/1\tA\tsnippet\n",
	})

	st := &fakeStore{}
	pol := &fakePolicy{engineOrder: []string{"google"}, denyDomains: map[string]bool{}}
	iv := &fakeIntervention{}

	r := retriever.New(st, pol, newTestConcurrency(), fetcher, nil,
		newTestEngines(), newTestAcademic(false), iv, config.PolicyDefaults{NoveltyThreshold: 0.1, SERPMaxPages: 1})

	result, err := r.Search(ctx, "task-1", "job-1", "golang", models.SearchOptions{Engines: []string{"google"}})
	require.NoError(t, err)

	assert.Equal(t, 0, result.UsefulFragments)
	assert.False(t, result.HasPrimarySource)
	require.Len(t, st.jobsOfKind(models.JobKindIngestURL), 1)
	assert.Equal(t, "https://a.example/1", st.jobsOfKind(models.JobKindIngestURL)[0].Payload)
}

func TestSearch_AcademicFanOutResolvesPmidToDoi(t *testing.T) {
	ctx := context.Background()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("serp://google/search?q=pubmed pmid-only&page=0", collaborators.FetchResult{})

	pubmed := collaboratorstest.NewAcademicApi("pubmed")
	pubmed.ScriptSearch("pubmed pmid-only", []models.Paper{
		{PMID: "123456", Title: "Paper found only by PMID", Abstract: "The abstract text."},
	})
	crossref := collaboratorstest.NewAcademicApi("crossref")
	crossref.ScriptSearch("123456", []models.Paper{
		{Doi: "10.9999/resolved", Title: "Paper found only by PMID"},
	})

	st := &fakeStore{}
	pol := &fakePolicy{engineOrder: []string{"google"}, denyDomains: map[string]bool{}}
	iv := &fakeIntervention{}

	backoff := concurrency.BackoffConfig{DecreaseStep: 1, RecoveryStableSeconds: 0}
	cc := concurrency.New(4, backoff)
	cc.RegisterEngine("google", 0)
	cc.RegisterAcademicAPI("pubmed", 0, 2, backoff)
	cc.RegisterAcademicAPI("crossref", 0, 2, backoff)

	academic := config.NewAcademicAPIRegistry([]config.AcademicAPIConfig{
		{Name: "pubmed", Enabled: true},
		{Name: "crossref", Enabled: true},
	})

	r := retriever.New(st, pol, cc, fetcher,
		map[string]collaborators.AcademicApi{"pubmed": pubmed, "crossref": crossref},
		newTestEngines(), academic, iv, config.PolicyDefaults{NoveltyThreshold: 0.1, SERPMaxPages: 1})

	result, err := r.Search(ctx, "task-1", "job-1", "pubmed pmid-only", models.SearchOptions{Engines: []string{"google"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.UsefulFragments)
	require.Len(t, st.pages, 1)
	assert.Equal(t, "https://doi.org/10.9999/resolved", st.pages[0].URL,
		"PMID-only paper should resolve to its DOI via the other registered academic API before persisting")
}

func TestSearch_SkipsIngestJobForDeniedDomain(t *testing.T) {
	ctx := context.Background()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("serp://google/search?q=golang&page=0", collaborators.FetchResult{
		Text: "https://blocked.example/1\tA\tsnippet\n",
	})

	st := &fakeStore{}
	pol := &fakePolicy{engineOrder: []string{"google"}, denyDomains: map[string]bool{"blocked.example": true}}
	iv := &fakeIntervention{}

	r := retriever.New(st, pol, newTestConcurrency(), fetcher, nil,
		newTestEngines(), newTestAcademic(false), iv, config.PolicyDefaults{NoveltyThreshold: 0.1, SERPMaxPages: 1})

	_, err := r.Search(ctx, "task-1", "job-1", "golang", models.SearchOptions{Engines: []string{"google"}})
	require.NoError(t, err)
	assert.Empty(t, st.jobsOfKind(models.JobKindIngestURL))
}
