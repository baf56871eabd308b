package retriever_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k-shibuki/lyra/pkg/collaborators"
	"github.com/k-shibuki/lyra/pkg/collaborators/collaboratorstest"
	"github.com/k-shibuki/lyra/pkg/config"
	"github.com/k-shibuki/lyra/pkg/evidence"
	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/retriever"
	"github.com/k-shibuki/lyra/pkg/scheduler"
)

// newExecutorRetriever builds a minimal *retriever.Retriever purely to back
// Executor's enqueueVerifyNLI bridge call — these tests never invoke
// Retriever.Search itself, only the Executor dispatch paths.
func newExecutorRetriever(st *fakeExecutorStore, fetcher collaborators.Fetcher, academic map[string]collaborators.AcademicApi) *retriever.Retriever {
	return retriever.New(st, &fakePolicy{}, newTestConcurrency(), fetcher, academic,
		newTestEngines(), newTestAcademic(false), &fakeIntervention{}, config.PolicyDefaults{})
}

type fakeExecutorStore struct {
	mu        sync.Mutex
	pages     map[string]*models.Page
	fragments map[string]*models.Fragment
	claims    []*models.Claim
	edges     []*models.Edge
	jobs      []*models.Job
	tasks     map[string]*models.Task
}

func newFakeExecutorStore() *fakeExecutorStore {
	return &fakeExecutorStore{
		pages:     make(map[string]*models.Page),
		fragments: make(map[string]*models.Fragment),
		tasks:     make(map[string]*models.Task),
	}
}

func (s *fakeExecutorStore) UpsertPage(_ context.Context, p *models.Page) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.pages[p.URL]; ok {
		return existing, nil
	}
	p.ID = "page-" + p.URL
	s.pages[p.URL] = p
	return p, nil
}

func (s *fakeExecutorStore) InsertFragment(_ context.Context, f *models.Fragment) (*models.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = "frag-" + f.PageID
	s.fragments[f.ID] = f
	return f, nil
}

func (s *fakeExecutorStore) EnqueueJob(_ context.Context, j *models.Job) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j.ID = "job-" + string(rune('a'+len(s.jobs)))
	s.jobs = append(s.jobs, j)
	return j, true, nil
}

func (s *fakeExecutorStore) SetJobResult(_ context.Context, jobID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == jobID {
			j.Result = result
		}
	}
	return nil
}

func (s *fakeExecutorStore) LoadTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, errors.New("task not found")
	}
	return t, nil
}

func (s *fakeExecutorStore) GetFragmentByID(_ context.Context, fragmentID string) (*models.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fragments[fragmentID]
	if !ok {
		return nil, errors.New("fragment not found")
	}
	return f, nil
}

func (s *fakeExecutorStore) LoadPageByID(_ context.Context, pageID string) (*models.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pages {
		if p.ID == pageID {
			return p, nil
		}
	}
	return nil, errors.New("page not found")
}

func (s *fakeExecutorStore) InsertClaim(_ context.Context, c *models.Claim, _ []models.ClaimSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Alpha == 0 && c.Beta == 0 {
		c.Alpha, c.Beta = 1, 1
	}
	s.claims = append(s.claims, c)
	return nil
}

func (s *fakeExecutorStore) InsertEdge(_ context.Context, e *models.Edge, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, e)
	return nil
}

func (s *fakeExecutorStore) LoadEvidenceGraph(_ context.Context, _ string) ([]models.Claim, []models.Edge, error) {
	return nil, nil, nil
}

func (s *fakeExecutorStore) GetClaimEvidence(_ context.Context, _ string) (*models.Claim, []models.Edge, []models.ClaimSource, error) {
	return nil, nil, nil, nil
}

func (s *fakeExecutorStore) jobsOfKind(kind models.JobKind) []*models.Job {
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

func newExecutorGraph(st *fakeExecutorStore) *evidence.Graph {
	weights := map[models.DomainCategory]float64{
		models.DomainCategoryAcademic: 1.0,
		models.DomainCategoryGeneral:  0.5,
		models.DomainCategoryUnknown:  0.3,
	}
	return evidence.New(st, weights)
}

func TestExecutor_IngestURLPersistsFragmentAndSchedulesVerifyNLI(t *testing.T) {
	ctx := context.Background()
	st := newFakeExecutorStore()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("https://a.example/post", collaborators.FetchResult{Text: "the full article body"})

	exec := retriever.NewExecutor(st, newExecutorRetriever(st, fetcher, nil), newExecutorGraph(st), collaboratorstest.NewMlClient(), fetcher, nil)

	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKindIngestURL, Payload: "https://a.example/post"}
	result := exec.Execute(ctx, job)

	require.Equal(t, scheduler.OutcomeCompleted, result.Outcome)
	require.Len(t, st.jobsOfKind(models.JobKindVerifyNLI), 1)
	assert.Len(t, st.fragments, 1)
}

func TestExecutor_IngestURLCaptchaReportsAwaitingAuth(t *testing.T) {
	ctx := context.Background()
	st := newFakeExecutorStore()
	fetcher := collaboratorstest.NewFetcher()
	fetcher.ScriptResult("https://a.example/post", collaborators.FetchResult{CaptchaKind: "recaptcha"})

	exec := retriever.NewExecutor(st, newExecutorRetriever(st, fetcher, nil), newExecutorGraph(st), collaboratorstest.NewMlClient(), fetcher, nil)

	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKindIngestURL, Payload: "https://a.example/post"}
	result := exec.Execute(ctx, job)

	assert.Equal(t, scheduler.OutcomeAwaitingAuth, result.Outcome)
	require.ErrorIs(t, result.Error, retriever.ErrCaptcha)
}

func TestExecutor_IngestURLUnscriptedFetchIsRetriable(t *testing.T) {
	ctx := context.Background()
	st := newFakeExecutorStore()
	fetcher := collaboratorstest.NewFetcher() // no response scripted -> ErrNotScripted

	exec := retriever.NewExecutor(st, newExecutorRetriever(st, fetcher, nil), newExecutorGraph(st), collaboratorstest.NewMlClient(), fetcher, nil)

	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKindIngestURL, Payload: "https://a.example/missing"}
	result := exec.Execute(ctx, job)

	assert.Equal(t, scheduler.OutcomeRetriable, result.Outcome)
}

func TestExecutor_IngestDoiPersistsAbstract(t *testing.T) {
	ctx := context.Background()
	st := newFakeExecutorStore()
	api := collaboratorstest.NewAcademicApi("semanticscholar")
	api.ScriptDoi("10.1000/xyz", &models.Paper{Doi: "10.1000/xyz", Title: "Paper", Abstract: "an abstract", URL: "https://doi.org/10.1000/xyz"})

	academic := map[string]collaborators.AcademicApi{"semanticscholar": api}
	exec := retriever.NewExecutor(st, newExecutorRetriever(st, collaboratorstest.NewFetcher(), academic), newExecutorGraph(st),
		collaboratorstest.NewMlClient(), collaboratorstest.NewFetcher(), academic)

	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKindIngestDoi, Payload: "10.1000/xyz"}
	result := exec.Execute(ctx, job)

	require.Equal(t, scheduler.OutcomeCompleted, result.Outcome)
	require.Len(t, st.jobsOfKind(models.JobKindVerifyNLI), 1)
	assert.Len(t, st.fragments, 1)
}

func TestExecutor_VerifyNLIExtractsClaimAndRecordsEdge(t *testing.T) {
	ctx := context.Background()
	st := newFakeExecutorStore()
	st.tasks["task-1"] = &models.Task{ID: "task-1", Hypothesis: "X causes Y"}

	page, err := st.UpsertPage(ctx, &models.Page{URL: "https://a.example/1", DomainCategory: models.DomainCategoryGeneral, PageType: models.PageTypeWeb})
	require.NoError(t, err)
	frag, err := st.InsertFragment(ctx, &models.Fragment{PageID: page.ID, Text: "the fragment text", SourceURL: page.URL, IsPrimary: true})
	require.NoError(t, err)

	ml := collaboratorstest.NewMlClient()
	ml.ScriptClaims("the fragment text", []collaborators.ExtractedClaim{{Text: "X causes Y"}})
	ml.ScriptNLI("the fragment text", "X causes Y", collaborators.NLIResult{Label: collaborators.NLILabelSupports, Confidence: 0.9})

	exec := retriever.NewExecutor(st, newExecutorRetriever(st, collaboratorstest.NewFetcher(), nil), newExecutorGraph(st), ml, collaboratorstest.NewFetcher(), nil)

	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKindVerifyNLI, Payload: frag.ID}
	result := exec.Execute(ctx, job)

	require.Equal(t, scheduler.OutcomeCompleted, result.Outcome)
	require.Len(t, st.claims, 1)
	require.Len(t, st.edges, 1)
	assert.Equal(t, models.EdgeRelationSupports, st.edges[0].Relation)
	assert.InDelta(t, 0.9, st.edges[0].NLIEdgeConfidence, 0.0001)
}

func TestExecutor_UnknownJobKindIsTerminal(t *testing.T) {
	ctx := context.Background()
	st := newFakeExecutorStore()
	exec := retriever.NewExecutor(st, newExecutorRetriever(st, collaboratorstest.NewFetcher(), nil), newExecutorGraph(st),
		collaboratorstest.NewMlClient(), collaboratorstest.NewFetcher(), nil)

	job := &models.Job{ID: "job-1", TaskID: "task-1", Kind: models.JobKind("bogus")}
	result := exec.Execute(ctx, job)

	assert.Equal(t, scheduler.OutcomeTerminal, result.Outcome)
	assert.Error(t, result.Error)
}
