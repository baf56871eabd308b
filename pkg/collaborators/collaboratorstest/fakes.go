// Package collaboratorstest provides deterministic in-memory fakes of the
// Fetcher, MlClient and AcademicApi collaborators, grounded on the
// scripted-response fake-transport pattern used to test MCP clients in the
// corpus: every fake is driven entirely by a pre-scripted response table, so
// tests are reproducible without a real browser, model server, or network.
package collaboratorstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/k-shibuki/lyra/pkg/collaborators"
	"github.com/k-shibuki/lyra/pkg/models"
)

// Fetcher is a scripted collaborators.Fetcher. Responses are keyed by URL;
// an unscripted URL returns ErrNotScripted.
type Fetcher struct {
	mu        sync.Mutex
	responses map[string]collaborators.FetchResult
	errors    map[string]error
	sessions  map[string]collaborators.SessionData
	calls     []string
}

// ErrNotScripted is returned for a URL the test never scripted a response
// for.
var ErrNotScripted = fmt.Errorf("collaboratorstest: no scripted response")

// NewFetcher creates an empty scripted Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		responses: make(map[string]collaborators.FetchResult),
		errors:    make(map[string]error),
		sessions:  make(map[string]collaborators.SessionData),
	}
}

// ScriptResult registers the FetchResult to return for url.
func (f *Fetcher) ScriptResult(url string, result collaborators.FetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = result
}

// ScriptError registers the error to return for url.
func (f *Fetcher) ScriptError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[url] = err
}

// Fetch implements collaborators.Fetcher.
func (f *Fetcher) Fetch(_ context.Context, url string, _ collaborators.FetchMode, _ map[string]string) (collaborators.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)

	if err, ok := f.errors[url]; ok {
		return collaborators.FetchResult{}, err
	}
	if result, ok := f.responses[url]; ok {
		return result, nil
	}
	return collaborators.FetchResult{}, fmt.Errorf("%w: %s", ErrNotScripted, url)
}

// CaptureSession implements collaborators.Fetcher.
func (f *Fetcher) CaptureSession(_ context.Context, domain string) (collaborators.SessionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.sessions[domain]; ok {
		return data, nil
	}
	return collaborators.SessionData("fake-session:" + domain), nil
}

// Calls returns every URL Fetch was called with, in order.
func (f *Fetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// MlClient is a scripted collaborators.MlClient. NLI judgments are keyed by
// "premise||hypothesis".
type MlClient struct {
	mu       sync.Mutex
	nli      map[string]collaborators.NLIResult
	claims   map[string][]collaborators.ExtractedClaim
	defaultNLI collaborators.NLIResult
}

// NewMlClient creates a scripted MlClient. Unscripted NLI pairs return
// defaultNLI (zero value: neutral, confidence 0) rather than an error,
// since tests usually only care about a handful of scripted judgments.
func NewMlClient() *MlClient {
	return &MlClient{
		nli:    make(map[string]collaborators.NLIResult),
		claims: make(map[string][]collaborators.ExtractedClaim),
		defaultNLI: collaborators.NLIResult{Label: collaborators.NLILabelNeutral, Confidence: 0},
	}
}

// ScriptNLI registers the NLIResult to return for (premise, hypothesis).
func (m *MlClient) ScriptNLI(premise, hypothesis string, result collaborators.NLIResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nli[nliKey(premise, hypothesis)] = result
}

// ScriptClaims registers the claims to return for a passage set joined by
// "||".
func (m *MlClient) ScriptClaims(passagesKey string, claims []collaborators.ExtractedClaim) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[passagesKey] = claims
}

func nliKey(premise, hypothesis string) string { return premise + "||" + hypothesis }

// ExtractClaims implements collaborators.MlClient.
func (m *MlClient) ExtractClaims(_ context.Context, passages []string, _ string) ([]collaborators.ExtractedClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ""
	for i, p := range passages {
		if i > 0 {
			key += "||"
		}
		key += p
	}
	return m.claims[key], nil
}

// NLI implements collaborators.MlClient.
func (m *MlClient) NLI(_ context.Context, premise, hypothesis string) (collaborators.NLIResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result, ok := m.nli[nliKey(premise, hypothesis)]; ok {
		return result, nil
	}
	return m.defaultNLI, nil
}

// Embed implements collaborators.MlClient with a deterministic fake
// embedding (length-1 vector holding the text length, enough to exercise
// callers without a real model).
func (m *MlClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

// Rerank implements collaborators.MlClient with a deterministic fake score
// (inverse text length, so shorter texts rank first — enough to exercise
// ordering logic in callers without a real model).
func (m *MlClient) Rerank(_ context.Context, _ string, texts []string) ([]float64, error) {
	out := make([]float64, len(texts))
	for i, t := range texts {
		out[i] = 1.0 / float64(len(t)+1)
	}
	return out, nil
}

// AcademicApi is a scripted collaborators.AcademicApi.
type AcademicApi struct {
	mu          sync.Mutex
	name        string
	searchHits  map[string][]models.Paper
	byDoi       map[string]*models.Paper
	references  map[string][]models.Paper
}

// NewAcademicApi creates a scripted AcademicApi identified by name.
func NewAcademicApi(name string) *AcademicApi {
	return &AcademicApi{
		name:       name,
		searchHits: make(map[string][]models.Paper),
		byDoi:      make(map[string]*models.Paper),
		references: make(map[string][]models.Paper),
	}
}

// ScriptSearch registers the papers to return for query.
func (a *AcademicApi) ScriptSearch(query string, papers []models.Paper) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searchHits[query] = papers
}

// ScriptDoi registers the paper to return for doi.
func (a *AcademicApi) ScriptDoi(doi string, paper *models.Paper) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byDoi[doi] = paper
}

// Name implements collaborators.AcademicApi.
func (a *AcademicApi) Name() string { return a.name }

// Search implements collaborators.AcademicApi.
func (a *AcademicApi) Search(_ context.Context, query string, limit int) ([]models.Paper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	hits := a.searchHits[query]
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// GetPaperByDoi implements collaborators.AcademicApi.
func (a *AcademicApi) GetPaperByDoi(_ context.Context, doi string) (*models.Paper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byDoi[doi], nil
}

// GetReferences implements collaborators.AcademicApi.
func (a *AcademicApi) GetReferences(_ context.Context, paperID string) ([]models.Paper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.references[paperID], nil
}
