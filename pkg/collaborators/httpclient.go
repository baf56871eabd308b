package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/k-shibuki/lyra/pkg/models"
)

// These adapters are the thin RPC clients a deployment wires up to satisfy
// Fetcher and MlClient against whatever external process actually performs
// browser automation or ML inference (§11.1 — out of scope for this
// module). They speak a small JSON-over-HTTP protocol; nothing here
// implements the fetching or inference itself.

// HTTPFetcher calls an external fetch service over HTTP. The service is
// expected to expose POST {baseURL}/fetch and POST {baseURL}/session.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher constructs an HTTPFetcher against baseURL.
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type fetchRequest struct {
	URL     string            `json:"url"`
	Mode    FetchMode         `json:"mode"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (f *HTTPFetcher) Fetch(ctx context.Context, fetchURL string, mode FetchMode, headers map[string]string) (FetchResult, error) {
	var result FetchResult
	err := f.postJSON(ctx, "/fetch", fetchRequest{URL: fetchURL, Mode: mode, Headers: headers}, &result)
	return result, err
}

type sessionRequest struct {
	Domain string `json:"domain"`
}

func (f *HTTPFetcher) CaptureSession(ctx context.Context, domain string) (SessionData, error) {
	var data []byte
	err := f.postJSON(ctx, "/session", sessionRequest{Domain: domain}, &data)
	return SessionData(data), err
}

func (f *HTTPFetcher) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling fetch service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fetch service %s returned %d: %s", path, resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// HTTPMlClient calls an external ML inference service over HTTP. The
// service is expected to expose POST {baseURL}/extract_claims, /nli,
// /embed and /rerank.
type HTTPMlClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMlClient constructs an HTTPMlClient against baseURL.
func NewHTTPMlClient(baseURL string, client *http.Client) *HTTPMlClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPMlClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type extractClaimsRequest struct {
	Passages   []string `json:"passages"`
	Hypothesis string   `json:"hypothesis"`
}

func (m *HTTPMlClient) ExtractClaims(ctx context.Context, passages []string, hypothesis string) ([]ExtractedClaim, error) {
	var out []ExtractedClaim
	err := m.postJSON(ctx, "/extract_claims", extractClaimsRequest{Passages: passages, Hypothesis: hypothesis}, &out)
	return out, err
}

type nliRequest struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
}

func (m *HTTPMlClient) NLI(ctx context.Context, premise, hypothesis string) (NLIResult, error) {
	var out NLIResult
	err := m.postJSON(ctx, "/nli", nliRequest{Premise: premise, Hypothesis: hypothesis}, &out)
	return out, err
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

func (m *HTTPMlClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := m.postJSON(ctx, "/embed", embedRequest{Texts: texts}, &out)
	return out, err
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

func (m *HTTPMlClient) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	var out []float64
	err := m.postJSON(ctx, "/rerank", rerankRequest{Query: query, Texts: texts}, &out)
	return out, err
}

func (m *HTTPMlClient) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ml service %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ml service %s returned %d: %s", path, resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}

// semanticScholarAPI adapts the Semantic Scholar Graph API to AcademicApi.
// It is the one academic collaborator this module fully implements, since
// its REST shape is public and stable, unlike the headless-browser and
// local-model collaborators above.
type semanticScholarAPI struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSemanticScholarAPI constructs an AcademicApi backed by the Semantic
// Scholar Graph API. apiKey may be empty (the public API allows
// unauthenticated, more heavily rate-limited access).
func NewSemanticScholarAPI(name, baseURL, apiKey string, client *http.Client) AcademicApi {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &semanticScholarAPI{name: name, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (a *semanticScholarAPI) Name() string { return a.name }

const semanticScholarFields = "paperId,externalIds,title,abstract,venue,year,citationCount,isOpenAccess,url,authors"

type s2Paper struct {
	PaperID       string            `json:"paperId"`
	ExternalIDs   map[string]string `json:"externalIds"`
	Title         string            `json:"title"`
	Abstract      string            `json:"abstract"`
	Venue         string            `json:"venue"`
	Year          int               `json:"year"`
	CitationCount int               `json:"citationCount"`
	IsOpenAccess  bool              `json:"isOpenAccess"`
	URL           string            `json:"url"`
	Authors       []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

func (p s2Paper) toModel() models.Paper {
	authors := make([]string, 0, len(p.Authors))
	for _, au := range p.Authors {
		authors = append(authors, au.Name)
	}
	return models.Paper{
		PaperID:       p.PaperID,
		Doi:           p.ExternalIDs["DOI"],
		PMID:          p.ExternalIDs["PubMed"],
		ArxivID:       p.ExternalIDs["ArXiv"],
		CRID:          p.ExternalIDs["CorpusId"],
		Title:         p.Title,
		Abstract:      p.Abstract,
		Venue:         p.Venue,
		Year:          p.Year,
		CitationCount: p.CitationCount,
		IsOpenAccess:  p.IsOpenAccess,
		URL:           p.URL,
		Authors:       authors,
	}
}

func (a *semanticScholarAPI) Search(ctx context.Context, query string, limit int) ([]models.Paper, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("fields", semanticScholarFields)
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	var resp struct {
		Data []s2Paper `json:"data"`
	}
	if err := a.get(ctx, "/graph/v1/paper/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]models.Paper, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, p.toModel())
	}
	return out, nil
}

func (a *semanticScholarAPI) GetPaperByDoi(ctx context.Context, doi string) (*models.Paper, error) {
	var p s2Paper
	if err := a.get(ctx, "/graph/v1/paper/DOI:"+url.PathEscape(doi)+"?fields="+semanticScholarFields, &p); err != nil {
		return nil, err
	}
	model := p.toModel()
	return &model, nil
}

func (a *semanticScholarAPI) GetReferences(ctx context.Context, paperID string) ([]models.Paper, error) {
	var resp struct {
		Data []struct {
			CitedPaper s2Paper `json:"citedPaper"`
		} `json:"data"`
	}
	path := "/graph/v1/paper/" + url.PathEscape(paperID) + "/references?fields=" + semanticScholarFields
	if err := a.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Paper, 0, len(resp.Data))
	for _, ref := range resp.Data {
		out = append(out, ref.CitedPaper.toModel())
	}
	return out, nil
}

func (a *semanticScholarAPI) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("x-api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling semantic scholar %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("semantic scholar %s returned %d: %s", path, resp.StatusCode, msg)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
