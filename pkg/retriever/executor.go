package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/k-shibuki/lyra/pkg/collaborators"
	"github.com/k-shibuki/lyra/pkg/evidence"
	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/scheduler"
)

// ExecutorStore is the subset of *store.Store the Executor needs beyond
// what Retriever already depends on.
type ExecutorStore interface {
	Store
	LoadTask(ctx context.Context, taskID string) (*models.Task, error)
	GetFragmentByID(ctx context.Context, fragmentID string) (*models.Fragment, error)
	LoadPageByID(ctx context.Context, pageID string) (*models.Page, error)
	SetJobResult(ctx context.Context, jobID, result string) error
}

// Executor dispatches a claimed Job by kind, implementing
// scheduler.JobExecutor. It is the seam where the Scheduler's
// kind-agnostic worker loop meets the Retriever's and EvidenceGraph's
// domain logic.
type Executor struct {
	store     ExecutorStore
	retriever *Retriever
	graph     *evidence.Graph
	ml        collaborators.MlClient
	fetcher   collaborators.Fetcher
	academic  map[string]collaborators.AcademicApi
}

// NewExecutor constructs an Executor.
func NewExecutor(st ExecutorStore, retriever *Retriever, graph *evidence.Graph, ml collaborators.MlClient,
	fetcher collaborators.Fetcher, academic map[string]collaborators.AcademicApi) *Executor {
	return &Executor{store: st, retriever: retriever, graph: graph, ml: ml, fetcher: fetcher, academic: academic}
}

// Execute implements scheduler.JobExecutor.
func (e *Executor) Execute(ctx context.Context, job *models.Job) *scheduler.ExecutionResult {
	var err error
	switch job.Kind {
	case models.JobKindSearch:
		err = e.runSearch(ctx, job)
	case models.JobKindIngestURL:
		err = e.runIngestURL(ctx, job)
	case models.JobKindIngestDoi:
		err = e.runIngestDoi(ctx, job)
	case models.JobKindCitationGraph:
		err = e.runCitationGraph(ctx, job)
	case models.JobKindVerifyNLI:
		err = e.runVerifyNLI(ctx, job)
	default:
		return &scheduler.ExecutionResult{Outcome: scheduler.OutcomeTerminal, Error: fmt.Errorf("unknown job kind %q", job.Kind)}
	}

	if err == nil {
		return &scheduler.ExecutionResult{Outcome: scheduler.OutcomeCompleted}
	}
	if errors.Is(err, ErrCaptcha) {
		return &scheduler.ExecutionResult{Outcome: scheduler.OutcomeAwaitingAuth, Error: err}
	}
	if classifyRetriable(err) {
		return &scheduler.ExecutionResult{Outcome: scheduler.OutcomeRetriable, Error: err}
	}
	return &scheduler.ExecutionResult{Outcome: scheduler.OutcomeTerminal, Error: err}
}

func (e *Executor) runSearch(ctx context.Context, job *models.Job) error {
	result, err := e.retriever.Search(ctx, job.TaskID, job.ID, job.Payload, models.SearchOptions{})
	if err != nil {
		return err
	}
	resultJSON, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return marshalErr
	}
	return e.store.SetJobResult(ctx, job.ID, string(resultJSON))
}

// runIngestURL fetches job.Payload as a URL, persists it as a web page and
// a single paragraph fragment (marked primary — it's the document's own
// direct text, not a downstream citation), and enqueues verify_nli.
func (e *Executor) runIngestURL(ctx context.Context, job *models.Job) error {
	url := job.Payload
	result, err := e.fetcher.Fetch(ctx, url, collaborators.FetchModeHTTP, nil)
	if err != nil {
		return err
	}
	if result.CaptchaKind != "" {
		return ErrCaptcha
	}

	p, err := upsertWebPage(ctx, e.store, url)
	if err != nil {
		return err
	}

	frag, err := e.graph.AddFragment(ctx, &models.Fragment{
		PageID:       p.ID,
		FragmentType: models.FragmentTypeParagraph,
		Text:         result.Text,
		SourceURL:    url,
		IsPrimary:    true,
	})
	if err != nil {
		return err
	}

	return e.enqueueVerifyNLI(ctx, job.TaskID, frag.ID)
}

func (e *Executor) runIngestDoi(ctx context.Context, job *models.Job) error {
	doi := job.Payload
	for _, api := range e.academic {
		paper, err := api.GetPaperByDoi(ctx, doi)
		if err != nil || paper == nil {
			continue
		}
		page, err := upsertAcademicPage(ctx, e.store, paper)
		if err != nil {
			return err
		}
		if paper.Abstract == "" {
			return nil
		}
		frag, err := e.graph.AddFragment(ctx, &models.Fragment{
			PageID:       page.ID,
			FragmentType: models.FragmentTypeAbstract,
			Text:         paper.Abstract,
			SourceURL:    page.URL,
			IsPrimary:    true,
		})
		if err != nil {
			return err
		}
		return e.enqueueVerifyNLI(ctx, job.TaskID, frag.ID)
	}
	return fmt.Errorf("no academic API resolved doi %s", doi)
}

// runCitationGraph walks job.Payload (a page ID) forward one hop: for
// academic pages, asks every academic API for that paper's references,
// upserts a page for each reference that carries an abstract and records a
// cites edge to it. References without an abstract are skipped.
func (e *Executor) runCitationGraph(ctx context.Context, job *models.Job) error {
	page, err := e.store.LoadPageByID(ctx, job.Payload)
	if err != nil {
		return err
	}
	if page.PaperMetadata == nil || page.PaperMetadata.PaperID == "" {
		return nil
	}

	for _, api := range e.academic {
		refs, err := api.GetReferences(ctx, page.PaperMetadata.PaperID)
		if err != nil {
			continue
		}
		for i := range refs {
			if refs[i].Abstract == "" {
				continue
			}
			targetPage, err := upsertAcademicPage(ctx, e.store, &refs[i])
			if err != nil {
				continue
			}
			if err := e.graph.AddCitation(ctx, job.TaskID, page, targetPage); err != nil {
				return err
			}
		}
	}
	return nil
}

// runVerifyNLI extracts claims from a fragment against the task's
// hypothesis, judges each extracted claim's relation to the fragment's
// text, and records the resulting fragment->claim edge.
func (e *Executor) runVerifyNLI(ctx context.Context, job *models.Job) error {
	fragmentID := job.Payload
	frag, err := e.store.GetFragmentByID(ctx, fragmentID)
	if err != nil {
		return err
	}
	task, err := e.store.LoadTask(ctx, job.TaskID)
	if err != nil {
		return err
	}
	page, err := e.store.LoadPageByID(ctx, frag.PageID)
	if err != nil {
		return err
	}

	extracted, err := e.ml.ExtractClaims(ctx, []string{frag.Text}, task.Hypothesis)
	if err != nil {
		return err
	}

	for _, ec := range extracted {
		claim := &models.Claim{
			ID:                uuid.NewString(),
			TaskID:            job.TaskID,
			Text:              ec.Text,
			SourceFragmentIDs: []string{fragmentID},
		}
		sources := []models.ClaimSource{{ClaimID: claim.ID, URL: frag.SourceURL, IsPrimary: frag.IsPrimary}}
		if err := e.graph.AddClaim(ctx, claim, sources); err != nil {
			return err
		}

		nli, err := e.ml.NLI(ctx, frag.Text, ec.Text)
		if err != nil {
			return err
		}

		edge := &models.Edge{
			TaskID:               job.TaskID,
			SourceType:           models.EdgeEndpointFragment,
			SourceID:             fragmentID,
			TargetType:           models.EdgeEndpointClaim,
			TargetID:             claim.ID,
			Relation:             models.EdgeRelation(nli.Label),
			NLIEdgeConfidence:    nli.Confidence,
			SourceDomainCategory: page.DomainCategory,
		}
		if err := e.graph.AddEdge(ctx, edge, page.DomainCategory); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) enqueueVerifyNLI(ctx context.Context, taskID, fragmentID string) error {
	return e.retriever.enqueueVerifyNLI(ctx, taskID, fragmentID)
}

// upsertWebPage records a plain web page, inferring its domain category as
// unknown — domain classification overrides live in config.DomainRegistry
// and are applied by PolicyEngine, not at ingest time.
func upsertWebPage(ctx context.Context, st ExecutorStore, url string) (*models.Page, error) {
	return st.UpsertPage(ctx, &models.Page{
		URL:            url,
		Domain:         domainOf(url),
		DomainCategory: models.DomainCategoryUnknown,
		PageType:       models.PageTypeWeb,
	})
}

func upsertAcademicPage(ctx context.Context, st ExecutorStore, paper *models.Paper) (*models.Page, error) {
	return st.UpsertPage(ctx, &models.Page{
		URL:            paperURL(paper),
		Domain:         domainOf(paperURL(paper)),
		DomainCategory: models.DomainCategoryAcademic,
		Title:          paper.Title,
		PageType:       models.PageTypeAcademicPaper,
		PaperMetadata: &models.PaperMetadata{
			PaperID: paper.PaperID, Doi: paper.Doi, Venue: paper.Venue,
			Year: paper.Year, CitationCount: paper.CitationCount, IsOpenAccess: paper.IsOpenAccess,
		},
	})
}

// classifyRetriable reports whether err belongs to a retriable class
// (network/timeout/5xx/transient rate limit) per spec.md's retry policy.
// 4xx other than 429 is terminal; anything not recognized defaults to
// retriable, since a transient infrastructure hiccup is far more likely
// than a permanently malformed request reaching this far into the
// pipeline.
func classifyRetriable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, terminal := range []string{"400 ", "401 ", "403 ", "404 ", "422 ", "bad request", "not found", "forbidden", "unauthorized"} {
		if strings.Contains(msg, terminal) {
			return false
		}
	}
	return true
}
