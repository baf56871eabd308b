// Package collaborators defines the external contracts Lyra depends on but
// does not implement: headless browser fetching, ML inference, and academic
// search APIs. Per spec.md §1/§6 these are out of scope for the core — only
// their Go interfaces live here, so the Scheduler, Retriever and
// EvidenceGraph can depend on them structurally.
package collaborators

import (
	"context"

	"github.com/k-shibuki/lyra/pkg/models"
)

// FetchMode selects how a Fetcher retrieves a URL.
type FetchMode string

// Fetch modes.
const (
	FetchModeHTTP    FetchMode = "http"
	FetchModeBrowser FetchMode = "browser"
)

// CaptchaKind identifies the specific auth wall a fetch hit, mirroring
// models.AuthType.
type CaptchaKind string

// FetchResult is what a Fetcher returns for one URL.
type FetchResult struct {
	Status       int
	HTML         string
	Text         string
	ETag         string
	LastModified string
	CaptchaKind  CaptchaKind // empty unless an auth wall was hit
}

// SessionData is opaque captured cookies/headers for a domain, reused by
// InterventionQueue once a human has cleared an auth wall.
type SessionData []byte

// Fetcher performs the actual network retrieval (headless browser
// automation and HTML-to-text extraction). Implemented outside this
// module; Lyra only calls it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mode FetchMode, headers map[string]string) (FetchResult, error)
	CaptureSession(ctx context.Context, domain string) (SessionData, error)
}

// NLILabel is the classification an MlClient assigns to a (fragment, claim)
// pair.
type NLILabel string

// NLI labels.
const (
	NLILabelSupports NLILabel = "supports"
	NLILabelRefutes  NLILabel = "refutes"
	NLILabelNeutral  NLILabel = "neutral"
)

// NLIResult is the output of one NLI judgment.
type NLIResult struct {
	Label      NLILabel
	Confidence float64
}

// ExtractedClaim is one claim an MlClient pulled out of a passage.
type ExtractedClaim struct {
	Text string
}

// MlClient performs embedding, reranking, NLI and claim-extraction
// inference. Implemented outside this module (a local model server); Lyra
// only calls it.
type MlClient interface {
	ExtractClaims(ctx context.Context, passages []string, hypothesis string) ([]ExtractedClaim, error)
	NLI(ctx context.Context, premise, hypothesis string) (NLIResult, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

// AcademicApi performs academic-paper lookup against one configured
// scholarly metadata service.
type AcademicApi interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]models.Paper, error)
	GetPaperByDoi(ctx context.Context, doi string) (*models.Paper, error)
	GetReferences(ctx context.Context, paperID string) ([]models.Paper, error)
}
