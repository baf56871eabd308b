// Package protocol implements the Protocol facade: the external tool
// interface an AI client drives, exposed as an MCP server over stdio.
// Every handler builds its response from an explicit output struct —
// that struct's field set IS the per-operation allowlist (§6's "response
// whitelisting"): nothing not named on the struct can leave the process,
// and every field the spec requires a response to always carry is simply
// never made optional.
package protocol

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/k-shibuki/lyra/pkg/evidence"
	"github.com/k-shibuki/lyra/pkg/feedback"
	"github.com/k-shibuki/lyra/pkg/intervention"
	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/scheduler"
)

// Store is the subset of *store.Store the Protocol facade calls directly,
// narrowed to an interface at this package's boundary like every other
// component.
type Store interface {
	CreateTask(ctx context.Context, t *models.Task) error
	LoadTask(ctx context.Context, taskID string) (*models.Task, error)
	WaitForStatusChange(ctx context.Context, taskID string, wait time.Duration) (*models.Task, error)
	ListJobsForTask(ctx context.Context, taskID string) ([]models.Job, error)
	EnqueueJob(ctx context.Context, j *models.Job) (*models.Job, bool, error)
	GetFragmentByID(ctx context.Context, fragmentID string) (*models.Fragment, error)
	LoadPageByID(ctx context.Context, pageID string) (*models.Page, error)
}

// TaskStopper is the subset of *scheduler.Pool stop_task drives.
type TaskStopper interface {
	StopTask(ctx context.Context, taskID string, scope scheduler.StopTaskScope) (int, error)
}

// Defaults supplies fallback values create_task applies when the caller
// omits a budget.
type Defaults struct {
	PagesLimit int
	TimeLimitS int
}

// Server is the Protocol facade: one MCP server instance wired to every
// component an external AI client's tool calls ultimately reach.
type Server struct {
	store         Store
	pool          TaskStopper
	graph         *evidence.Graph
	feedback      *feedback.Bus
	interventions *intervention.Queue
	defaults      Defaults
}

// New constructs a Server. Any dependency may be exercised by more than one
// tool handler; none is optional.
func New(st Store, pool TaskStopper, graph *evidence.Graph, fb *feedback.Bus, interventions *intervention.Queue, defaults Defaults) *Server {
	return &Server{store: st, pool: pool, graph: graph, feedback: fb, interventions: interventions, defaults: defaults}
}

func newID() string { return uuid.NewString() }

func decodeSessionData(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}
