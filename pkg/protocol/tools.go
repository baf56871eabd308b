package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/k-shibuki/lyra/pkg/models"
	"github.com/k-shibuki/lyra/pkg/scheduler"
	"github.com/k-shibuki/lyra/pkg/store"
)

// Serve runs the Protocol facade as an MCP server on stdio, grounded on the
// teacher stack's MCP-client registration pattern — here Lyra itself plays
// the server role.
func (s *Server) Serve(ctx context.Context, version string) error {
	server := mcp.NewServer(&mcp.Implementation{Name: "lyra", Version: version}, nil)
	s.registerTools(server)
	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools(server *mcp.Server) {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	boolPtr := func(b bool) *bool { return &b }
	writeNonDestructive := &mcp.ToolAnnotations{DestructiveHint: boolPtr(false), IdempotentHint: true}
	writeDestructive := &mcp.ToolAnnotations{DestructiveHint: boolPtr(true)}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_task",
		Description: "Start a new research task against a hypothesis. Returns the new task_id in the exploring state.\n\nArgs:\n  hypothesis: The claim or question to investigate\n  pages_limit: Optional max pages to fetch (falls back to the configured default)\n  time_limit_s: Optional wall-clock budget in seconds (falls back to the configured default)",
		Annotations: writeNonDestructive,
	}, s.handleCreateTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_targets",
		Description: "Seed a task with search queries, DOIs or URLs to investigate. Each target becomes one job; targets already queued for this task are skipped as duplicates.\n\nArgs:\n  task_id: The task to queue work against\n  targets: List of {kind: query|doi|url, text|value}",
		Annotations: writeNonDestructive,
	}, s.handleQueueTargets)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_status",
		Description: "Check a task's progress: per-search pagination/harvest stats, pending auth-wall count, and overall status. Set wait_seconds to long-poll for the next status change instead of polling.\n\nArgs:\n  task_id: The task to report on\n  wait_seconds: Optional long-poll duration (0 returns immediately)",
		Annotations: readOnly,
	}, s.handleGetStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_materials",
		Description: "Retrieve the claims, fragments and (optionally) the full evidence graph gathered so far for a task, with each claim's Bayesian confidence/uncertainty/controversy and provenance.\n\nArgs:\n  task_id: The task to read materials from\n  include_graph: Also include the raw evidence_graph{nodes,edges}",
		Annotations: readOnly,
	}, s.handleGetMaterials)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "feedback",
		Description: "Apply a human correction to the evidence graph: flip an edge's relation, annotate a claim, or reclassify a domain's trust category.\n\nArgs:\n  action: edge_correct|claim_mark|domain_reclassify\n  target_id: The edge_id, claim_id or domain this feedback targets\n  new_relation: Required for edge_correct (supports|refutes|neutral)\n  note: Required for claim_mark\n  category: Required for domain_reclassify\n  recompute: For domain_reclassify, whether to refold affected claims' posteriors",
		Annotations: writeNonDestructive,
	}, s.handleFeedback)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_auth_queue",
		Description: "List every pending human-in-the-loop auth request (CAPTCHA/login wall) blocking a task's jobs.\n\nArgs:\n  task_id: The task to filter pending interventions by",
		Annotations: readOnly,
	}, s.handleGetAuthQueue)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_auth",
		Description: "Resolve a queued auth request. Supplying session_data (base64) captures the cleared session and requeues every job parked on that domain; omitting it records the intervention as skipped.\n\nArgs:\n  queue_id: The intervention to resolve\n  session_data: Optional base64-encoded captured cookies/headers",
		Annotations: writeNonDestructive,
	}, s.handleResolveAuth)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stop_task",
		Description: "Cancel a task's outstanding jobs. scope=all_jobs cancels everything including in-flight work; scope=target_queue_only leaves verify_nli/citation_graph jobs running so evidence synthesis for already-ingested material can finish.\n\nArgs:\n  task_id: The task to stop\n  scope: all_jobs|target_queue_only",
		Annotations: writeDestructive,
	}, s.handleStopTask)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding response: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

func errResult(ok bool, message string) (*mcp.CallToolResult, any, error) {
	return jsonResult(struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}{OK: ok, Error: message})
}

// --- create_task ---

type createTaskInput struct {
	Hypothesis string `json:"hypothesis" jsonschema:"The claim or question to investigate"`
	PagesLimit int    `json:"pages_limit,omitempty" jsonschema:"Max pages to fetch"`
	TimeLimitS int    `json:"time_limit_s,omitempty" jsonschema:"Wall-clock budget in seconds"`
}

type createTaskOutput struct {
	OK     bool              `json:"ok"`
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

func (s *Server) handleCreateTask(ctx context.Context, _ *mcp.CallToolRequest, input createTaskInput) (*mcp.CallToolResult, any, error) {
	if input.Hypothesis == "" {
		return errResult(false, "hypothesis is required")
	}

	pagesLimit := input.PagesLimit
	if pagesLimit <= 0 {
		pagesLimit = s.defaults.PagesLimit
	}
	timeLimitS := input.TimeLimitS
	if timeLimitS <= 0 {
		timeLimitS = s.defaults.TimeLimitS
	}

	task := &models.Task{
		ID:         newID(),
		Hypothesis: input.Hypothesis,
		Status:     models.TaskStatusExploring,
		Budget:     models.Budget{PagesLimit: pagesLimit, TimeLimitS: timeLimitS},
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return errResult(false, err.Error())
	}
	return jsonResult(createTaskOutput{OK: true, TaskID: task.ID, Status: task.Status})
}

// --- queue_targets ---

type targetInput struct {
	Kind  models.TargetKind `json:"kind" jsonschema:"query|doi|url"`
	Text  string            `json:"text,omitempty" jsonschema:"Search query text, required for kind=query"`
	Value string            `json:"value,omitempty" jsonschema:"DOI or URL value, required for kind=doi|url"`
}

type queueTargetsInput struct {
	TaskID  string        `json:"task_id" jsonschema:"The task to queue work against"`
	Targets []targetInput `json:"targets" jsonschema:"Targets to queue"`
}

type queueTargetsOutput struct {
	OK                bool     `json:"ok"`
	JobIDs            []string `json:"job_ids"`
	DuplicatesSkipped int      `json:"duplicates_skipped"`
}

func targetJobKindPayload(t targetInput) (models.JobKind, string, error) {
	switch t.Kind {
	case models.TargetKindQuery:
		if t.Text == "" {
			return "", "", fmt.Errorf("target kind=query requires text")
		}
		return models.JobKindSearch, t.Text, nil
	case models.TargetKindDoi:
		if t.Value == "" {
			return "", "", fmt.Errorf("target kind=doi requires value")
		}
		return models.JobKindIngestDoi, t.Value, nil
	case models.TargetKindURL:
		if t.Value == "" {
			return "", "", fmt.Errorf("target kind=url requires value")
		}
		return models.JobKindIngestURL, t.Value, nil
	default:
		return "", "", fmt.Errorf("unknown target kind %q", t.Kind)
	}
}

func (s *Server) handleQueueTargets(ctx context.Context, _ *mcp.CallToolRequest, input queueTargetsInput) (*mcp.CallToolResult, any, error) {
	var jobIDs []string
	duplicates := 0

	for _, t := range input.Targets {
		kind, payload, err := targetJobKindPayload(t)
		if err != nil {
			return errResult(false, err.Error())
		}
		job, enqueued, err := s.store.EnqueueJob(ctx, &models.Job{TaskID: input.TaskID, Kind: kind, Payload: payload})
		if err != nil {
			return errResult(false, err.Error())
		}
		if !enqueued {
			duplicates++
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	return jsonResult(queueTargetsOutput{OK: true, JobIDs: jobIDs, DuplicatesSkipped: duplicates})
}

// --- get_status ---

type getStatusInput struct {
	TaskID      string `json:"task_id" jsonschema:"The task to report on"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"Long-poll duration in seconds"`
}

type searchStatus struct {
	ID                string          `json:"id"`
	Query             string          `json:"query"`
	Status            models.JobState `json:"status"`
	PagesFetched      int             `json:"pages_fetched"`
	UsefulFragments   int             `json:"useful_fragments"`
	HarvestRate       float64         `json:"harvest_rate"`
	SatisfactionScore float64         `json:"satisfaction_score"`
	HasPrimarySource  bool            `json:"has_primary_source"`
}

type authQueueSummary struct {
	PendingCount int      `json:"pending_count"`
	Domains      []string `json:"domains"`
}

type statusMetrics struct {
	JobsTotal     int `json:"jobs_total"`
	JobsCompleted int `json:"jobs_completed"`
	JobsFailed    int `json:"jobs_failed"`
	JobsRunning   int `json:"jobs_running"`
}

type getStatusOutput struct {
	OK        bool              `json:"ok"`
	Status    models.TaskStatus `json:"status"`
	Searches  []searchStatus    `json:"searches"`
	Metrics   statusMetrics     `json:"metrics"`
	Budget    models.Budget     `json:"budget"`
	AuthQueue authQueueSummary  `json:"auth_queue"`
	Warnings  []string          `json:"warnings"`
}

func (s *Server) handleGetStatus(ctx context.Context, _ *mcp.CallToolRequest, input getStatusInput) (*mcp.CallToolResult, any, error) {
	wait := time.Duration(input.WaitSeconds) * time.Second
	task, err := s.store.WaitForStatusChange(ctx, input.TaskID, wait)
	if err != nil {
		return errResult(false, err.Error())
	}

	jobs, err := s.store.ListJobsForTask(ctx, input.TaskID)
	if err != nil {
		return errResult(false, err.Error())
	}

	var searches []searchStatus
	metrics := statusMetrics{}
	var warnings []string
	for _, j := range jobs {
		metrics.JobsTotal++
		switch j.State {
		case models.JobStateCompleted:
			metrics.JobsCompleted++
		case models.JobStateFailed:
			metrics.JobsFailed++
			if j.LastError != "" {
				warnings = append(warnings, fmt.Sprintf("job %s failed: %s", j.ID, j.LastError))
			}
		case models.JobStateRunning:
			metrics.JobsRunning++
		}

		if j.Kind != models.JobKindSearch {
			continue
		}
		st := searchStatus{ID: j.ID, Query: j.Payload, Status: j.State}
		if j.Result != "" {
			var result models.SearchResult
			if err := json.Unmarshal([]byte(j.Result), &result); err == nil {
				st.PagesFetched = result.PagesFetched
				st.UsefulFragments = result.UsefulFragments
				st.HarvestRate = result.HarvestRate
				st.SatisfactionScore = result.NoveltyScore
				st.HasPrimarySource = result.HasPrimarySource
			}
		}
		searches = append(searches, st)
	}

	pending, err := s.interventions.Pending(ctx)
	if err != nil {
		return errResult(false, err.Error())
	}
	authQueue := authQueueSummary{}
	for _, iv := range pending {
		if iv.TaskID != input.TaskID {
			continue
		}
		authQueue.PendingCount++
		authQueue.Domains = append(authQueue.Domains, iv.Domain)
	}

	return jsonResult(getStatusOutput{
		OK: true, Status: task.Status, Searches: searches, Metrics: metrics,
		Budget: task.Budget, AuthQueue: authQueue, Warnings: warnings,
	})
}

// --- get_materials ---

type getMaterialsInput struct {
	TaskID       string `json:"task_id" jsonschema:"The task to read materials from"`
	IncludeGraph bool   `json:"include_graph,omitempty" jsonschema:"Also include the raw evidence graph"`
}

type claimSourceOutput struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	IsPrimary bool   `json:"is_primary"`
}

type claimOutput struct {
	ID             string              `json:"id"`
	Text           string              `json:"text"`
	Confidence     float64             `json:"confidence"`
	Uncertainty    float64             `json:"uncertainty"`
	Controversy    float64             `json:"controversy"`
	EvidenceCount  int                 `json:"evidence_count"`
	EvidenceYears  []int               `json:"evidence_years"`
	HasRefutation  bool                `json:"has_refutation"`
	Sources        []claimSourceOutput `json:"sources"`
}

type fragmentOutput struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
	Context   string `json:"context,omitempty"`
}

type evidenceGraphOutput struct {
	Nodes []any `json:"nodes"`
	Edges []any `json:"edges"`
}

type materialsSummary struct {
	ClaimCount    int `json:"claim_count"`
	FragmentCount int `json:"fragment_count"`
}

type getMaterialsOutput struct {
	OK            bool                 `json:"ok"`
	Claims        []claimOutput        `json:"claims"`
	Fragments     []fragmentOutput     `json:"fragments"`
	EvidenceGraph *evidenceGraphOutput `json:"evidence_graph,omitempty"`
	Summary       materialsSummary     `json:"summary"`
}

func (s *Server) handleGetMaterials(ctx context.Context, _ *mcp.CallToolRequest, input getMaterialsInput) (*mcp.CallToolResult, any, error) {
	claims, edges, err := s.graph.LoadFromDB(ctx, input.TaskID)
	if err != nil {
		return errResult(false, err.Error())
	}

	fragmentPage := func(fragmentID string) (string, bool) {
		frag, err := s.store.GetFragmentByID(ctx, fragmentID)
		if err != nil {
			return "", false
		}
		return frag.PageID, true
	}

	claimOutputs := make([]claimOutput, 0, len(claims))
	fragmentIDsSeen := make(map[string]struct{})
	var fragments []fragmentOutput

	for i := range claims {
		c := claims[i]
		evidence, err := s.graph.GetClaimEvidence(ctx, c.ID, fragmentPage)
		if err != nil {
			return errResult(false, err.Error())
		}

		hasRefutation := false
		years := make(map[int]struct{})
		for _, e := range evidence.Edges {
			if e.Relation == models.EdgeRelationRefutes {
				hasRefutation = true
			}
			if e.SourceType != models.EdgeEndpointFragment {
				continue
			}
			frag, err := s.store.GetFragmentByID(ctx, e.SourceID)
			if err != nil {
				continue
			}
			if _, seen := fragmentIDsSeen[frag.ID]; !seen {
				fragmentIDsSeen[frag.ID] = struct{}{}
				fragments = append(fragments, fragmentOutput{
					ID: frag.ID, Text: frag.Text, SourceURL: frag.SourceURL, Context: frag.HeadingContext,
				})
			}
			page, err := s.store.LoadPageByID(ctx, frag.PageID)
			if err == nil && page.PaperMetadata != nil && page.PaperMetadata.Year != 0 {
				years[page.PaperMetadata.Year] = struct{}{}
			}
		}
		yearList := make([]int, 0, len(years))
		for y := range years {
			yearList = append(yearList, y)
		}

		sources := make([]claimSourceOutput, 0, len(evidence.Sources))
		for _, src := range evidence.Sources {
			sources = append(sources, claimSourceOutput{URL: src.URL, Title: src.Title, IsPrimary: src.IsPrimary})
		}

		claimOutputs = append(claimOutputs, claimOutput{
			ID: c.ID, Text: c.Text, Confidence: c.Confidence(), Uncertainty: c.Uncertainty(),
			Controversy: c.Controversy(), EvidenceCount: len(evidence.Edges), EvidenceYears: yearList,
			HasRefutation: hasRefutation, Sources: sources,
		})
	}

	out := getMaterialsOutput{
		OK: true, Claims: claimOutputs, Fragments: fragments,
		Summary: materialsSummary{ClaimCount: len(claimOutputs), FragmentCount: len(fragments)},
	}
	if input.IncludeGraph {
		nodes := make([]any, 0, len(claims))
		for _, c := range claims {
			nodes = append(nodes, map[string]any{"type": "claim", "id": c.ID, "text": c.Text})
		}
		edgeNodes := make([]any, 0, len(edges))
		for _, e := range edges {
			edgeNodes = append(edgeNodes, map[string]any{
				"source": e.SourceID, "target": e.TargetID, "relation": e.Relation,
			})
		}
		out.EvidenceGraph = &evidenceGraphOutput{Nodes: nodes, Edges: edgeNodes}
	}
	return jsonResult(out)
}

// --- feedback ---

type feedbackInput struct {
	Action      string               `json:"action" jsonschema:"edge_correct|claim_mark|domain_reclassify"`
	TargetID    string               `json:"target_id" jsonschema:"The edge_id, claim_id or domain this feedback targets"`
	NewRelation models.EdgeRelation  `json:"new_relation,omitempty" jsonschema:"Required for edge_correct"`
	Note        string               `json:"note,omitempty" jsonschema:"Required for claim_mark"`
	Category    models.DomainCategory `json:"category,omitempty" jsonschema:"Required for domain_reclassify"`
	Recompute   bool                 `json:"recompute,omitempty" jsonschema:"For domain_reclassify, whether to refold affected claims"`
}

type feedbackOutput struct {
	OK              bool `json:"ok"`
	Accepted        bool `json:"accepted"`
	AffectedClaims  int  `json:"affected_claims"`
}

func (s *Server) handleFeedback(ctx context.Context, _ *mcp.CallToolRequest, input feedbackInput) (*mcp.CallToolResult, any, error) {
	switch store.FeedbackAction(input.Action) {
	case store.FeedbackActionEdgeCorrect:
		if err := s.feedback.EdgeCorrect(ctx, input.TargetID, input.NewRelation); err != nil {
			return errResult(false, err.Error())
		}
		return jsonResult(feedbackOutput{OK: true, Accepted: true, AffectedClaims: 1})
	case store.FeedbackActionClaimMark:
		if err := s.feedback.ClaimMark(ctx, input.TargetID, input.Note); err != nil {
			return errResult(false, err.Error())
		}
		return jsonResult(feedbackOutput{OK: true, Accepted: true, AffectedClaims: 1})
	case store.FeedbackActionDomainReclassify:
		affected, err := s.feedback.DomainReclassify(ctx, input.TargetID, input.Category, input.Recompute)
		if err != nil {
			return errResult(false, err.Error())
		}
		return jsonResult(feedbackOutput{OK: true, Accepted: true, AffectedClaims: affected})
	default:
		return errResult(false, fmt.Sprintf("unknown feedback action %q", input.Action))
	}
}

// --- get_auth_queue ---

type getAuthQueueInput struct {
	TaskID string `json:"task_id" jsonschema:"The task to filter pending interventions by"`
}

type pendingAuthOutput struct {
	QueueID  string            `json:"queue_id"`
	URL      string            `json:"url"`
	Domain   string            `json:"domain"`
	AuthType models.AuthType   `json:"auth_type"`
}

type getAuthQueueOutput struct {
	OK      bool                `json:"ok"`
	Pending []pendingAuthOutput `json:"pending"`
}

func (s *Server) handleGetAuthQueue(ctx context.Context, _ *mcp.CallToolRequest, input getAuthQueueInput) (*mcp.CallToolResult, any, error) {
	all, err := s.interventions.Pending(ctx)
	if err != nil {
		return errResult(false, err.Error())
	}

	out := make([]pendingAuthOutput, 0, len(all))
	for _, iv := range all {
		if input.TaskID != "" && iv.TaskID != input.TaskID {
			continue
		}
		out = append(out, pendingAuthOutput{QueueID: iv.ID, URL: iv.URL, Domain: iv.Domain, AuthType: iv.AuthType})
	}
	return jsonResult(getAuthQueueOutput{OK: true, Pending: out})
}

// --- resolve_auth ---

type resolveAuthInput struct {
	QueueID     string `json:"queue_id" jsonschema:"The intervention to resolve"`
	SessionData string `json:"session_data,omitempty" jsonschema:"Optional base64-encoded captured cookies/headers"`
}

type resolveAuthOutput struct {
	OK            bool `json:"ok"`
	RequeuedJobs  int  `json:"requeued_jobs"`
}

func (s *Server) handleResolveAuth(ctx context.Context, _ *mcp.CallToolRequest, input resolveAuthInput) (*mcp.CallToolResult, any, error) {
	iv, err := s.interventions.Get(ctx, input.QueueID)
	if err != nil {
		return errResult(false, err.Error())
	}

	if input.SessionData == "" {
		if err := s.interventions.Skip(ctx, input.QueueID); err != nil {
			return errResult(false, err.Error())
		}
		return jsonResult(resolveAuthOutput{OK: true, RequeuedJobs: 0})
	}

	sessionData, err := decodeSessionData(input.SessionData)
	if err != nil {
		return errResult(false, "invalid session_data: "+err.Error())
	}
	requeued, err := s.interventions.Complete(ctx, input.QueueID, iv.Domain, sessionData)
	if err != nil {
		return errResult(false, err.Error())
	}
	return jsonResult(resolveAuthOutput{OK: true, RequeuedJobs: requeued})
}

// --- stop_task ---

type stopTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"The task to stop"`
	Scope  string `json:"scope" jsonschema:"all_jobs|target_queue_only"`
}

type stopTaskOutput struct {
	OK            bool `json:"ok"`
	CancelledJobs int  `json:"cancelled_jobs"`
}

func (s *Server) handleStopTask(ctx context.Context, _ *mcp.CallToolRequest, input stopTaskInput) (*mcp.CallToolResult, any, error) {
	scope := scheduler.StopTaskScopeAllJobs
	if input.Scope == string(scheduler.StopTaskScopeTargetQueueOnly) {
		scope = scheduler.StopTaskScopeTargetQueueOnly
	}

	cancelled, err := s.pool.StopTask(ctx, input.TaskID, scope)
	if err != nil {
		return errResult(false, err.Error())
	}
	return jsonResult(stopTaskOutput{OK: true, CancelledJobs: cancelled})
}
