package models

import "time"

// JobKind is the unit of work a Job performs.
type JobKind string

// Job kinds.
const (
	JobKindSearch        JobKind = "search"
	JobKindIngestDoi     JobKind = "ingest_doi"
	JobKindIngestURL     JobKind = "ingest_url"
	JobKindCitationGraph JobKind = "citation_graph"
	JobKindVerifyNLI     JobKind = "verify_nli"
)

// JobState is a position in the Scheduler's job state machine (the
// transitions are made by pkg/store's job operations).
type JobState string

// Job states.
const (
	JobStateQueued       JobState = "queued"
	JobStateRunning      JobState = "running"
	JobStateAwaitingAuth JobState = "awaiting_auth"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
	JobStateCancelled    JobState = "cancelled"
)

// Job is a single unit of executable work belonging to a Task.
//
// Invariant: at most one worker holds a non-empty ClaimToken for a given
// Job at any instant; state transitions are acyclic except
// awaiting_auth -> queued on auth resolution.
type Job struct {
	ID         string   `json:"job_id"`
	TaskID     string   `json:"task_id"`
	Kind       JobKind  `json:"kind"`
	Payload    string   `json:"payload"`
	PayloadHash string  `json:"payload_hash"`
	Priority   int      `json:"priority"`
	State      JobState `json:"state"`
	Attempts   int      `json:"attempts"`
	ClaimToken string   `json:"claim_token,omitempty"`
	LastError  string   `json:"last_error,omitempty"`
	// Result is a JSON blob the job's executor stamps on completion —
	// a models.SearchResult for search jobs, empty for the rest. get_status
	// decodes it to report per-search pages_fetched/useful_fragments/etc.
	Result     string   `json:"result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// NotBefore delays re-claiming a requeued job until a retry backoff
	// has elapsed.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// IsTerminal reports whether state admits no further transitions (except
// awaiting_auth, which is not terminal — it resumes on resolve_auth).
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}
