// Package models defines the persistent entities and their enumerations
// shared by every Lyra component (Store, Scheduler, Retriever, EvidenceGraph).
package models

import "time"

// TaskStatus is the lifecycle state of a research task.
type TaskStatus string

// Task status values.
const (
	TaskStatusExploring TaskStatus = "exploring"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusStopped   TaskStatus = "stopped"
)

// Budget bounds the resources a task may consume.
type Budget struct {
	PagesLimit  int `json:"pages_limit"`
	TimeLimitS  int `json:"time_limit_s"`
}

// Task is a research session: a hypothesis under investigation plus the
// jobs, pages, fragments, claims and edges scoped to it.
type Task struct {
	ID        string     `json:"task_id"`
	Hypothesis string    `json:"hypothesis"`
	Status    TaskStatus `json:"status"`
	Budget    Budget     `json:"budget"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TargetKind discriminates the three ways a caller can seed research.
type TargetKind string

// Target kinds.
const (
	TargetKindQuery TargetKind = "query"
	TargetKindDoi   TargetKind = "doi"
	TargetKindURL   TargetKind = "url"
)

// Target is a single item handed to queue_targets. It is never stored on its
// own — the Scheduler turns each one into a Job.
type Target struct {
	Kind  TargetKind `json:"kind"`
	Text  string     `json:"text,omitempty"`
	Value string     `json:"value,omitempty"`
}
