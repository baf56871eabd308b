package models

// AuthType is the kind of human-in-the-loop action an Intervention needs.
type AuthType string

// Auth types.
const (
	AuthTypeCaptcha    AuthType = "captcha"
	AuthTypeCloudflare AuthType = "cloudflare"
	AuthTypeTurnstile  AuthType = "turnstile"
	AuthTypeLogin      AuthType = "login"
)

// InterventionStatus is the lifecycle state of a queued intervention.
type InterventionStatus string

// Intervention statuses.
const (
	InterventionStatusPending    InterventionStatus = "pending"
	InterventionStatusInProgress InterventionStatus = "in_progress"
	InterventionStatusCompleted  InterventionStatus = "completed"
	InterventionStatusSkipped    InterventionStatus = "skipped"
	InterventionStatusCancelled  InterventionStatus = "cancelled"
	InterventionStatusExpired    InterventionStatus = "expired"
)

// Intervention is a queued request for a human to clear an auth wall so a
// parked job can resume.
type Intervention struct {
	ID          string             `json:"queue_id"`
	TaskID      string             `json:"task_id"`
	URL         string             `json:"url"`
	Domain      string             `json:"domain"`
	AuthType    AuthType           `json:"auth_type"`
	Status      InterventionStatus `json:"status"`
	SearchJobID string             `json:"search_job_id,omitempty"`
	SessionData []byte             `json:"session_data,omitempty"`
}
