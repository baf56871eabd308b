package models

import "time"

// CircuitState is PolicyEngine's per-engine health gate.
type CircuitState string

// Circuit states.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitHalfOpen CircuitState = "half_open"
	CircuitOpen     CircuitState = "open"
)

// EngineHealth holds per-engine EMA metrics used for dynamic weighting and
// circuit breaking.
type EngineHealth struct {
	Engine              string       `json:"engine"`
	SuccessRate1h        float64      `json:"success_rate_1h"`
	SuccessRate24h       float64      `json:"success_rate_24h"`
	CaptchaRate          float64      `json:"captcha_rate"`
	MedianLatencyMs      float64      `json:"median_latency_ms"`
	LastUsedAt           time.Time    `json:"last_used_at"`
	Circuit              CircuitState `json:"circuit"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	CooldownUntil        time.Time    `json:"cooldown_until"`
}

// DomainBudget tracks per-domain per-day usage against configured caps.
type DomainBudget struct {
	Domain         string    `json:"domain"`
	Day            string    `json:"day"` // YYYY-MM-DD, resets on calendar-date change
	RequestsToday  int       `json:"requests_today"`
	PagesToday     int       `json:"pages_today"`
	UpdatedAt      time.Time `json:"updated_at"`
}
