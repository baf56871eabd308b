package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/k-shibuki/lyra/pkg/models"
)

// LoadEngineHealth fetches the persisted health row for engine, or a fresh
// all-healthy default if none has been recorded yet.
func (s *Store) LoadEngineHealth(ctx context.Context, engine string) (*models.EngineHealth, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT engine, success_rate_1h, success_rate_24h, captcha_rate, median_latency_ms,
		       coalesce(last_used_at, 'epoch'::timestamptz), circuit, consecutive_failures,
		       coalesce(cooldown_until, 'epoch'::timestamptz)
		FROM engine_health WHERE engine = $1`, engine)

	var h models.EngineHealth
	err := row.Scan(&h.Engine, &h.SuccessRate1h, &h.SuccessRate24h, &h.CaptchaRate, &h.MedianLatencyMs,
		&h.LastUsedAt, &h.Circuit, &h.ConsecutiveFailures, &h.CooldownUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.EngineHealth{
			Engine:         engine,
			SuccessRate1h:  1,
			SuccessRate24h: 1,
			Circuit:        models.CircuitClosed,
		}, nil
	}
	return &h, err
}

// SaveEngineHealth upserts an engine's health row after recording a result.
func (s *Store) SaveEngineHealth(ctx context.Context, h *models.EngineHealth) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engine_health (engine, success_rate_1h, success_rate_24h, captcha_rate, median_latency_ms,
		                            last_used_at, circuit, consecutive_failures, cooldown_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, nullif($9, 'epoch'::timestamptz))
		ON CONFLICT (engine) DO UPDATE SET
			success_rate_1h = excluded.success_rate_1h,
			success_rate_24h = excluded.success_rate_24h,
			captcha_rate = excluded.captcha_rate,
			median_latency_ms = excluded.median_latency_ms,
			last_used_at = excluded.last_used_at,
			circuit = excluded.circuit,
			consecutive_failures = excluded.consecutive_failures,
			cooldown_until = excluded.cooldown_until`,
		h.Engine, h.SuccessRate1h, h.SuccessRate24h, h.CaptchaRate, h.MedianLatencyMs,
		h.LastUsedAt, h.Circuit, h.ConsecutiveFailures, h.CooldownUntil)
	return err
}

// LoadDomainBudget fetches today's usage counters for domain, or a fresh
// zeroed budget if nothing has been recorded yet today.
func (s *Store) LoadDomainBudget(ctx context.Context, domain, day string) (*models.DomainBudget, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT domain, day, requests_today, pages_today, updated_at
		FROM domain_budgets WHERE domain = $1 AND day = $2`, domain, day)

	var b models.DomainBudget
	err := row.Scan(&b.Domain, &b.Day, &b.RequestsToday, &b.PagesToday, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.DomainBudget{Domain: domain, Day: day}, nil
	}
	return &b, err
}

// IncrementDomainCounters atomically bumps today's request/page counters for
// domain, creating the row if this is the first hit of the day.
func (s *Store) IncrementDomainCounters(ctx context.Context, domain, day string, requests, pages int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO domain_budgets (domain, day, requests_today, pages_today, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (domain, day) DO UPDATE SET
			requests_today = domain_budgets.requests_today + excluded.requests_today,
			pages_today = domain_budgets.pages_today + excluded.pages_today,
			updated_at = now()`,
		domain, day, requests, pages)
	return err
}

// Today formats the calendar day domain budgets reset on, in the local
// process's UTC day boundary.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}
