// Package policy implements PolicyEngine: per-engine and per-domain policy
// decisions (QPS eligibility, daily budgets, circuit state, dynamic engine
// weight, Tor usage ratio). All signals are recorded unconditionally;
// lookups that fail return conservative defaults, never an error that would
// stall the caller.
package policy

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/k-shibuki/lyra/pkg/config"
	"github.com/k-shibuki/lyra/pkg/models"
)

// HealthBudgetStore is the subset of *store.Store PolicyEngine depends on,
// narrowed to an interface so tests can substitute an in-memory fake
// instead of a real PostgreSQL instance — the same boundary-interface idiom
// the teacher applies to SessionRegistry in pkg/queue.
type HealthBudgetStore interface {
	LoadEngineHealth(ctx context.Context, engine string) (*models.EngineHealth, error)
	SaveEngineHealth(ctx context.Context, h *models.EngineHealth) error
	LoadDomainBudget(ctx context.Context, domain, day string) (*models.DomainBudget, error)
}

// Engine evaluates engine/domain policy against persisted health and budget
// state. One Engine is shared by every Scheduler worker; all public methods
// are safe for concurrent use.
type Engine struct {
	store    HealthBudgetStore
	engines  *config.EngineRegistry
	domains  *config.DomainRegistry
	defaults config.PolicyDefaults

	mu         sync.Mutex
	torToday   int
	totalToday int
}

// New constructs a PolicyEngine backed by st and configured by cfg.
func New(st HealthBudgetStore, engines *config.EngineRegistry, domains *config.DomainRegistry, defaults config.PolicyDefaults) *Engine {
	return &Engine{store: st, engines: engines, domains: domains, defaults: defaults}
}

// CheckEngineAvailable reports false if engine's circuit is open and its
// cooldown has not yet elapsed.
func (e *Engine) CheckEngineAvailable(ctx context.Context, engine string) bool {
	h, err := e.store.LoadEngineHealth(ctx, engine)
	if err != nil {
		slog.Warn("policy: engine health lookup failed, failing open", "engine", engine, "error", err)
		return true
	}
	if h.Circuit == models.CircuitOpen && time.Now().Before(h.CooldownUntil) {
		return false
	}
	return true
}

// DynamicEngineWeight blends an engine's base weight with its recent
// success rate, CAPTCHA rate and latency, decaying toward the base weight
// the longer it has gone unused.
func (e *Engine) DynamicEngineWeight(ctx context.Context, engine string, category string) float64 {
	baseWeight := 0.5
	if cfg, err := e.engines.Get(engine); err == nil {
		baseWeight = cfg.Weight
	}

	h, err := e.store.LoadEngineHealth(ctx, engine)
	if err != nil {
		return baseWeight
	}

	successFactor := 0.6*h.SuccessRate1h + 0.4*h.SuccessRate24h
	captchaPenalty := 1 - 0.5*h.CaptchaRate
	latencyFactor := 1 / (1 + h.MedianLatencyMs/1000)
	raw := baseWeight * successFactor * captchaPenalty * latencyFactor

	hoursSinceUse := 48.0
	if !h.LastUsedAt.IsZero() {
		hoursSinceUse = time.Since(h.LastUsedAt).Hours()
	}
	confidence := math.Max(0.1, 1-hoursSinceUse/48)

	weight := confidence*raw + (1-confidence)*baseWeight
	return clamp(weight, 0.1, 1.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CanRequestToDomain enforces per-domain daily request/page caps,
// fail-open on a Store lookup error.
func (e *Engine) CanRequestToDomain(ctx context.Context, domain string) bool {
	d, ok := e.domains.Get(domain)
	if !ok {
		return true
	}

	b, err := e.store.LoadDomainBudget(ctx, domain, today())
	if err != nil {
		slog.Warn("policy: domain budget lookup failed, failing open", "domain", domain, "error", err)
		return true
	}
	if d.MaxRequestsPerDay > 0 && b.RequestsToday >= d.MaxRequestsPerDay {
		return false
	}
	if d.MaxPagesPerDay > 0 && b.PagesToday >= d.MaxPagesPerDay {
		return false
	}
	return true
}

// CanUseTor reports whether the global Tor usage ratio is under both the
// global limit and the domain's own tor_usage_ratio cap. Fails closed
// (deny) when the domain has no registered policy.
func (e *Engine) CanUseTor(domain string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.totalToday == 0 {
		return true
	}
	globalRatio := float64(e.torToday) / float64(e.totalToday)
	if globalRatio >= e.defaults.TorMaxUsageRatio {
		return false
	}

	d, ok := e.domains.Get(domain)
	if !ok {
		return false
	}
	return globalRatio < d.TorUsageRatio
}

// RecordTorUsage tallies one request for the global Tor ratio computation.
func (e *Engine) RecordTorUsage(usedTor bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalToday++
	if usedTor {
		e.torToday++
	}
}

// RecordEngineResult folds one fetch outcome into engine's persisted EMAs
// and opens its circuit after a configurable run of consecutive failures or
// a single CAPTCHA, with exponential cooldown.
func (e *Engine) RecordEngineResult(ctx context.Context, engine string, success, isCaptcha bool, latencyMs float64) error {
	h, err := e.store.LoadEngineHealth(ctx, engine)
	if err != nil {
		return err
	}

	const alpha1h = 0.3
	const alpha24h = 0.05
	successVal := 0.0
	if success {
		successVal = 1.0
	}
	h.SuccessRate1h = ema(h.SuccessRate1h, successVal, alpha1h)
	h.SuccessRate24h = ema(h.SuccessRate24h, successVal, alpha24h)

	captchaVal := 0.0
	if isCaptcha {
		captchaVal = 1.0
	}
	h.CaptchaRate = ema(h.CaptchaRate, captchaVal, alpha1h)
	h.MedianLatencyMs = ema(h.MedianLatencyMs, latencyMs, alpha1h)
	h.LastUsedAt = time.Now()

	if success && !isCaptcha {
		h.ConsecutiveFailures = 0
		if h.Circuit == models.CircuitHalfOpen {
			h.Circuit = models.CircuitClosed
		}
	} else {
		h.ConsecutiveFailures++
		threshold := e.defaults.CircuitFailThreshold
		if threshold <= 0 {
			threshold = 3
		}
		if isCaptcha || h.ConsecutiveFailures >= threshold {
			base := e.defaults.CircuitBaseCooldown
			if base <= 0 {
				base = 30 * time.Second
			}
			cooldown := base * time.Duration(1<<min(h.ConsecutiveFailures-1, 6))
			h.Circuit = models.CircuitOpen
			h.CooldownUntil = time.Now().Add(cooldown)
		}
	}

	return e.store.SaveEngineHealth(ctx, h)
}

func ema(prev, sample, alpha float64) float64 {
	return alpha*sample + (1-alpha)*prev
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// today formats the calendar day domain budgets reset on. Kept local
// rather than importing pkg/store's equivalent, so this package's only
// dependency on persistence is the narrow HealthBudgetStore interface.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// SelectEngine returns the available candidate with the highest
// DynamicEngineWeight for category, ties broken by lower median latency.
// Returns "" if no candidate is currently available.
func (e *Engine) SelectEngine(ctx context.Context, category string, candidates []string) string {
	type scored struct {
		engine  string
		weight  float64
		latency float64
	}

	var available []scored
	for _, c := range candidates {
		if !e.CheckEngineAvailable(ctx, c) {
			continue
		}
		h, err := e.store.LoadEngineHealth(ctx, c)
		latency := 0.0
		if err == nil {
			latency = h.MedianLatencyMs
		}
		available = append(available, scored{c, e.DynamicEngineWeight(ctx, c, category), latency})
	}
	if len(available) == 0 {
		return ""
	}

	sort.Slice(available, func(i, j int) bool {
		if available[i].weight != available[j].weight {
			return available[i].weight > available[j].weight
		}
		return available[i].latency < available[j].latency
	})
	return available[0].engine
}

// LastMileEngines returns the reserved, strictly rate-limited engine set
// used once a task's harvest rate suggests diminishing returns on its main
// engines (harvestRate >= LastMileHarvestRate).
func (e *Engine) LastMileEngines(harvestRate float64) []string {
	if harvestRate < e.defaults.LastMileHarvestRate {
		return nil
	}
	var out []string
	for _, cfg := range e.engines.GetAll() {
		if cfg.LastMile {
			out = append(out, cfg.Name)
		}
	}
	return out
}
