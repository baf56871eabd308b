// Package concurrency implements ConcurrencyController: three independent
// resource pools (academic API limiter, browser tab pool, per-engine
// limiter) plus the shared auto-backoff/recovery curve each pool follows
// under repeated 429/CAPTCHA/403 signals.
package concurrency

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// BackoffConfig tunes the auto-backoff/recovery curve (ADR-0015 semantics).
type BackoffConfig struct {
	DecreaseStep          int
	RecoveryStableSeconds time.Duration
}

// pool is the shared effective-capacity/backoff machinery each resource
// pool below embeds: a blocking weighted semaphore, sized to maxCapacity,
// whose effective admitted concurrency shrinks under repeated failure
// signals and grows back by one on every release once the backoff has
// been stable for RecoveryStableSeconds. Because a semaphore permit held
// by an in-flight caller cannot be revoked, a capacity decrease is
// realized lazily as debt: the next `debt` releases withhold their permit
// instead of returning it, so effectiveCap is reached progressively as
// in-flight work completes rather than all at once.
type pool struct {
	mu            sync.Mutex
	sem           *semaphore.Weighted
	maxCapacity   int64
	effectiveCap  int64
	debt          int64
	backoffActive bool
	lastBackoffAt time.Time
	cfg           BackoffConfig
}

func newPool(maxCapacity int, cfg BackoffConfig) *pool {
	if maxCapacity < 1 {
		maxCapacity = 1
	}
	return &pool{
		sem:          semaphore.NewWeighted(int64(maxCapacity)),
		maxCapacity:  int64(maxCapacity),
		effectiveCap: int64(maxCapacity),
		cfg:          cfg,
	}
}

// acquire blocks until a slot under the current effective capacity is free
// or ctx is cancelled.
func (p *pool) acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// release returns one slot — unless capacity shrink debt is still owed, in
// which case the permit is withheld from circulation instead — and, if the
// backoff has been stable long enough, grows the effective capacity back by
// one.
func (p *pool) release() {
	p.mu.Lock()
	withhold := false
	restore := false
	if p.debt > 0 {
		p.debt--
		withhold = true
	}

	if p.backoffActive && time.Since(p.lastBackoffAt) >= p.cfg.RecoveryStableSeconds {
		if p.effectiveCap < p.maxCapacity {
			p.effectiveCap++
			if withhold {
				withhold = false
			} else {
				// No debt left: return one previously withheld permit.
				restore = true
			}
		}
		if p.effectiveCap >= p.maxCapacity {
			p.backoffActive = false
		}
	}
	p.mu.Unlock()

	if !withhold {
		p.sem.Release(1)
	}
	if restore {
		p.sem.Release(1)
	}
}

// backoff shrinks effective capacity by DecreaseStep (never below 1) on a
// 429/CAPTCHA/403 signal.
func (p *pool) backoff() {
	p.mu.Lock()
	defer p.mu.Unlock()
	step := int64(p.cfg.DecreaseStep)
	if step < 1 {
		step = 1
	}
	if p.effectiveCap-step < 1 {
		step = p.effectiveCap - 1
	}
	if step > 0 {
		p.effectiveCap -= step
		p.debt += step
	}
	p.backoffActive = true
	p.lastBackoffAt = time.Now()
}

func (p *pool) effectiveMax() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.effectiveCap)
}

// AcademicAPILimiter paces one academic API collaborator: a minimum
// interval between acquire returns (QPS) plus a bounded-parallelism
// semaphore, both subject to auto-backoff.
type AcademicAPILimiter struct {
	rate *rate.Limiter
	pool *pool
}

// NewAcademicAPILimiter builds a limiter enforcing minInterval between
// requests and at most maxParallel concurrent in-flight requests.
func NewAcademicAPILimiter(minInterval time.Duration, maxParallel int, backoff BackoffConfig) *AcademicAPILimiter {
	if minInterval <= 0 {
		minInterval = time.Millisecond
	}
	return &AcademicAPILimiter{
		rate: rate.NewLimiter(rate.Every(minInterval), 1),
		pool: newPool(maxParallel, backoff),
	}
}

// Acquire blocks until both the QPS pace and the parallelism cap admit one
// more in-flight request.
func (l *AcademicAPILimiter) Acquire(ctx context.Context) error {
	if err := l.rate.Wait(ctx); err != nil {
		return err
	}
	return l.pool.acquire(ctx)
}

// Release returns the parallelism slot acquired by Acquire.
func (l *AcademicAPILimiter) Release() { l.pool.release() }

// Backoff shrinks this API's effective parallelism after a 429.
func (l *AcademicAPILimiter) Backoff() { l.pool.backoff() }

// EffectiveMaxParallel reports the current (possibly backed-off) cap.
func (l *AcademicAPILimiter) EffectiveMaxParallel() int { return l.pool.effectiveMax() }

// Tab is an opaque handle to one reusable browser tab.
type Tab struct{ id int }

// TabPool is a bounded set of reusable browser tabs.
type TabPool struct {
	pool *pool
	ids  chan int
}

// NewTabPool builds a pool of at most maxTabs concurrently checked-out tabs.
func NewTabPool(maxTabs int, backoff BackoffConfig) *TabPool {
	ids := make(chan int, maxTabs)
	for i := 0; i < maxTabs; i++ {
		ids <- i
	}
	return &TabPool{pool: newPool(maxTabs, backoff), ids: ids}
}

// Acquire returns a tab once one is free under the effective cap.
func (t *TabPool) Acquire(ctx context.Context) (Tab, error) {
	if err := t.pool.acquire(ctx); err != nil {
		return Tab{}, err
	}
	select {
	case id := <-t.ids:
		return Tab{id: id}, nil
	case <-ctx.Done():
		t.pool.release()
		return Tab{}, ctx.Err()
	}
}

// Release returns tab to the pool.
func (t *TabPool) Release(tab Tab) {
	t.ids <- tab.id
	t.pool.release()
}

// Backoff shrinks the pool's effective tab count after a CAPTCHA.
func (t *TabPool) Backoff() { t.pool.backoff() }

// EffectiveMaxTabs reports the current (possibly backed-off) cap.
func (t *TabPool) EffectiveMaxTabs() int { return t.pool.effectiveMax() }

// EngineLimiter serializes browser SERP fetches for one engine: a minimum
// interval between requests and concurrency fixed at 1 per spec (a single
// engine is never fetched from two goroutines at once).
type EngineLimiter struct {
	rate *rate.Limiter
	mu   sync.Mutex
}

// NewEngineLimiter builds a per-engine limiter enforcing minInterval
// between fetches.
func NewEngineLimiter(minInterval time.Duration) *EngineLimiter {
	if minInterval <= 0 {
		minInterval = time.Millisecond
	}
	return &EngineLimiter{rate: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Acquire blocks until the pace allows another fetch and this engine's
// single in-flight slot is free, returning a release function.
func (l *EngineLimiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.rate.Wait(ctx); err != nil {
		return nil, err
	}
	l.mu.Lock()
	return l.mu.Unlock, nil
}

// Controller owns one AcademicAPILimiter per configured academic API, one
// shared TabPool, and one EngineLimiter per configured search engine.
type Controller struct {
	academic map[string]*AcademicAPILimiter
	tabs     *TabPool
	engines  map[string]*EngineLimiter
	mu       sync.RWMutex
}

// New constructs an empty Controller; call RegisterAcademicAPI and
// RegisterEngine for each configured collaborator before use.
func New(maxTabs int, backoff BackoffConfig) *Controller {
	return &Controller{
		academic: make(map[string]*AcademicAPILimiter),
		tabs:     NewTabPool(maxTabs, backoff),
		engines:  make(map[string]*EngineLimiter),
	}
}

// RegisterAcademicAPI installs a limiter for a named academic API.
func (c *Controller) RegisterAcademicAPI(name string, minInterval time.Duration, maxParallel int, backoff BackoffConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.academic[name] = NewAcademicAPILimiter(minInterval, maxParallel, backoff)
}

// AcademicAPI returns the limiter for a named academic API, or nil if
// unregistered.
func (c *Controller) AcademicAPI(name string) *AcademicAPILimiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.academic[name]
}

// RegisterEngine installs a limiter for a named search engine.
func (c *Controller) RegisterEngine(name string, minInterval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[name] = NewEngineLimiter(minInterval)
}

// Engine returns the limiter for a named search engine, or nil if
// unregistered.
func (c *Controller) Engine(name string) *EngineLimiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engines[name]
}

// Tabs returns the shared browser tab pool.
func (c *Controller) Tabs() *TabPool { return c.tabs }
