// Package config loads and validates Lyra's engine, domain, concurrency,
// model and academic-API configuration from YAML files, mirroring the
// teacher's load -> merge -> validate pipeline.
package config

import (
	"time"

	"github.com/k-shibuki/lyra/pkg/models"
)

// EngineConfig describes one browser SERP engine.
type EngineConfig struct {
	Name             string                    `yaml:"name"`
	QPS              float64                   `yaml:"qps"`
	Weight           float64                   `yaml:"weight"`
	Categories       []string                  `yaml:"categories"`
	DailyLimit       int                       `yaml:"daily_limit"`
	Concurrency      int                       `yaml:"concurrency"`
	PaginationType   string                    `yaml:"pagination_type"`
	OperatorMapping  map[string]string         `yaml:"operator_mapping"`
	LastMile         bool                      `yaml:"last_mile"`
}

// DomainConfig describes policy for one specific domain override.
type DomainConfig struct {
	Domain              string  `yaml:"domain"`
	Category            string  `yaml:"category"`
	QPS                 float64 `yaml:"qps"`
	MaxRequestsPerDay    int    `yaml:"max_requests_per_day"`
	MaxPagesPerDay       int    `yaml:"max_pages_per_day"`
	TorUsageRatio        float64 `yaml:"tor_usage_ratio"`
}

// BackoffConfig tunes ConcurrencyController's auto-backoff/recovery curve.
type BackoffConfig struct {
	DecreaseStep          int           `yaml:"decrease_step"`
	RecoveryStableSeconds time.Duration `yaml:"recovery_stable_seconds"`
}

// ConcurrencyConfig tunes worker count, tab pool size and backoff behavior.
type ConcurrencyConfig struct {
	NumWorkers int           `yaml:"num_workers"`
	MaxTabs    int           `yaml:"max_tabs"`
	Backoff    BackoffConfig `yaml:"backoff"`
}

// ModelsConfig names the paths/ids for the ML collaborator the Retriever
// and EvidenceGraph call out to. Lyra never loads these models itself
// (MlClient is an external collaborator, per spec) — this only threads
// configuration through to whatever process implements it.
type ModelsConfig struct {
	LLMPath       string `yaml:"llm_path"`
	EmbeddingPath string `yaml:"embedding_path"`
	RerankerPath  string `yaml:"reranker_path"`
	NLIPath       string `yaml:"nli_path"`
}

// AcademicAPIConfig describes one academic-search collaborator endpoint.
type AcademicAPIConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxParallel int           `yaml:"max_parallel"`
	Enabled     bool          `yaml:"enabled"`
}

// PolicyDefaults holds the tunables that §13 of the expanded spec assigns to
// PolicyEngine's configuration rather than hard-coding in pkg/evidence.
type PolicyDefaults struct {
	CategoryWeights      map[models.DomainCategory]float64 `yaml:"category_weights"`
	TorMaxUsageRatio     float64                           `yaml:"tor_max_usage_ratio"`
	CircuitFailThreshold int                                `yaml:"circuit_fail_threshold"`
	CircuitBaseCooldown  time.Duration                      `yaml:"circuit_base_cooldown"`
	LastMileHarvestRate  float64                           `yaml:"last_mile_harvest_rate"`
	SERPMaxPages         int                               `yaml:"serp_max_pages"`
	NoveltyThreshold     float64                           `yaml:"novelty_threshold"`
	SERPCacheTTL         time.Duration                      `yaml:"serp_cache_ttl"`
}

// Defaults bundles task-wide defaults applied when create_task omits them.
type Defaults struct {
	Budget   models.Budget  `yaml:"budget"`
	Policy   PolicyDefaults `yaml:"policy"`
}

// lyraYAMLConfig is the on-disk shape of lyra.yaml.
type lyraYAMLConfig struct {
	Engines     []EngineConfig      `yaml:"engines"`
	Domains     []DomainConfig      `yaml:"domains"`
	Concurrency ConcurrencyConfig   `yaml:"concurrency"`
	Models      ModelsConfig        `yaml:"models"`
	Defaults    Defaults            `yaml:"defaults"`
}

// academicAPIsYAMLConfig is the on-disk shape of academic-apis.yaml.
type academicAPIsYAMLConfig struct {
	AcademicAPIs []AcademicAPIConfig `yaml:"academic_apis"`
}
