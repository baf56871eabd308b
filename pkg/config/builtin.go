package config

import (
	"time"

	"github.com/k-shibuki/lyra/pkg/models"
)

// builtinEngines are shipped so a fresh install has a working engine list
// even before the operator writes lyra.yaml. User configuration overrides
// these by name.
func builtinEngines() []EngineConfig {
	return []EngineConfig{
		{
			Name: "web_general", QPS: 1.0, Weight: 0.6,
			Categories: []string{"general", "technical"}, DailyLimit: 2000, Concurrency: 1,
			PaginationType: "offset",
			OperatorMapping: map[string]string{
				"site:":     "site:",
				"filetype:": "filetype:",
				"intitle:":  "intitle:",
			},
		},
		{
			Name: "web_news", QPS: 1.0, Weight: 0.5,
			Categories: []string{"news"}, DailyLimit: 1000, Concurrency: 1,
			PaginationType: "offset",
			OperatorMapping: map[string]string{"site:": "site:"},
		},
		{
			Name: "web_academic", QPS: 0.5, Weight: 0.7,
			Categories: []string{"academic"}, DailyLimit: 500, Concurrency: 1,
			PaginationType: "cursor",
			OperatorMapping: map[string]string{
				"site:":     "site:",
				"filetype:": "filetype:",
			},
		},
		{
			Name: "web_lastmile", QPS: 0.2, Weight: 0.4,
			Categories: []string{"general", "academic", "news", "technical"},
			DailyLimit:  100, Concurrency: 1, LastMile: true,
			PaginationType: "offset",
		},
	}
}

// builtinAcademicAPIs mirrors the well-known scholarly metadata APIs
// exercised by the retriever's academic fan-out.
func builtinAcademicAPIs() []AcademicAPIConfig {
	return []AcademicAPIConfig{
		{
			Name: "crossref", BaseURL: "https://api.crossref.org",
			MinInterval: time.Second, MaxParallel: 2, Enabled: true,
		},
		{
			Name: "semantic_scholar", BaseURL: "https://api.semanticscholar.org/graph/v1",
			APIKeyEnv: "SEMANTIC_SCHOLAR_API_KEY",
			MinInterval: 3 * time.Second, MaxParallel: 1, Enabled: true,
		},
		{
			Name: "arxiv", BaseURL: "http://export.arxiv.org/api",
			MinInterval: 3 * time.Second, MaxParallel: 1, Enabled: true,
		},
		{
			Name: "pubmed", BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			APIKeyEnv: "PUBMED_API_KEY",
			MinInterval: time.Second, MaxParallel: 1, Enabled: false,
		},
	}
}

// builtinDefaults are the system-wide defaults merged under any
// user-supplied lyra.yaml `defaults:` block. w_cat defaults come directly
// from the expanded spec's Open Question decision (§13).
func builtinDefaults() Defaults {
	return Defaults{
		Budget: models.Budget{PagesLimit: 200, TimeLimitS: 3600},
		Policy: PolicyDefaults{
			CategoryWeights: map[models.DomainCategory]float64{
				models.DomainCategoryTrusted:   1.0,
				models.DomainCategoryAcademic:  0.9,
				models.DomainCategoryNews:      0.6,
				models.DomainCategoryTechnical: 0.6,
				models.DomainCategoryGeneral:   0.4,
				models.DomainCategoryUnknown:   0.2,
			},
			TorMaxUsageRatio:     0.2,
			CircuitFailThreshold: 3,
			CircuitBaseCooldown:  30 * time.Second,
			LastMileHarvestRate:  0.9,
			SERPMaxPages:         5,
			NoveltyThreshold:     0.1,
			SERPCacheTTL:         15 * time.Minute,
		},
	}
}

// builtinConcurrency is the default concurrency envelope.
func builtinConcurrency() ConcurrencyConfig {
	return ConcurrencyConfig{
		NumWorkers: 4,
		MaxTabs:    6,
		Backoff: BackoffConfig{
			DecreaseStep:          1,
			RecoveryStableSeconds: 60 * time.Second,
		},
	}
}
