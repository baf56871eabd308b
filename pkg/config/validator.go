package config

import (
	"errors"
	"fmt"
)

// Validate checks every loaded component in one pass and returns a single
// joined error listing every violation found, mirroring the teacher's
// collect-everything validator instead of failing on the first problem.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Concurrency.NumWorkers < 1 {
		errs = append(errs, NewValidationError("concurrency", "", "num_workers",
			fmt.Errorf("must be >= 1, got %d", cfg.Concurrency.NumWorkers)))
	}
	if cfg.Concurrency.MaxTabs < 1 {
		errs = append(errs, NewValidationError("concurrency", "", "max_tabs",
			fmt.Errorf("must be >= 1, got %d", cfg.Concurrency.MaxTabs)))
	}

	seenEngines := make(map[string]bool)
	for _, e := range cfg.EngineRegistry.GetAll() {
		if e.Name == "" {
			errs = append(errs, NewValidationError("engine", "", "name", errors.New("must not be empty")))
			continue
		}
		if seenEngines[e.Name] {
			errs = append(errs, NewValidationError("engine", e.Name, "name", errors.New("duplicate engine name")))
		}
		seenEngines[e.Name] = true
		if e.QPS <= 0 {
			errs = append(errs, NewValidationError("engine", e.Name, "qps", fmt.Errorf("must be > 0, got %v", e.QPS)))
		}
		if e.Weight < 0.1 || e.Weight > 1.0 {
			errs = append(errs, NewValidationError("engine", e.Name, "weight", fmt.Errorf("must be in [0.1, 1.0], got %v", e.Weight)))
		}
		if e.Concurrency < 1 {
			errs = append(errs, NewValidationError("engine", e.Name, "concurrency", fmt.Errorf("must be >= 1, got %d", e.Concurrency)))
		}
	}

	for _, d := range cfg.DomainRegistry.GetAll() {
		if d.Domain == "" {
			errs = append(errs, NewValidationError("domain", "", "domain", errors.New("must not be empty")))
			continue
		}
		if d.TorUsageRatio < 0 || d.TorUsageRatio > 1 {
			errs = append(errs, NewValidationError("domain", d.Domain, "tor_usage_ratio", fmt.Errorf("must be in [0,1], got %v", d.TorUsageRatio)))
		}
	}

	for _, a := range cfg.AcademicAPIRegistry.GetAll() {
		if a.Name == "" {
			errs = append(errs, NewValidationError("academic_api", "", "name", errors.New("must not be empty")))
			continue
		}
		if a.Enabled && a.BaseURL == "" {
			errs = append(errs, NewValidationError("academic_api", a.Name, "base_url", errors.New("required when enabled")))
		}
		if a.Enabled && a.MaxParallel < 1 {
			errs = append(errs, NewValidationError("academic_api", a.Name, "max_parallel", fmt.Errorf("must be >= 1, got %d", a.MaxParallel)))
		}
	}

	for category, weight := range cfg.Defaults.Policy.CategoryWeights {
		if weight <= 0 || weight > 1 {
			errs = append(errs, NewValidationError("policy", string(category), "category_weights", fmt.Errorf("must be in (0,1], got %v", weight)))
		}
	}
	if cfg.Defaults.Policy.TorMaxUsageRatio < 0 || cfg.Defaults.Policy.TorMaxUsageRatio > 1 {
		errs = append(errs, NewValidationError("policy", "", "tor_max_usage_ratio",
			fmt.Errorf("must be in [0,1], got %v", cfg.Defaults.Policy.TorMaxUsageRatio)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}
