package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads lyra.yaml and academic-apis.yaml from configDir, merges
// them with the built-in defaults, builds the read-only registries and
// validates the result in one pass.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	_ = ctx // reserved: future config sources may need cancellation (e.g. a remote config fetch)

	lyraYAML, err := loadLyraYAML(configDir)
	if err != nil {
		return nil, err
	}
	academicYAML, err := loadAcademicAPIsYAML(configDir)
	if err != nil {
		return nil, err
	}

	engines := mergeEngines(builtinEngines(), lyraYAML.Engines)
	academicAPIs := mergeAcademicAPIs(builtinAcademicAPIs(), academicYAML.AcademicAPIs)

	concurrency := builtinConcurrency()
	if err := mergo.Merge(&concurrency, lyraYAML.Concurrency, mergo.WithOverride); err != nil {
		return nil, NewLoadError("lyra.yaml", err)
	}

	defaults := builtinDefaults()
	if err := mergo.Merge(&defaults, lyraYAML.Defaults, mergo.WithOverride); err != nil {
		return nil, NewLoadError("lyra.yaml", err)
	}

	cfg := &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Concurrency:         concurrency,
		Models:               lyraYAML.Models,
		EngineRegistry:      NewEngineRegistry(engines),
		DomainRegistry:      NewDomainRegistry(lyraYAML.Domains),
		AcademicAPIRegistry: NewAcademicAPIRegistry(academicAPIs),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"engines", stats.Engines,
		"domains", stats.Domains,
		"academic_apis", stats.AcademicAPIs)

	return cfg, nil
}

// loadLyraYAML reads and parses lyra.yaml. A missing file is not an error —
// an install with no lyra.yaml runs entirely on built-in defaults.
func loadLyraYAML(configDir string) (*lyraYAMLConfig, error) {
	cfg := &lyraYAMLConfig{}
	if err := loadYAML(filepath.Join(configDir, "lyra.yaml"), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadAcademicAPIsYAML reads and parses academic-apis.yaml.
func loadAcademicAPIsYAML(configDir string) (*academicAPIsYAMLConfig, error) {
	cfg := &academicAPIsYAMLConfig{}
	if err := loadYAML(filepath.Join(configDir, "academic-apis.yaml"), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML reads path, expands ${VAR} environment references, and unmarshals
// into out. A missing file leaves out at its zero value.
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)
	if err := yaml.Unmarshal(expanded, out); err != nil {
		return NewLoadError(path, err)
	}
	return nil
}
