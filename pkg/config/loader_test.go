package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_BuiltinOnly(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.True(t, cfg.EngineRegistry.Has("web_general"))
	assert.Equal(t, 4, cfg.Concurrency.NumWorkers)
	assert.InDelta(t, 1.0, cfg.Defaults.Policy.CategoryWeights["trusted"], 0.0001)
}

func TestInitialize_UserOverride(t *testing.T) {
	dir := t.TempDir()
	lyraYAML := `
concurrency:
  num_workers: 8
  max_tabs: 12
engines:
  - name: web_general
    qps: 2.0
    weight: 0.8
    categories: ["general"]
    daily_limit: 5000
    concurrency: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lyra.yaml"), []byte(lyraYAML), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Concurrency.NumWorkers)
	assert.Equal(t, 12, cfg.Concurrency.MaxTabs)

	engine, err := cfg.EngineRegistry.Get("web_general")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, engine.QPS, 0.0001)

	// builtin engines not mentioned by the user survive the merge.
	assert.True(t, cfg.EngineRegistry.Has("web_academic"))
}

func TestInitialize_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LYRA_TEST_API_KEY_ENV", "MY_ENV_VAR")

	academicYAML := `
academic_apis:
  - name: custom_api
    base_url: https://example.test
    api_key_env: "${LYRA_TEST_API_KEY_ENV}"
    min_interval: 1s
    max_parallel: 1
    enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "academic-apis.yaml"), []byte(academicYAML), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	api, err := cfg.AcademicAPIRegistry.Get("custom_api")
	require.NoError(t, err)
	assert.Equal(t, "MY_ENV_VAR", api.APIKeyEnv)
}

func TestValidate_RejectsBadEngine(t *testing.T) {
	cfg := &Config{
		Concurrency:         builtinConcurrency(),
		Defaults:            builtinDefaults(),
		EngineRegistry:      NewEngineRegistry([]EngineConfig{{Name: "bad", QPS: 0, Weight: 0.5, Concurrency: 1}}),
		DomainRegistry:      NewDomainRegistry(nil),
		AcademicAPIRegistry: NewAcademicAPIRegistry(nil),
	}

	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}
