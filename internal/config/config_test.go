package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "z-content-ai-api/pkg/errors"
)

func TestLoadFromDir(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("TEST_PROVIDER_KEY", "from-env")

	cfg, err := LoadFromDir("testdata")
	require.NoError(t, err)

	assert.Equal(t, "test-app", cfg.App.Name)
	assert.Equal(t, AdmissionBackendMemory, cfg.LLM.AdmissionBackend)
	assert.Equal(t, 500, cfg.LLM.EstimateOverheadTokens)
	assert.Equal(t, 60*time.Second, cfg.LLM.Window)
	assert.Equal(t, "text-generation", cfg.LLM.DefaultCapability)

	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "MockProvider", cfg.LLM.Providers[0].Name)
	assert.Equal(t, "from-env", cfg.LLM.Providers[0].APIKey)
	assert.Equal(t, 10, cfg.LLM.Providers[0].RateLimit.RequestsPerMinute)
	assert.Equal(t, 50000, cfg.LLM.Providers[0].RateLimit.TokensPerMinute)

	blog, ok := cfg.LLM.ContentTypes["blog"]
	require.True(t, ok)
	assert.InDelta(t, 0.8, blog.Temperature, 1e-6)
	assert.Equal(t, 4000, blog.MaxTokens)

	assert.True(t, cfg.Usage.HasSink(UsageSinkPostgres))
	assert.True(t, cfg.Usage.HasSink(UsageSinkStream))
	assert.Equal(t, 30*time.Second, cfg.Usage.SummaryCacheTTL)
}

func TestLoadFromDir_InvalidBackend(t *testing.T) {
	_, err := LoadFromDir(filepath.Join("testdata", "broken"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidConfig))
}

func TestLoadFromDir_MissingFile(t *testing.T) {
	_, err := LoadFromDir(t.TempDir())
	require.Error(t, err)
}

func TestLoadFromDir_EnvOverlay(t *testing.T) {
	dir := t.TempDir()
	base := []byte("llm:\n  window: 30s\n")
	overlay := []byte("llm:\n  admission_backend: redis\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), base, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.staging.yaml"), overlay, 0o600))
	t.Setenv("APP_ENV", "staging")

	cfg, err := LoadFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.LLM.Window)
	assert.Equal(t, AdmissionBackendRedis, cfg.LLM.AdmissionBackend)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("Z_SET", "value")

	assert.Equal(t, "a=value", expandEnv("a=${Z_SET}"))
	assert.Equal(t, "a=fallback", expandEnv("a=${Z_UNSET_FOR_TEST:fallback}"))
	assert.Equal(t, "a=", expandEnv("a=${Z_UNSET_FOR_TEST:}"))
	assert.Equal(t, "a=${Z_UNSET_FOR_TEST}", expandEnv("a=${Z_UNSET_FOR_TEST}"))
}

func TestToProviders(t *testing.T) {
	c := LLMConfig{
		DefaultTimeout: 45 * time.Second,
		Providers: []ProviderConfig{
			{Name: " a ", Models: []string{"m1", " "}, Capabilities: []string{"text-generation"}},
			{Name: "b", Timeout: 5 * time.Second},
		},
	}

	ps := c.ToProviders()
	require.Len(t, ps, 2)
	assert.Equal(t, "a", ps[0].Name)
	assert.Equal(t, []string{"m1"}, ps[0].Models)
	assert.Equal(t, 45*time.Second, ps[0].Timeout)
	assert.Equal(t, 5*time.Second, ps[1].Timeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LLM: LLMConfig{
				DefaultCapability: "text-generation",
				Window:            time.Minute,
				AdmissionBackend:  AdmissionBackendMemory,
			},
			Usage: UsageConfig{Sinks: []string{UsageSinkPostgres}},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"unknown backend", func(c *Config) { c.LLM.AdmissionBackend = "etcd" }, false},
		{"zero window", func(c *Config) { c.LLM.Window = 0 }, false},
		{"negative overhead", func(c *Config) { c.LLM.EstimateOverheadTokens = -1 }, false},
		{"unknown sink", func(c *Config) { c.Usage.Sinks = []string{"kafka"} }, false},
		{"bad temperature", func(c *Config) {
			c.LLM.ContentTypes = map[string]ContentTypeConfig{"blog": {Temperature: 3}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := Validate(c)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidConfig))
		})
	}
}
