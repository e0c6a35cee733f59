package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.CData.Email = "ops@example.com"
	cfg.CData.PAT = "pat"
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{
		"CDATA_EMAIL":      "ops@example.com",
		"CDATA_PAT":        "secret",
		"DATA_SOURCE":      "salesforce",
		"LLM_PROVIDER":     "Google",
		"LLM_MODEL":        "gemini-2.0-flash",
		"GOOGLE_API_KEY":   "AIza-test",
		"OPENAI_API_KEY":   "ignored",
		"SCHEMA_CACHE_TTL": "0",
		"MAX_ITERATIONS":   "5",
		"TELEGRAM_TOKEN":   "tg-token",
		"TELEGRAM_CHAT_ID": "42",
	}))
	require.NoError(t, err)

	assert.Equal(t, "ops@example.com", cfg.CData.Email)
	assert.Equal(t, "google", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, "AIza-test", cfg.LLM.APIKey)
	assert.Equal(t, 0, cfg.Cache.TTLSeconds)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, "LangGraph_Customer_Health_Agent", cfg.Connection())
	assert.Equal(t, "Account", cfg.Tables().Account)

	gw, ok := cfg.GetGateway("telegram")
	require.True(t, ok)
	assert.Equal(t, "42", gw.Target)
	_, ok = cfg.GetGateway("discord")
	assert.False(t, ok)
}

func TestApplyEnvRejectsBadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(lookupFrom(map[string]string{"MAX_ITERATIONS": "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_ITERATIONS")
}

func TestValidateListsMissingCredentials(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "missing CDATA_EMAIL")
	assert.Contains(t, verr.Problems, "missing CDATA_PAT")
	assert.Contains(t, verr.Problems, "missing OPENAI_API_KEY")
}

func TestValidateRejectsUnsupportedProvider(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "grok"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestValidateOllamaNeedsNoKey(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.APIKey = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateAcceptsDefaultsWithCredentials(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestForcedCatalogWins(t *testing.T) {
	cfg := validConfig()
	cfg.CData.Catalog = "Demo"
	assert.Equal(t, "Demo", cfg.Connection())
	assert.Equal(t, "demo_organization_tickets", cfg.Tables().Case)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "healthbrief.yaml")
	yml := `
cdata:
  email: file@example.com
  pat: file-pat
llm:
  provider: anthropic
  model: claude-sonnet
  api_key: from-file
agent:
  max_iterations: 7
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(Options{Path: path, EnvFile: filepath.Join(dir, "missing.env")})
	require.NoError(t, err)

	assert.Equal(t, "file@example.com", cfg.CData.Email)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultEndpoint, cfg.CData.Endpoint)
	assert.Equal(t, 86400, cfg.Cache.TTLSeconds)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "nope.json")})
	assert.Error(t, err)
}
