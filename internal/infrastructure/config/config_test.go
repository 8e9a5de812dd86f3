package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "ledger.db"
matching:
  line_items:
    auto_approve_threshold: 90
    eligible_types: [bank_regular]
duplicates:
  semantic_policy: block
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ledger.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 90.0, cfg.Matching.LineItems.AutoApproveThreshold)
	assert.Equal(t, 50.0, cfg.Matching.LineItems.CandidateThreshold)
	assert.Equal(t, []string{"bank_regular"}, cfg.Matching.LineItems.EligibleTypes)
	assert.Equal(t, 40.0, cfg.Matching.LineItems.Weights.Reference)
	assert.Equal(t, 2, cfg.Matching.CreditCards.DateToleranceDays)
	assert.Equal(t, "block", cfg.Duplicates.SemanticPolicy)
	assert.Equal(t, "base64", cfg.Duplicates.HashStrategy)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "storage: [unterminated")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "test.db")
	t.Setenv("RECONCILE_AUTO_APPROVE_THRESHOLD", "92.5")
	t.Setenv("RECONCILE_MATCH_AFTER_IMPORT", "true")
	t.Setenv("RECONCILE_ALLOWED_ORIGINS", "http://a.example, http://b.example")

	cfg := LoadFromEnv()

	assert.Equal(t, "test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 92.5, cfg.Matching.LineItems.AutoApproveThreshold)
	assert.True(t, cfg.Matching.MatchAfterImport)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.API.AllowedOrigins)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "")
	t.Setenv("RECONCILE_DATE_RANGE_DAYS", "not-a-number")

	cfg := LoadFromEnv()

	assert.Equal(t, "reconcile.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 7, cfg.Matching.LineItems.DateRangeDays)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
}

func TestLoadOrEnv_FallbackToEnv(t *testing.T) {
	t.Setenv("RECONCILE_DB_PATH", "fallback.db")

	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "nonexistent.yaml"))

	assert.Equal(t, "fallback.db", cfg.Storage.DatabasePath)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PATH", "expanded.db")
	t.Setenv("TEST_POLICY", "block")
	path := writeConfig(t, `
storage:
  database_path: "${TEST_DB_PATH}"
duplicates:
  semantic_policy: "${TEST_POLICY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "expanded.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "block", cfg.Duplicates.SemanticPolicy)
}
