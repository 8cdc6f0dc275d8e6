package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing file returns empty config", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Empty(t, cfg.SemanticRules)
	})

	t.Run("empty file returns empty config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".courtside.yaml")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.SemanticRules)
	})

	t.Run("invalid YAML degrades to empty config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".courtside.yaml")
		require.NoError(t, os.WriteFile(path, []byte("semantic_rules: [not a map"), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Empty(t, cfg.SemanticRules)
	})

	t.Run("valid overlay parsed", func(t *testing.T) {
		content := `
semantic_rules:
  ab12cd34ef56ab12:
    required_fields: [team, rank]
    min_record_count: 25
    season_start_month: 11
    season_end_month: 4
`
		path := filepath.Join(t.TempDir(), ".courtside.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Contains(t, cfg.SemanticRules, "ab12cd34ef56ab12")

		entry := cfg.SemanticRules["ab12cd34ef56ab12"]
		assert.Equal(t, []string{"team", "rank"}, entry.RequiredFields)
		assert.Equal(t, 25, entry.MinRecordCount)
		assert.Equal(t, 11, entry.SeasonStartMonth)
		assert.Equal(t, 4, entry.SeasonEndMonth)
	})

	t.Run("env var overrides path", func(t *testing.T) {
		content := "semantic_rules:\n  deadbeefdeadbeef:\n    min_record_count: 7\n"
		path := filepath.Join(t.TempDir(), "custom.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		t.Setenv(ConfigPathEnvVar, path)

		cfg, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.SemanticRules["deadbeefdeadbeef"].MinRecordCount)
	})
}
