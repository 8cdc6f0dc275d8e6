package validation

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/courtside-io/courtside/internal/config"
)

// Config holds semantic rule overrides loaded from .courtside.yaml.
type Config struct {
	// SemanticRules maps dataset IDs to rule overrides. Overlay entries
	// replace the built-in per-type templates entirely.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	SemanticRules map[string]RuleEntry `yaml:"semantic_rules"`
}

// RuleEntry is one overlay rule in YAML form. Months are 1-12; a zero
// start or end month means no season window.
type RuleEntry struct {
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	RequiredFields []string `yaml:"required_fields"`
	//nolint:tagliatelle
	MinRecordCount int `yaml:"min_record_count"`
	//nolint:tagliatelle
	SeasonStartMonth int `yaml:"season_start_month"`
	//nolint:tagliatelle
	SeasonEndMonth int `yaml:"season_end_month"`
}

// DefaultConfigPath is the default location for the rules overlay file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".courtside.yaml"

// ConfigPathEnvVar is the environment variable name for a custom overlay path.
const ConfigPathEnvVar = "COURTSIDE_RULES_PATH"

// LoadConfig loads rule overrides from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - overrides are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
//
// This graceful degradation ensures the server can start even without an
// overlay file; the built-in per-type rules keep working.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		SemanticRules: make(map[string]RuleEntry),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Missing file is OK - overrides are optional
			slog.Debug("Rules overlay not found, continuing with built-in rules",
				slog.String("path", path))

			return cfg, nil
		}

		// Other read errors (permissions, etc.) - log warning and continue
		slog.Warn("Failed to read rules overlay, continuing with built-in rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	// Empty file is valid - just no overrides
	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		// Invalid YAML - log warning and continue with empty config
		slog.Warn("Failed to parse rules overlay, continuing with built-in rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{SemanticRules: make(map[string]RuleEntry)}, nil
	}

	// Ensure map is initialized even if YAML had nil/empty section
	if cfg.SemanticRules == nil {
		cfg.SemanticRules = make(map[string]RuleEntry)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads the overlay from the path in COURTSIDE_RULES_PATH,
// falling back to ".courtside.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
