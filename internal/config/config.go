package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/repovisor/internal/models"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() models.Config {
	return models.Config{
		BaseDir:      "projects",
		DrainTimeout: 5 * time.Second,
		Log: models.LogConfig{
			File:   "runner_log.txt",
			Level:  "info",
			Format: "text",
		},
		Environment: models.EnvironmentConfig{
			Type:     "venv",
			Shell:    "/bin/bash",
			Python:   "python3",
			Manifest: "requirements.txt",
		},
		Health: models.HealthConfig{
			Enabled: true,
			Addr:    "0.0.0.0:8000",
			Status:  "running",
		},
	}
}

// LoadConfig loads and parses a configuration file. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func LoadConfig(path string) (models.Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyDefaults(&cfg)

	if cfg.TerminationGrace < 0 {
		return cfg, fmt.Errorf("termination_grace must not be negative")
	}
	if cfg.DrainTimeout < 0 {
		return cfg, fmt.Errorf("drain_timeout must not be negative")
	}

	if _, err := TaskSpecs(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// applyDefaults backfills values left empty by the config file. Durations are
// not backfilled: an omitted key keeps the DefaultConfig value and an explicit
// zero is kept as zero.
func applyDefaults(cfg *models.Config) {
	def := DefaultConfig()
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Environment.Type == "" {
		cfg.Environment.Type = def.Environment.Type
	}
	if cfg.Environment.Shell == "" {
		cfg.Environment.Shell = def.Environment.Shell
	}
	if cfg.Environment.Python == "" {
		cfg.Environment.Python = def.Environment.Python
	}
	if cfg.Environment.Manifest == "" {
		cfg.Environment.Manifest = def.Environment.Manifest
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = def.Health.Addr
	}
	if cfg.Health.Status == "" {
		cfg.Health.Status = def.Health.Status
	}
}

// TaskSpecs converts the configured task list into TaskSpecs, in order.
// Duplicate identities are rejected.
func TaskSpecs(cfg models.Config) ([]models.TaskSpec, error) {
	specs := make([]models.TaskSpec, 0, len(cfg.Tasks))
	seen := make(map[string]int, len(cfg.Tasks))

	for i, tc := range cfg.Tasks {
		spec, err := models.NewTaskSpec(tc.Source, tc.Revision, tc.Command, tc.Name, tc.Env)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if j, ok := seen[spec.Identity]; ok {
			return nil, fmt.Errorf("tasks[%d]: identity %q already used by tasks[%d]", i, spec.Identity, j)
		}
		seen[spec.Identity] = i
		specs = append(specs, spec)
	}

	return specs, nil
}
