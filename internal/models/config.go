package models

import "time"

// Config represents the parsed supervisor configuration file.
type Config struct {
	BaseDir          string            `yaml:"base_dir" toml:"base_dir" json:"base_dir"`
	ScriptDir        string            `yaml:"script_dir,omitempty" toml:"script_dir" json:"script_dir,omitempty"`
	TerminationGrace time.Duration     `yaml:"termination_grace" toml:"termination_grace" json:"termination_grace"`
	DrainTimeout     time.Duration     `yaml:"drain_timeout" toml:"drain_timeout" json:"drain_timeout"`
	Log              LogConfig         `yaml:"log" toml:"log" json:"log"`
	Environment      EnvironmentConfig `yaml:"environment" toml:"environment" json:"environment"`
	Health           HealthConfig      `yaml:"health" toml:"health" json:"health"`
	Tasks            []TaskConfig      `yaml:"tasks" toml:"tasks" json:"tasks"`
}

type LogConfig struct {
	File   string `yaml:"file" toml:"file" json:"file"`
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"` // text or json
}

type EnvironmentConfig struct {
	Type     string `yaml:"type" toml:"type" json:"type"`
	Shell    string `yaml:"shell" toml:"shell" json:"shell"`
	Python   string `yaml:"python" toml:"python" json:"python"`
	Manifest string `yaml:"manifest" toml:"manifest" json:"manifest"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" toml:"addr" json:"addr"`
	Status  string `yaml:"status" toml:"status" json:"status"`
}

// TaskConfig is one entry of the static task list.
type TaskConfig struct {
	Source   string            `yaml:"source" toml:"source" json:"source"`
	Revision string            `yaml:"revision" toml:"revision" json:"revision"`
	Command  string            `yaml:"command" toml:"command" json:"command"`
	Name     string            `yaml:"name,omitempty" toml:"name" json:"name,omitempty"`
	Env      map[string]string `yaml:"env,omitempty" toml:"env" json:"env,omitempty"`
}
