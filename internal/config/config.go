// Package config loads the morphological parser subsystem's configuration.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ToolkitConfig names the external binaries used to compile and apply FSTs
// and to train language models.
type ToolkitConfig struct {
	Foma          string `yaml:"foma"`
	Flookup       string `yaml:"flookup"`
	EstimateNgram string `yaml:"estimate_ngram"`
}

// TimeoutConfig holds default wall-clock timeouts, in seconds, for the
// subprocess operations spec.md §5 calls out.
type TimeoutConfig struct {
	CompileSeconds  int `yaml:"compile_seconds"`
	ApplySeconds    int `yaml:"apply_seconds"`
	WriteArpaSeconds int `yaml:"write_arpa_seconds"`
}

// LoggingConfig mirrors logging.Config in YAML-serializable form.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	JSONFormat bool            `yaml:"json_format"`
}

// CacheConfig selects and configures the parser cache's durable backend.
type CacheConfig struct {
	// Backend is one of "memory", "file", "sqlite".
	Backend string `yaml:"backend"`
	// FilePath is the JSON cache file path when Backend == "file".
	FilePath string `yaml:"file_path"`
	// SQLitePath is the database file path when Backend == "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
}

// Config holds all morphological-parser subsystem configuration.
type Config struct {
	// Root is the directory under which parser/phonology/morphology/LM
	// workspaces are created.
	Root     string        `yaml:"root"`
	Toolkit  ToolkitConfig `yaml:"toolkit"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Logging  LoggingConfig `yaml:"logging"`
	Cache    CacheConfig   `yaml:"cache"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Root: ".",
		Toolkit: ToolkitConfig{
			Foma:          "foma",
			Flookup:       "flookup",
			EstimateNgram: "estimate-ngram",
		},
		Timeouts: TimeoutConfig{
			CompileSeconds:   30 * 60,
			ApplySeconds:     30,
			WriteArpaSeconds: 30 * 60,
		},
		Logging: LoggingConfig{
			DebugMode: false,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
	}
}

// Load reads a YAML config file at path, falling back to defaults for any
// field the file doesn't set. A missing file is not an error: Load returns
// DefaultConfig().
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
