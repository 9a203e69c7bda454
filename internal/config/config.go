// Package config loads flowline's runtime configuration: a YAML file with
// defaults-then-merge semantics and FLOWLINE_* environment variable
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TimeoutsConfig controls the Repository Gateway's per-call subprocess
// timeouts.
type TimeoutsConfig struct {
	// Read is the timeout for a single git read/mutation call.
	Read time.Duration `yaml:"read"`
	// HistoryScan is the timeout for operations that walk branch history,
	// such as GetProvides.
	HistoryScan time.Duration `yaml:"history_scan"`
}

// Config is flowline's top-level runtime configuration.
type Config struct {
	// MaxParallel bounds the Worker Pool's concurrent Active slots.
	MaxParallel int `yaml:"max_parallel"`

	// RepoPath is the working copy the Repository Gateway mutates.
	RepoPath string `yaml:"repo_path"`

	// WorktreeDir is the directory worktrees are created under, relative
	// to RepoPath (default ".worktrees").
	WorktreeDir string `yaml:"worktree_dir"`

	// InstructionsDir holds the fixed set of agent-instruction files copied
	// into each task branch's initialization commit.
	InstructionsDir string `yaml:"instructions_dir"`

	// LogLevel filters console output: trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogDir is where file-sink logs are written, if enabled.
	LogDir string `yaml:"log_dir"`

	// AgentPath is the path to the external agent runtime binary.
	AgentPath string `yaml:"agent_path"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// DefaultConfig returns flowline's out-of-the-box configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxParallel:     3,
		RepoPath:        ".",
		WorktreeDir:     ".worktrees",
		InstructionsDir: ".flowline/instructions",
		LogLevel:        "info",
		LogDir:          ".flowline/logs",
		AgentPath:       "claude",
		Timeouts: TimeoutsConfig{
			Read:        10 * time.Second,
			HistoryScan: 30 * time.Second,
		},
	}
}

// LoadConfig loads configuration from path, merging onto DefaultConfig. A
// missing file is not an error — defaults (with env overrides applied) are
// returned as-is. A present but malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Decode into a raw map first so only explicitly-present keys override
	// the defaults; a partial config file must not zero out the rest.
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := mergePresentFields(cfg, raw); err != nil {
		return nil, fmt.Errorf("apply config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func mergePresentFields(cfg *Config, raw map[string]any) error {
	if v, ok := raw["max_parallel"]; ok {
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("max_parallel: %w", err)
		}
		cfg.MaxParallel = n
	}
	if v, ok := raw["repo_path"]; ok {
		cfg.RepoPath = fmt.Sprint(v)
	}
	if v, ok := raw["worktree_dir"]; ok {
		cfg.WorktreeDir = fmt.Sprint(v)
	}
	if v, ok := raw["instructions_dir"]; ok {
		cfg.InstructionsDir = fmt.Sprint(v)
	}
	if v, ok := raw["log_level"]; ok {
		cfg.LogLevel = fmt.Sprint(v)
	}
	if v, ok := raw["log_dir"]; ok {
		cfg.LogDir = fmt.Sprint(v)
	}
	if v, ok := raw["agent_path"]; ok {
		cfg.AgentPath = fmt.Sprint(v)
	}
	if v, ok := raw["timeouts"]; ok {
		tm, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("timeouts: expected a mapping")
		}
		if rv, ok := tm["read"]; ok {
			d, err := toDuration(rv)
			if err != nil {
				return fmt.Errorf("timeouts.read: %w", err)
			}
			cfg.Timeouts.Read = d
		}
		if hv, ok := tm["history_scan"]; ok {
			d, err := toDuration(hv)
			if err != nil {
				return fmt.Errorf("timeouts.history_scan: %w", err)
			}
			cfg.Timeouts.HistoryScan = d
		}
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d) * time.Second, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// applyEnvOverrides applies FLOWLINE_* environment variables on top of
// whatever the file (or defaults) produced. Environment always wins.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWLINE_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv("FLOWLINE_REPO_PATH"); v != "" {
		cfg.RepoPath = v
	}
	if v := os.Getenv("FLOWLINE_WORKTREE_DIR"); v != "" {
		cfg.WorktreeDir = v
	}
	if v := os.Getenv("FLOWLINE_INSTRUCTIONS_DIR"); v != "" {
		cfg.InstructionsDir = v
	}
	if v := os.Getenv("FLOWLINE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWLINE_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("FLOWLINE_AGENT_PATH"); v != "" {
		cfg.AgentPath = v
	}
}
