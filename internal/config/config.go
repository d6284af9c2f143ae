// Package config provides configuration loading and management for patchbench.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// AgentConfig defines how to invoke a coding agent.
type AgentConfig struct {
	Command      string            `toml:"command"`       // Binary name or path
	Args         []string          `toml:"args"`          // Args with {prompt} and {tools} placeholders
	ModelFlag    string            `toml:"model_flag"`    // e.g., "--model", "-m"
	AllowedTools []string          `toml:"allowed_tools"` // Side-effecting capabilities granted to the agent
	Env          map[string]string `toml:"env"`           // Extra environment variables
	RequiredEnv  []string          `toml:"required_env"`  // Credentials that must be present before a run starts
}

// DefaultAgents provides built-in configurations for popular coding agents.
var DefaultAgents = map[string]AgentConfig{
	"claude": {
		Command:      "claude",
		Args:         []string{"--print", "{prompt}", "--allowedTools", "{tools}"},
		ModelFlag:    "--model",
		AllowedTools: []string{"Edit", "Bash", "Read", "Write", "Glob", "Grep"},
		Env:          map[string]string{"CLAUDE_CODE_DISABLE_NONESSENTIAL_TRAFFIC": "1"},
		RequiredEnv:  []string{"ANTHROPIC_AUTH_TOKEN"},
	},
	"gemini": {
		Command:   "gemini",
		Args:      []string{"--yolo", "{prompt}"},
		ModelFlag: "--model",
	},
	"opencode": {
		Command:   "opencode",
		Args:      []string{"run", "{prompt}"},
		ModelFlag: "-m",
	},
	"codex": {
		Command:   "codex",
		Args:      []string{"exec", "--dangerously-bypass-approvals-and-sandbox", "{prompt}"},
		ModelFlag: "-m",
	},
}

// Config holds all configuration for patchbench.
type Config struct {
	Harness HarnessConfig          `toml:"harness"`
	Docker  DockerConfig           `toml:"docker"`
	Agents  map[string]AgentConfig `toml:"agents"`
}

// HarnessConfig contains run-level settings.
type HarnessConfig struct {
	OutputDir  string `toml:"output_dir"`
	Timeout    int    `toml:"timeout"`     // Per-attempt agent timeout in seconds
	Retries    int    `toml:"retries"`     // Max attempts per instance
	RetryDelay int    `toml:"retry_delay"` // Seconds between attempts
	MaxWorkers int    `toml:"max_workers"`
	CloneDepth int    `toml:"clone_depth"`
	Model      string `toml:"model"`
	Mode       string `toml:"mode"` // "vanilla" or "orchestrated"
}

// DockerConfig contains settings for the optional sandboxed agent invocation.
type DockerConfig struct {
	Image    string `toml:"image"`
	AutoPull bool   `toml:"auto_pull"`
}

// Default configuration values.
var Default = Config{
	Harness: HarnessConfig{
		OutputDir:  "./predictions",
		Timeout:    1800,
		Retries:    3,
		RetryDelay: 30,
		MaxWorkers: 1,
		CloneDepth: 100,
		Model:      "claude-sonnet-4-20250514",
		Mode:       "vanilla",
	},
	Docker: DockerConfig{
		AutoPull: true,
	},
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./patchbench.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".patchbench.toml"))
		paths = append(paths, filepath.Join(home, ".config", "patchbench", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default // Start with defaults

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return &cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Ensure critical fields aren't zeroed out by partial config
	if cfg.Harness.OutputDir == "" {
		cfg.Harness.OutputDir = Default.Harness.OutputDir
	}
	if cfg.Harness.Timeout <= 0 {
		cfg.Harness.Timeout = Default.Harness.Timeout
	}
	if cfg.Harness.Retries <= 0 {
		cfg.Harness.Retries = Default.Harness.Retries
	}
	if cfg.Harness.RetryDelay < 0 {
		cfg.Harness.RetryDelay = Default.Harness.RetryDelay
	}
	if cfg.Harness.MaxWorkers <= 0 {
		cfg.Harness.MaxWorkers = Default.Harness.MaxWorkers
	}
	if cfg.Harness.CloneDepth <= 0 {
		cfg.Harness.CloneDepth = Default.Harness.CloneDepth
	}
	if cfg.Harness.Model == "" {
		cfg.Harness.Model = Default.Harness.Model
	}
	if cfg.Harness.Mode == "" {
		cfg.Harness.Mode = Default.Harness.Mode
	}

	return &cfg, nil
}

// GetAgent returns the agent configuration for the given name.
// User-configured agents take precedence over built-in defaults.
// Returns nil if the agent is not found.
func (c *Config) GetAgent(name string) *AgentConfig {
	// Check user-configured agents first
	if c.Agents != nil {
		if agent, ok := c.Agents[name]; ok {
			return &agent
		}
	}
	// Fall back to built-in defaults
	if agent, ok := DefaultAgents[name]; ok {
		return &agent
	}
	return nil
}

// ListAgents returns all available agent names (built-in + user-configured), sorted.
func (c *Config) ListAgents() []string {
	seen := make(map[string]bool)
	var names []string

	for name := range c.Agents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for name := range DefaultAgents {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}
