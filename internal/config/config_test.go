package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	if Default.Harness.OutputDir != "./predictions" {
		t.Errorf("default output dir = %q, want ./predictions", Default.Harness.OutputDir)
	}
	if Default.Harness.Timeout <= 0 {
		t.Errorf("default timeout = %d, want > 0", Default.Harness.Timeout)
	}
	if Default.Harness.Retries <= 0 {
		t.Errorf("default retries = %d, want > 0", Default.Harness.Retries)
	}
	if Default.Harness.MaxWorkers != 1 {
		t.Errorf("default max workers = %d, want 1", Default.Harness.MaxWorkers)
	}
	if Default.Harness.Mode != "vanilla" {
		t.Errorf("default mode = %q, want vanilla", Default.Harness.Mode)
	}
	if Default.Docker.AutoPull != true {
		t.Error("default auto pull should be true")
	}
}

func TestBuiltinAgents(t *testing.T) {
	t.Parallel()

	claude, ok := DefaultAgents["claude"]
	if !ok {
		t.Fatal("claude agent should be built in")
	}
	if len(claude.AllowedTools) == 0 {
		t.Error("claude agent should have an explicit tool allow-list")
	}
	if len(claude.RequiredEnv) == 0 {
		t.Error("claude agent should require credentials")
	}

	for name, agent := range DefaultAgents {
		if agent.Command == "" {
			t.Errorf("agent %s has no command", name)
		}
		hasPrompt := false
		for _, arg := range agent.Args {
			if arg == "{prompt}" {
				hasPrompt = true
			}
		}
		if !hasPrompt {
			t.Errorf("agent %s has no {prompt} placeholder", name)
		}
	}
}

func TestLoadNoFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Harness.OutputDir != Default.Harness.OutputDir {
		t.Errorf("output dir = %q, want %q", cfg.Harness.OutputDir, Default.Harness.OutputDir)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "test.toml")

	content := `
[harness]
output_dir = "./custom-predictions"
timeout = 60
retries = 5
retry_delay = 2
max_workers = 4
mode = "orchestrated"

[docker]
image = "custom-agent:latest"
auto_pull = false

[agents.claude]
command = "claude"
args = ["--print", "{prompt}"]
required_env = ["MY_TOKEN"]
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Harness.OutputDir != "./custom-predictions" {
		t.Errorf("output dir = %q", cfg.Harness.OutputDir)
	}
	if cfg.Harness.Timeout != 60 {
		t.Errorf("timeout = %d, want 60", cfg.Harness.Timeout)
	}
	if cfg.Harness.MaxWorkers != 4 {
		t.Errorf("max workers = %d, want 4", cfg.Harness.MaxWorkers)
	}
	if cfg.Harness.Mode != "orchestrated" {
		t.Errorf("mode = %q, want orchestrated", cfg.Harness.Mode)
	}
	if cfg.Docker.Image != "custom-agent:latest" {
		t.Errorf("docker image = %q", cfg.Docker.Image)
	}
	if cfg.Docker.AutoPull {
		t.Error("auto pull should be false")
	}

	// User-configured agent overrides the built-in.
	claude := cfg.GetAgent("claude")
	if claude == nil {
		t.Fatal("GetAgent(claude) = nil")
	}
	if len(claude.RequiredEnv) != 1 || claude.RequiredEnv[0] != "MY_TOKEN" {
		t.Errorf("required env = %v, want [MY_TOKEN]", claude.RequiredEnv)
	}
}

func TestLoadPartialBackfill(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "partial.toml")
	content := `
[harness]
retries = 7
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harness.Retries != 7 {
		t.Errorf("retries = %d, want 7", cfg.Harness.Retries)
	}
	if cfg.Harness.Timeout != Default.Harness.Timeout {
		t.Errorf("timeout = %d, want default %d", cfg.Harness.Timeout, Default.Harness.Timeout)
	}
	if cfg.Harness.OutputDir != Default.Harness.OutputDir {
		t.Errorf("output dir = %q, want default", cfg.Harness.OutputDir)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() of missing explicit file should error")
	}
}

func TestGetAgentUnknown(t *testing.T) {
	t.Parallel()

	cfg := Default
	if agent := cfg.GetAgent("not-a-real-agent"); agent != nil {
		t.Errorf("GetAgent(unknown) = %v, want nil", agent)
	}
}

func TestListAgentsSorted(t *testing.T) {
	t.Parallel()

	cfg := Default
	cfg.Agents = map[string]AgentConfig{"zz-custom": {Command: "zz"}}

	names := cfg.ListAgents()
	if len(names) < len(DefaultAgents)+1 {
		t.Fatalf("ListAgents() = %d names, want at least %d", len(names), len(DefaultAgents)+1)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("names not sorted: %q before %q", names[i-1], names[i])
		}
	}
}
