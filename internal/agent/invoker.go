// Package agent invokes an external coding agent as a bounded subprocess and
// reads its proposed change back as a git diff.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lemon07r/patchbench/internal/config"
	"github.com/lemon07r/patchbench/internal/dataset"
	"github.com/lemon07r/patchbench/internal/workspace"
)

const extractTimeout = 30 * time.Second

// Usage holds token accounting scraped from agent output. Best-effort; agents
// report usage in free-form text, if at all.
type Usage struct {
	Raw    string `json:"raw,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
}

var tokenLineRe = regexp.MustCompile(`(?i)([\d,]+)\s*tokens`)

// scrapeUsage extracts the last token-count mention from agent output.
func scrapeUsage(output []byte) Usage {
	var usage Usage
	for _, line := range strings.Split(string(output), "\n") {
		m := tokenLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		usage.Raw = strings.TrimSpace(line)
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			usage.Tokens = n
		}
	}
	return usage
}

// Invoker runs a configured agent against workspaces under a wall-clock
// timeout. Exit codes are advisory only; patch extraction is authoritative.
type Invoker struct {
	name    string
	cfg     config.AgentConfig
	model   string
	mode    string
	timeout time.Duration
	logDir  string
	runGit  workspace.RunGitFunc
	sandbox *Sandbox
	logger  *slog.Logger
}

// NewInvoker creates an invoker for the named agent configuration.
func NewInvoker(name string, cfg config.AgentConfig, model, mode string, timeout time.Duration, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		name:    name,
		cfg:     cfg,
		model:   model,
		mode:    mode,
		timeout: timeout,
		runGit:  workspace.DefaultRunGit,
		logger:  logger,
	}
}

// SetLogDir directs per-instance agent output logs to dir. Logs live outside
// the workspace so they never show up in the extracted diff.
func (iv *Invoker) SetLogDir(dir string) { iv.logDir = dir }

// SetSandbox routes agent invocations through a Docker container instead of a
// direct subprocess.
func (iv *Invoker) SetSandbox(s *Sandbox) { iv.sandbox = s }

// SetRunGit overrides the git runner used for patch extraction. Tests use this.
func (iv *Invoker) SetRunGit(run workspace.RunGitFunc) { iv.runGit = run }

// CheckCredentials verifies the agent's required credentials are present in
// the invocation environment. Called once before a run starts so a missing
// credential fails fast instead of burning retries.
func (iv *Invoker) CheckCredentials() error {
	for _, key := range iv.cfg.RequiredEnv {
		if os.Getenv(key) != "" {
			continue
		}
		if _, ok := iv.cfg.Env[key]; ok {
			continue
		}
		return &ConfigError{Reason: fmt.Sprintf("%s not found in environment (required by agent %q)", key, iv.name)}
	}
	return nil
}

// buildArgs expands the agent's arg template: {prompt} and {tools} are
// substituted, and the model flag pair is inserted just before the prompt.
func (iv *Invoker) buildArgs(prompt string) []string {
	tools := strings.Join(iv.cfg.AllowedTools, ",")

	args := make([]string, 0, len(iv.cfg.Args)+2)
	for _, arg := range iv.cfg.Args {
		if strings.Contains(arg, "{prompt}") && iv.model != "" && iv.cfg.ModelFlag != "" {
			args = append(args, iv.cfg.ModelFlag, iv.model)
		}
		arg = strings.ReplaceAll(arg, "{prompt}", prompt)
		arg = strings.ReplaceAll(arg, "{tools}", tools)
		args = append(args, arg)
	}
	return args
}

// env returns the subprocess environment: the parent environment plus the
// agent's configured variables.
func (iv *Invoker) env() []string {
	env := os.Environ()
	for k, v := range iv.cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Invoke runs the agent against the workspace and returns the extracted
// patch. A timeout hard-kills the subprocess tree and returns *TimeoutError.
// No net change in the workspace returns ErrNoPatch.
func (iv *Invoker) Invoke(ctx context.Context, ws *workspace.Workspace, inst dataset.Instance) (string, Usage, error) {
	prompt := BuildPrompt(iv.mode, inst)
	argv := iv.buildArgs(prompt)

	attemptCtx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()

	iv.logger.Debug("invoking agent", "agent", iv.name, "instance", inst.InstanceID, "timeout", iv.timeout)

	var output []byte
	var runErr error
	start := time.Now()
	if iv.sandbox != nil {
		output, runErr = iv.sandbox.Run(attemptCtx, ws.Dir, append([]string{iv.cfg.Command}, argv...), iv.cfg.Env)
	} else {
		cmd := exec.CommandContext(attemptCtx, iv.cfg.Command, argv...)
		cmd.Dir = ws.Dir
		cmd.Env = iv.env()
		setupProcessGroup(cmd)
		output, runErr = cmd.CombinedOutput()
	}

	iv.writeLog(inst.InstanceID, output)
	usage := scrapeUsage(output)

	if err := ctx.Err(); err != nil {
		return "", usage, err
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		iv.logger.Warn("agent timed out", "instance", inst.InstanceID, "timeout", iv.timeout, "elapsed", time.Since(start).Round(time.Second))
		return "", usage, &TimeoutError{Timeout: iv.timeout}
	}
	if runErr != nil {
		// Agents routinely exit non-zero after doing useful work; the diff decides.
		iv.logger.Debug("agent returned error", "instance", inst.InstanceID, "error", runErr)
	}

	patch, err := iv.ExtractPatch(ctx, ws.Dir)
	if err != nil {
		return "", usage, err
	}
	return patch, usage, nil
}

// ExtractPatch reads the net effect of the agent's work as a single diff
// relative to the pristine checkout. Untracked files are staged so new files
// appear in the diff. Returns ErrNoPatch if the workspace is unchanged.
func (iv *Invoker) ExtractPatch(ctx context.Context, dir string) (string, error) {
	extractCtx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	out, err := iv.runGit(extractCtx, dir, "diff", "HEAD")
	if err != nil {
		return "", fmt.Errorf("extracting diff: %w", gitErr(err, out))
	}
	patch := strings.TrimSpace(string(out))

	if patch == "" {
		st, err := iv.runGit(extractCtx, dir, "status", "--porcelain")
		if err == nil && strings.TrimSpace(string(st)) != "" {
			// Untracked changes exist; stage everything and diff the index.
			_, _ = iv.runGit(extractCtx, dir, "add", "-A")
			out, err = iv.runGit(extractCtx, dir, "diff", "--cached")
			if err != nil {
				return "", fmt.Errorf("extracting staged diff: %w", gitErr(err, out))
			}
			patch = strings.TrimSpace(string(out))
		}
	}

	if patch == "" {
		return "", ErrNoPatch
	}
	return patch, nil
}

// writeLog saves the agent's combined output for later analysis. Overwritten
// on each attempt; the final attempt's log is the one that matters.
func (iv *Invoker) writeLog(instanceID string, output []byte) {
	if iv.logDir == "" {
		return
	}
	path := filepath.Join(iv.logDir, instanceID+".log")
	if err := os.WriteFile(path, output, 0644); err != nil {
		iv.logger.Warn("failed to write agent log", "path", path, "error", err)
	}
}

// gitErr folds captured git output into the error.
func gitErr(err error, output []byte) error {
	msg := strings.TrimSpace(string(output))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
