// Package workspace provisions isolated, disposable git checkouts for agent attempts.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lemon07r/patchbench/internal/dataset"
)

// Per-subcommand timeouts. Clone dominates; fetch and checkout operate on an
// already-present object store.
const (
	cloneTimeout    = 5 * time.Minute
	fetchTimeout    = 2 * time.Minute
	checkoutTimeout = 1 * time.Minute
)

// ProvisionError reports a failure to materialize a workspace.
type ProvisionError struct {
	InstanceID string
	Stage      string // "clone", "fetch", or "checkout"
	Err        error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %s: %s: %v", e.InstanceID, e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// RunGitFunc executes a git subcommand in dir and returns its combined output.
// Injectable so tests run without network access.
type RunGitFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// DefaultRunGit runs the real git binary.
func DefaultRunGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Workspace is an exclusively-owned checkout used for exactly one attempt.
type Workspace struct {
	Dir        string
	InstanceID string
	logger     *slog.Logger
}

// New wraps an existing directory as a workspace. Mostly useful for tests;
// production workspaces come from Provisioner.Provision.
func New(dir, instanceID string, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{Dir: dir, InstanceID: instanceID, logger: logger}
}

// Cleanup removes the workspace directory. Safe to call more than once.
func (w *Workspace) Cleanup() {
	if w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		w.logger.Warn("failed to clean up workspace", "dir", w.Dir, "error", err)
	}
	w.Dir = ""
}

// Provisioner materializes fresh checkouts at a pinned revision with shallow
// history. Workspaces are never reused across tasks or attempts.
type Provisioner struct {
	baseDir string
	depth   int
	runGit  RunGitFunc
	logger  *slog.Logger
}

// NewProvisioner creates a provisioner that places workspaces under baseDir
// (os.TempDir() if empty), cloning with the given shallow depth.
func NewProvisioner(baseDir string, depth int, logger *slog.Logger) *Provisioner {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if depth <= 0 {
		depth = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		baseDir: baseDir,
		depth:   depth,
		runGit:  DefaultRunGit,
		logger:  logger,
	}
}

// SetRunGit overrides the git command runner. Tests use this to avoid network I/O.
func (p *Provisioner) SetRunGit(run RunGitFunc) { p.runGit = run }

// Provision clones the instance's repository and checks out its base commit.
// On any failure the partially-created directory is removed before returning.
func (p *Provisioner) Provision(ctx context.Context, inst dataset.Instance) (*Workspace, error) {
	dir := filepath.Join(p.baseDir, fmt.Sprintf("patchbench-%s-%s", inst.InstanceID, uuid.NewString()[:8]))
	ws := New(dir, inst.InstanceID, p.logger)

	repoURL := fmt.Sprintf("https://github.com/%s.git", inst.Repo)
	depth := fmt.Sprintf("%d", p.depth)

	p.logger.Debug("cloning repository", "repo", repoURL, "dir", dir)
	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	out, err := p.runGit(cloneCtx, "", "clone", "--depth", depth, repoURL, dir)
	cancel()
	if err != nil {
		ws.Cleanup()
		return nil, &ProvisionError{InstanceID: inst.InstanceID, Stage: "clone", Err: gitErr(err, out)}
	}

	// A shallow clone of the default branch may not contain the base commit;
	// fetch it directly. Some servers reject SHA fetches, so this is
	// best-effort and the checkout below is the authoritative check.
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	if out, err := p.runGit(fetchCtx, dir, "fetch", "--depth", depth, "origin", inst.BaseCommit); err != nil {
		p.logger.Debug("fetch of base commit failed", "instance", inst.InstanceID, "output", string(out))
	}
	cancel()

	checkoutCtx, cancel := context.WithTimeout(ctx, checkoutTimeout)
	out, err = p.runGit(checkoutCtx, dir, "checkout", inst.BaseCommit)
	cancel()
	if err != nil {
		ws.Cleanup()
		return nil, &ProvisionError{InstanceID: inst.InstanceID, Stage: "checkout", Err: gitErr(err, out)}
	}

	return ws, nil
}

// gitErr folds captured git output into the error so failures are diagnosable
// from the run log alone.
func gitErr(err error, output []byte) error {
	msg := string(output)
	if len(msg) > 500 {
		msg = msg[:500]
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
