// Package runner contains the task execution engine: the per-task retry
// controller and the bounded-parallel scheduler.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lemon07r/patchbench/internal/agent"
	"github.com/lemon07r/patchbench/internal/dataset"
	"github.com/lemon07r/patchbench/internal/workspace"
)

// Provisioner materializes a disposable workspace for one attempt.
type Provisioner interface {
	Provision(ctx context.Context, inst dataset.Instance) (*workspace.Workspace, error)
}

// Invoker runs the agent against a workspace and extracts the resulting patch.
type Invoker interface {
	Invoke(ctx context.Context, ws *workspace.Workspace, inst dataset.Instance) (string, agent.Usage, error)
}

// Result is the terminal outcome of one instance. Produced exactly once per
// instance per run and never mutated afterwards.
type Result struct {
	InstanceID string
	Success    bool
	Patch      string
	Error      string
	Duration   time.Duration
	Usage      agent.Usage
	Attempts   int
}

// Processor is the per-task retry controller. Each attempt provisions a fresh
// workspace, invokes the agent, and tears the workspace down; transient
// failures sleep a fixed delay and try again up to the attempt budget.
type Processor struct {
	provisioner Provisioner
	invoker     Invoker
	retries     int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewProcessor creates a retry controller with the given attempt budget and
// fixed inter-attempt delay.
func NewProcessor(p Provisioner, iv Invoker, retries int, retryDelay time.Duration, logger *slog.Logger) *Processor {
	if retries <= 0 {
		retries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		provisioner: p,
		invoker:     iv,
		retries:     retries,
		retryDelay:  retryDelay,
		logger:      logger,
	}
}

// Process drives one instance to a terminal outcome. The returned error is
// non-nil only for run-fatal conditions (misconfiguration, cancellation);
// ordinary attempt failures are absorbed into the Result.
func (p *Processor) Process(ctx context.Context, inst dataset.Instance) (Result, error) {
	start := time.Now()
	res := Result{InstanceID: inst.InstanceID}

	var lastErr error
	for attempt := 0; attempt < p.retries; attempt++ {
		if attempt > 0 {
			p.logger.Info("retrying instance", "instance", inst.InstanceID, "attempt", attempt+1, "retries", p.retries)
			select {
			case <-ctx.Done():
				res.Duration = time.Since(start)
				return res, ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
		res.Attempts = attempt + 1

		patch, usage, err := p.runAttempt(ctx, inst)
		res.Usage = usage
		if err == nil {
			res.Success = true
			res.Patch = patch
			break
		}

		var cfgErr *agent.ConfigError
		if errors.As(err, &cfgErr) {
			// Run-level misconfiguration; retrying cannot help anyone.
			res.Duration = time.Since(start)
			return res, err
		}
		if ctx.Err() != nil {
			res.Duration = time.Since(start)
			return res, ctx.Err()
		}

		lastErr = err
		p.logger.Warn("attempt failed", "instance", inst.InstanceID, "attempt", attempt+1, "error", err)
	}

	if !res.Success && lastErr != nil {
		res.Error = lastErr.Error()
	}
	res.Duration = time.Since(start)
	return res, nil
}

// runAttempt performs one provision+invoke cycle. The workspace is torn down
// on every exit path before the next attempt provisions a new one.
func (p *Processor) runAttempt(ctx context.Context, inst dataset.Instance) (string, agent.Usage, error) {
	ws, err := p.provisioner.Provision(ctx, inst)
	if err != nil {
		return "", agent.Usage{}, err
	}
	defer ws.Cleanup()

	return p.invoker.Invoke(ctx, ws, inst)
}
