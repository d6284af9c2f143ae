package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/patchbench/internal/agent"
	"github.com/lemon07r/patchbench/internal/checkpoint"
	"github.com/lemon07r/patchbench/internal/dataset"
	"github.com/lemon07r/patchbench/internal/predictions"
	"github.com/lemon07r/patchbench/internal/runner"
	"github.com/lemon07r/patchbench/internal/workspace"
)

var (
	runDataset     string
	runAgent       string
	runModel       string
	runMode        string
	runOutputDir   string
	runWorkDir     string
	runMaxWorkers  int
	runTimeout     int
	runRetries     int
	runRetryDelay  int
	runResume      string
	runRetryFailed bool
	runLimit       int
	runSkip        int
	runSandbox     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark against a dataset",
	Long: `Runs every instance in the dataset through the configured agent: clone the
repository at its base commit, let the agent attempt a fix under a timeout,
and record the resulting diff in predictions.jsonl.

The checkpoint written after every completion makes runs resumable:
interrupting and restarting with --resume skips everything already decided.

Examples:
  patchbench run --dataset verified.jsonl --agent claude --limit 10
  patchbench run --dataset verified.jsonl --mode orchestrated --max-workers 4
  patchbench run --dataset verified.jsonl --resume predictions/checkpoint.json
  patchbench run --dataset verified.jsonl --timeout 2700`,
	RunE: func(cmd *cobra.Command, args []string) error {
		agentCfg := cfg.GetAgent(runAgent)
		if agentCfg == nil {
			return fmt.Errorf("unknown agent: %s (available: %s)", runAgent, strings.Join(cfg.ListAgents(), ", "))
		}

		// Flags not set fall back to config values.
		if runModel == "" {
			runModel = cfg.Harness.Model
		}
		if runMode == "" {
			runMode = cfg.Harness.Mode
		}
		switch runMode {
		case "vanilla", "orchestrated":
			// OK
		default:
			return fmt.Errorf("invalid --mode %q (valid: vanilla, orchestrated)", runMode)
		}
		if runOutputDir == "" {
			runOutputDir = cfg.Harness.OutputDir
		}
		if runMaxWorkers <= 0 {
			runMaxWorkers = cfg.Harness.MaxWorkers
		}
		if runTimeout <= 0 {
			runTimeout = cfg.Harness.Timeout
		}
		if runRetries <= 0 {
			runRetries = cfg.Harness.Retries
		}
		if runRetryDelay < 0 {
			runRetryDelay = cfg.Harness.RetryDelay
		}

		logsDir := filepath.Join(runOutputDir, "logs")
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		checkpointPath := filepath.Join(runOutputDir, "checkpoint.json")
		predictionsPath := filepath.Join(runOutputDir, "predictions.jsonl")
		failuresPath := filepath.Join(runOutputDir, "failures.jsonl")
		statsPath := filepath.Join(runOutputDir, "stats.json")

		// Fail fast on missing credentials before touching the dataset.
		invoker := agent.NewInvoker(runAgent, *agentCfg, runModel, runMode, time.Duration(runTimeout)*time.Second, logger)
		invoker.SetLogDir(logsDir)
		if err := invoker.CheckCredentials(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var store *checkpoint.Store
		if runResume != "" {
			var err error
			store, err = checkpoint.Load(runResume)
			if err != nil {
				return fmt.Errorf("loading resume checkpoint: %w", err)
			}
			store.SetPath(checkpointPath)
			logger.Info("resuming from checkpoint",
				"completed", len(store.CompletedSet()), "failed", len(store.FailedSet()))

			if runRetryFailed {
				if err := store.ClearFailed(); err != nil {
					return fmt.Errorf("clearing failed set: %w", err)
				}
				logger.Info("previously failed instances are eligible again")
			}

			// Don't trust the checkpoint blindly: an id checkpointed complete
			// whose artifact is missing or corrupt must run again.
			recs, err := predictions.Load(predictionsPath)
			if err != nil {
				return fmt.Errorf("loading predictions for repair: %w", err)
			}
			have := predictions.IDSet(recs)
			for _, id := range predictions.Verify(recs) {
				logger.Warn("prediction digest mismatch, instance will rerun", "instance", id)
				delete(have, id)
			}
			dropped, err := store.Repair(have)
			if err != nil {
				return fmt.Errorf("repairing checkpoint: %w", err)
			}
			if len(dropped) > 0 {
				logger.Warn("checkpointed instances missing artifacts, will rerun",
					"count", len(dropped), "instances", strings.Join(dropped, ","))
			}
		} else {
			store = checkpoint.New(checkpointPath, runMode, checkpoint.RunConfig{
				Dataset:    runDataset,
				Timeout:    runTimeout,
				MaxWorkers: runMaxWorkers,
			})
		}

		instances, err := dataset.Load(runDataset)
		if err != nil {
			return err
		}
		logger.Info("loaded dataset", "path", runDataset, "instances", len(instances))

		instances = dataset.FilterCompleted(instances, store.TerminalSet())
		instances = dataset.Window(instances, runSkip, runLimit)
		if len(instances) == 0 {
			fmt.Println("No instances to process.")
			return nil
		}
		if err := store.SetTotal(len(instances)); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}

		if runSandbox {
			if cfg.Docker.Image == "" {
				return fmt.Errorf("--sandbox requires docker.image in the config")
			}
			sandbox, err := agent.NewSandbox(cfg.Docker.Image, cfg.Docker.AutoPull, logger)
			if err != nil {
				return err
			}
			defer func() { _ = sandbox.Close() }()
			if err := sandbox.EnsureImage(ctx); err != nil {
				return err
			}
			invoker.SetSandbox(sandbox)
		}

		sink, err := predictions.Open(predictionsPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()
		failuresSink, err := predictions.Open(failuresPath)
		if err != nil {
			return err
		}
		defer func() { _ = failuresSink.Close() }()

		provisioner := workspace.NewProvisioner(runWorkDir, cfg.Harness.CloneDepth, logger)
		processor := runner.NewProcessor(provisioner, invoker, runRetries, time.Duration(runRetryDelay)*time.Second, logger)
		modelName := fmt.Sprintf("%s-%s", runAgent, runMode)
		sched := runner.NewScheduler(processor, runMaxWorkers, store, sink, failuresSink, modelName, logger)

		fmt.Println()
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println(" PATCHBENCH - Benchmark Run")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		fmt.Printf(" Agent:     %s\n", runAgent)
		fmt.Printf(" Model:     %s\n", runModel)
		fmt.Printf(" Mode:      %s\n", runMode)
		fmt.Printf(" Workers:   %d\n", runMaxWorkers)
		fmt.Printf(" Timeout:   %ds\n", runTimeout)
		fmt.Printf(" Retries:   %d\n", runRetries)
		fmt.Printf(" Instances: %d\n", len(instances))
		fmt.Printf(" Output:    %s\n", runOutputDir)
		fmt.Println()

		start := time.Now()
		stats, runErr := sched.Run(ctx, instances)

		// Stats are derived; always write what we have, even on interrupt.
		if err := stats.Save(statsPath); err != nil {
			logger.Warn("failed to save stats", "error", err)
		}

		sum := stats.Snapshot()
		fmt.Println()
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println(" RUN SUMMARY")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println()
		fmt.Printf(" Completed:    %d\n", sum.Completed)
		fmt.Printf(" Failed:       %d\n", sum.Failed)
		fmt.Printf(" Total:        %d\n", sum.Total)
		fmt.Printf(" Success Rate: %.1f%%\n", sum.SuccessRate)
		fmt.Printf(" Elapsed:      %s\n", time.Since(start).Round(time.Second))
		fmt.Println()
		fmt.Printf(" Predictions saved to: %s\n", predictionsPath)
		fmt.Printf(" Checkpoint saved to:  %s\n", checkpointPath)
		fmt.Println()

		if runErr != nil && ctx.Err() != nil {
			fmt.Println(" Interrupted. Resume with:")
			fmt.Printf("   patchbench run --dataset %s --resume %s\n\n", runDataset, checkpointPath)
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runDataset, "dataset", "", "dataset file (JSONL or JSON array) of instances (required)")
	runCmd.Flags().StringVar(&runAgent, "agent", "claude", "agent to invoke")
	runCmd.Flags().StringVar(&runModel, "model", "", "model passed to the agent")
	runCmd.Flags().StringVar(&runMode, "mode", "", "run mode: vanilla or orchestrated")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "output directory for predictions and checkpoint")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", "", "base directory for workspaces (default: system temp)")
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "number of parallel instances")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "per-attempt agent timeout in seconds")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "max attempts per instance")
	runCmd.Flags().IntVar(&runRetryDelay, "retry-delay", -1, "seconds between attempts")
	runCmd.Flags().StringVar(&runResume, "resume", "", "checkpoint file to resume from")
	runCmd.Flags().BoolVar(&runRetryFailed, "retry-failed", false, "with --resume, retry previously exhausted instances")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "maximum instances to run")
	runCmd.Flags().IntVar(&runSkip, "skip", 0, "number of instances to skip")
	runCmd.Flags().BoolVar(&runSandbox, "sandbox", false, "run the agent inside a Docker container")
	_ = runCmd.MarkFlagRequired("dataset")
}
