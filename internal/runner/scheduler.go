package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/lemon07r/patchbench/internal/checkpoint"
	"github.com/lemon07r/patchbench/internal/dataset"
	"github.com/lemon07r/patchbench/internal/predictions"
)

// TaskRunner drives one instance to a terminal outcome.
type TaskRunner interface {
	Process(ctx context.Context, inst dataset.Instance) (Result, error)
}

// Scheduler runs instances under bounded parallelism. Workers only execute;
// every write to the checkpoint store, the prediction sink, and the stats
// accumulator happens on the collector goroutine, in completion order, before
// the worker's slot is refilled with new work.
type Scheduler struct {
	runner    TaskRunner
	workers   int
	store     *checkpoint.Store
	sink      *predictions.Sink
	failures  *predictions.Sink
	modelName string
	logger    *slog.Logger
}

// NewScheduler creates a scheduler with the given concurrency bound. With
// workers=1 execution is strictly sequential and order-preserving.
func NewScheduler(runner TaskRunner, workers int, store *checkpoint.Store, sink, failures *predictions.Sink, modelName string, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:    runner,
		workers:   workers,
		store:     store,
		sink:      sink,
		failures:  failures,
		modelName: modelName,
		logger:    logger,
	}
}

// Run processes all instances and returns aggregate statistics. A single
// instance's failure never aborts the run; only run-fatal errors (credential
// misconfiguration, cancellation, persistence failure) do.
func (s *Scheduler) Run(ctx context.Context, instances []dataset.Instance) (*Stats, error) {
	stats := NewStats(len(instances))
	if len(instances) == 0 {
		return stats, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan dataset.Instance)
	results := make(chan Result)

	g, gctx := errgroup.WithContext(runCtx)

	// Feeder. Closing jobs lets idle workers drain and exit.
	g.Go(func() error {
		defer close(jobs)
		for _, inst := range instances {
			select {
			case jobs <- inst:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range s.workers {
		g.Go(func() error {
			for inst := range jobs {
				res, err := s.runner.Process(gctx, inst)
				if err != nil {
					return fmt.Errorf("%s: %w", inst.InstanceID, err)
				}
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	var workerErr error
	go func() {
		workerErr = g.Wait()
		close(results)
	}()

	// Collector: single writer for checkpoint, sink, and stats.
	start := time.Now()
	var persistErr error
	processed := 0
	for res := range results {
		if persistErr != nil {
			continue // draining after a persistence failure
		}
		processed++
		if err := s.handleResult(res, stats, processed, len(instances), start); err != nil {
			persistErr = err
			cancel()
		}
	}

	if persistErr != nil {
		return stats, persistErr
	}
	return stats, workerErr
}

// handleResult persists one completion: checkpoint first, then the artifact,
// then the in-memory aggregate, so a crash window can only ever leave a
// checkpointed id without its artifact, which resume repair resolves.
func (s *Scheduler) handleResult(res Result, stats *Stats, processed, total int, start time.Time) error {
	if res.Success {
		if err := s.store.MarkCompleted(res.InstanceID); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}
		if err := s.sink.Append(predictions.Record{
			InstanceID:      res.InstanceID,
			ModelNameOrPath: s.modelName,
			ModelPatch:      res.Patch,
		}); err != nil {
			return fmt.Errorf("appending prediction: %w", err)
		}
	} else {
		if err := s.store.MarkFailed(res.InstanceID); err != nil {
			return fmt.Errorf("persisting checkpoint: %w", err)
		}
		if s.failures != nil {
			if err := s.failures.AppendFailure(predictions.Failure{
				InstanceID: res.InstanceID,
				Error:      res.Error,
				Attempts:   res.Attempts,
			}); err != nil {
				return fmt.Errorf("appending failure: %w", err)
			}
		}
	}

	stats.Add(res)

	status := "SUCCESS"
	if !res.Success {
		status = "FAILED: " + res.Error
	}
	s.logger.Info(fmt.Sprintf("[%d/%d] %s: %s", processed, total, res.InstanceID, status),
		"duration", res.Duration.Round(100*time.Millisecond),
		"eta", FormatETA(EstimateETA(processed, total, time.Since(start))))

	return nil
}

// EstimateETA projects time remaining from average completion time so far.
// Returns 0 until the first completion lands.
func EstimateETA(completed, total int, elapsed time.Duration) time.Duration {
	if completed == 0 || total <= completed {
		return 0
	}
	avg := elapsed / time.Duration(completed)
	return time.Duration(total-completed) * avg
}

// FormatETA renders an ETA for log lines.
func FormatETA(eta time.Duration) string {
	if eta <= 0 {
		return "done"
	}
	return humanize.Time(time.Now().Add(eta))
}
