package runner

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lemon07r/patchbench/internal/agent"
)

func TestStatsAccumulation(t *testing.T) {
	t.Parallel()

	stats := NewStats(4)
	stats.Add(Result{Success: true, Duration: 10 * time.Second, Usage: agent.Usage{Tokens: 1000}})
	stats.Add(Result{Success: true, Duration: 20 * time.Second, Usage: agent.Usage{Tokens: 500}})
	stats.Add(Result{Success: false, Duration: 30 * time.Second})

	if stats.Processed() != 3 {
		t.Errorf("Processed() = %d, want 3", stats.Processed())
	}

	sum := stats.Snapshot()
	if sum.Total != 4 || sum.Completed != 2 || sum.Failed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.SuccessRate != 50 {
		t.Errorf("success rate = %.1f, want 50.0", sum.SuccessRate)
	}
	if sum.TotalDuration != 60 {
		t.Errorf("total duration = %.1f, want 60.0", sum.TotalDuration)
	}
	if sum.AvgDuration != 15 {
		t.Errorf("avg duration = %.1f, want 15.0", sum.AvgDuration)
	}
	if sum.TotalTokens != 1500 {
		t.Errorf("total tokens = %d, want 1500", sum.TotalTokens)
	}
}

func TestStatsEmpty(t *testing.T) {
	t.Parallel()

	sum := NewStats(0).Snapshot()
	if sum.SuccessRate != 0 || sum.AvgDuration != 0 {
		t.Errorf("empty summary = %+v, want zero rates", sum)
	}
}

func TestStatsSaveLoad(t *testing.T) {
	t.Parallel()

	stats := NewStats(2)
	stats.Add(Result{Success: true, Duration: 5 * time.Second, Usage: agent.Usage{Tokens: 42}})
	stats.Add(Result{Success: false, Duration: 5 * time.Second})

	path := filepath.Join(t.TempDir(), "stats.json")
	if err := stats.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sum, err := LoadSummary(path)
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if sum != stats.Snapshot() {
		t.Errorf("round trip mismatch: %+v vs %+v", sum, stats.Snapshot())
	}
}

func TestLoadSummaryMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadSummary(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("LoadSummary of missing file should error")
	}
}
