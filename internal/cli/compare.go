package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemon07r/patchbench/internal/checkpoint"
	"github.com/lemon07r/patchbench/internal/predictions"
	"github.com/lemon07r/patchbench/internal/runner"
)

var compareOutputFile string

// RunSummary describes one run directory in a comparison.
type RunSummary struct {
	Name        string   `json:"name"`
	Completed   int      `json:"completed"`
	Failed      int      `json:"failed"`
	Total       int      `json:"total"`
	SuccessRate float64  `json:"success_rate"`
	Solved      []string `json:"solved"`
}

// Comparison is the cross-run report.
type Comparison struct {
	Runs         []RunSummary        `json:"runs"`
	SolvedOnlyBy map[string][]string `json:"solved_only_by"`
}

var compareCmd = &cobra.Command{
	Use:   "compare <dir> [dir...]",
	Short: "Compare run results side-by-side",
	Long: `Compare two or more run output directories and produce a side-by-side
table of success rates, plus the per-instance sets each run solved that the
others did not.`,
	Example: `  patchbench compare predictions/vanilla predictions/orchestrated
  patchbench compare ./run-a ./run-b ./run-c -o comparison.json`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var summaries []RunSummary
		for _, dir := range args {
			s, err := loadRunSummary(dir)
			if err != nil {
				return fmt.Errorf("loading run from %s: %w", dir, err)
			}
			summaries = append(summaries, *s)
		}

		comparison := buildComparison(summaries)

		if compareOutputFile != "" {
			data, err := json.MarshalIndent(comparison, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling comparison: %w", err)
			}
			if err := os.WriteFile(compareOutputFile, data, 0644); err != nil {
				return fmt.Errorf("writing comparison: %w", err)
			}
			fmt.Printf(" Comparison saved to: %s\n", compareOutputFile)
		}

		fmt.Print(renderComparison(comparison))
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVarP(&compareOutputFile, "output", "o", "", "write comparison JSON to file")
}

// loadRunSummary reads one run directory. stats.json is preferred; when a run
// was interrupted before writing it, the numbers are recomputed from the
// checkpoint instead.
func loadRunSummary(dir string) (*RunSummary, error) {
	s := &RunSummary{Name: filepath.Base(filepath.Clean(dir))}

	if sum, err := runner.LoadSummary(filepath.Join(dir, "stats.json")); err == nil {
		s.Completed = sum.Completed
		s.Failed = sum.Failed
		s.Total = sum.Total
		s.SuccessRate = sum.SuccessRate
	} else {
		store, err := checkpoint.Load(filepath.Join(dir, "checkpoint.json"))
		if err != nil {
			return nil, fmt.Errorf("neither stats.json nor checkpoint.json readable: %w", err)
		}
		cp := store.Snapshot()
		s.Completed = len(cp.CompletedInstances)
		s.Failed = len(cp.FailedInstances)
		s.Total = cp.TotalInstances
		if s.Total > 0 {
			s.SuccessRate = float64(s.Completed) / float64(s.Total) * 100
		}
	}

	recs, err := predictions.Load(filepath.Join(dir, "predictions.jsonl"))
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		s.Solved = append(s.Solved, rec.InstanceID)
	}
	sort.Strings(s.Solved)
	return s, nil
}

// buildComparison computes, for each run, the instances only it solved.
func buildComparison(summaries []RunSummary) Comparison {
	solvedBy := make(map[string]int) // instance id -> number of runs that solved it
	for _, s := range summaries {
		for _, id := range s.Solved {
			solvedBy[id]++
		}
	}

	onlyBy := make(map[string][]string)
	for _, s := range summaries {
		var only []string
		for _, id := range s.Solved {
			if solvedBy[id] == 1 {
				only = append(only, id)
			}
		}
		onlyBy[s.Name] = only
	}

	return Comparison{Runs: summaries, SolvedOnlyBy: onlyBy}
}

// renderComparison builds the human-readable report.
func renderComparison(c Comparison) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	sb.WriteString(" RUN COMPARISON\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	sb.WriteString("\n")

	fmt.Fprintf(&sb, " %-30s %9s %7s %6s %10s\n", "Run", "Completed", "Failed", "Total", "Rate")
	sb.WriteString(" ────────────────────────────────────────────────────────────\n")
	for _, r := range c.Runs {
		fmt.Fprintf(&sb, " %-30s %9d %7d %6d %9.1f%%\n", r.Name, r.Completed, r.Failed, r.Total, r.SuccessRate)
	}
	sb.WriteString("\n")

	base := c.Runs[0]
	for _, r := range c.Runs[1:] {
		delta := r.SuccessRate - base.SuccessRate
		fmt.Fprintf(&sb, " %s vs %s: %+.1f%%\n", r.Name, base.Name, delta)
	}
	sb.WriteString("\n")

	for _, r := range c.Runs {
		only := c.SolvedOnlyBy[r.Name]
		if len(only) == 0 {
			continue
		}
		fmt.Fprintf(&sb, " Solved only by %s (%d):\n", r.Name, len(only))
		for _, id := range only {
			fmt.Fprintf(&sb, "   %s\n", id)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
