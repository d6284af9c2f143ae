package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemon07r/patchbench/internal/failure"
	"github.com/lemon07r/patchbench/internal/predictions"
)

var analyzeOutputFile string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <dir>",
	Short: "Categorize a run's failures",
	Long: `Read the failures recorded during a run and bucket them by cause
(timeout, no patch produced, provisioning failure, test failures, ...).`,
	Example: `  patchbench analyze predictions/vanilla
  patchbench analyze predictions/vanilla -o failures.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failuresPath := filepath.Join(args[0], "failures.jsonl")
		failures, err := predictions.LoadFailures(failuresPath)
		if err != nil {
			return fmt.Errorf("loading failures: %w", err)
		}
		if len(failures) == 0 {
			fmt.Println("No failures recorded.")
			return nil
		}

		counts := failure.Summarize(failures)

		if analyzeOutputFile != "" {
			data, err := json.MarshalIndent(counts, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling analysis: %w", err)
			}
			if err := os.WriteFile(analyzeOutputFile, data, 0644); err != nil {
				return fmt.Errorf("writing analysis: %w", err)
			}
			fmt.Printf(" Analysis saved to: %s\n", analyzeOutputFile)
		}

		fmt.Print(renderAnalysis(failures, counts))
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutputFile, "output", "o", "", "write analysis JSON to file")
}

func renderAnalysis(failures []predictions.Failure, counts []failure.Count) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	sb.WriteString(" FAILURE ANALYSIS\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	sb.WriteString("\n")
	fmt.Fprintf(&sb, " Failures: %d\n\n", len(failures))

	for _, c := range counts {
		pct := float64(c.Count) / float64(len(failures)) * 100
		fmt.Fprintf(&sb, " %-20s %4d (%.1f%%)\n", c.Category, c.Count, pct)
	}
	sb.WriteString("\n")

	for _, c := range counts {
		fmt.Fprintf(&sb, " %s:\n", c.Category)
		for _, id := range c.Instances {
			fmt.Fprintf(&sb, "   %s\n", id)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
