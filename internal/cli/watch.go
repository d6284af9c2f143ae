package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemon07r/patchbench/internal/checkpoint"
	"github.com/lemon07r/patchbench/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a running benchmark's progress",
	Long: `Tail a run's output directory and print a progress line every time its
checkpoint advances. Useful in a second terminal while a long run is going.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := watch.New(args[0], 200*time.Millisecond, func(cp checkpoint.Checkpoint) {
			fmt.Println(watch.FormatProgress(cp))
		}, logger)

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
