package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promo-planner/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillStep   time.Duration
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Replay planning runs for a range of past reference dates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseDate(backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := parseDate(backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			From:   from,
			To:     to,
			Step:   backfillStep,
			DryRun: backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First reference date (inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last reference date (exclusive)")
	backfillCmd.Flags().DurationVar(&backfillStep, "step", 0, "Distance between reference dates (defaults to scheduler.interval)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
