package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"promo-planner/internal/app"
)

var (
	showRunID string
	showLimit int
	showList  bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest persisted run or list recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			RunID: showRunID,
			Limit: showLimit,
			List:  showList,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showRunID, "run", "", "Run id to display (defaults to the latest run)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showList, "list", false, "List recent runs instead of recommendations")
}
