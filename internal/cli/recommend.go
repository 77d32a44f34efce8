package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promo-planner/internal/app"
)

var (
	recommendAsOf     string
	recommendSlots    int
	recommendLimit    int
	recommendCSVPath  string
	recommendJSONPath string
	recommendPNGPath  string
	recommendPersist  bool
	recommendNotify   bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Run the planning pipeline once and print the recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RecommendOptions{
			Limit:    recommendLimit,
			CSVPath:  recommendCSVPath,
			JSONPath: recommendJSONPath,
			PNGPath:  recommendPNGPath,
			Persist:  recommendPersist,
			Notify:   recommendNotify,
		}

		if cmd.Flags().Changed("slots") {
			slots := recommendSlots
			opts.Slots = &slots
		}

		if recommendAsOf != "" {
			asOf, err := parseDate(recommendAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of value: %w", err)
			}
			opts.AsOf = asOf
		}

		return getApp().Recommend(cmd.Context(), opts)
	},
}

func init() {
	recommendCmd.Flags().StringVar(&recommendAsOf, "as-of", "", "Reference date (YYYY-MM-DD or RFC3339, defaults to now)")
	recommendCmd.Flags().IntVar(&recommendSlots, "slots", 0, "Promotional slot budget (defaults to config)")
	recommendCmd.Flags().IntVar(&recommendLimit, "limit", 50, "Rows to print, 0 prints all")
	recommendCmd.Flags().StringVar(&recommendCSVPath, "csv", "", "Path to write recommendations CSV")
	recommendCmd.Flags().StringVar(&recommendJSONPath, "json", "", "Path to write run metadata JSON")
	recommendCmd.Flags().StringVar(&recommendPNGPath, "png", "", "Path to write uplift bar chart")
	recommendCmd.Flags().BoolVar(&recommendPersist, "persist", false, "Store the run in PostgreSQL")
	recommendCmd.Flags().BoolVar(&recommendNotify, "notify", false, "Send the run summary to configured channels")
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
