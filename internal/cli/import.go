package cli

import (
	"github.com/spf13/cobra"

	"promo-planner/internal/app"
)

var (
	importProducts     string
	importObservations string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load product and observation CSV files into PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ImportOptions{
			ProductsPath:     importProducts,
			ObservationsPath: importObservations,
		}
		return getApp().Import(cmd.Context(), opts)
	},
}

func init() {
	importCmd.Flags().StringVar(&importProducts, "products", "", "Product feature CSV")
	importCmd.Flags().StringVar(&importObservations, "observations", "", "Historical observation CSV")
}
