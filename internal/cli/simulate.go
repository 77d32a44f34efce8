package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"promo-planner/internal/app"
)

var (
	simulateArm        string
	simulatePrice      float64
	simulateCompetitor float64
	simulateExpiry     int
	simulateAsOf       string
	simulateCategory   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-discount",
	Short: "按配置的规则计算单个商品的折扣幅度",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		opts := app.SimulateOptions{
			Arm:             simulateArm,
			CurrentPrice:    simulatePrice,
			CompetitorPrice: simulateCompetitor,
			DaysToExpiry:    simulateExpiry,
			HasExpiry:       cmd.Flags().Changed("expiry-days"),
			Category:        simulateCategory,
		}
		if simulateAsOf != "" {
			asOf, err := parseDate(simulateAsOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of value: %w", err)
			}
			opts.AsOf = asOf
		}

		return getApp().SimulateDiscount(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateArm, "arm", "", "策略名称，留空则计算全部策略")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "当前售价")
	simulateCmd.Flags().Float64Var(&simulateCompetitor, "competitor", 0, "竞品价格，0 表示未知")
	simulateCmd.Flags().IntVar(&simulateExpiry, "expiry-days", 0, "距离过期天数")
	simulateCmd.Flags().StringVar(&simulateAsOf, "as-of", "", "参考日期 (YYYY-MM-DD)")
	simulateCmd.Flags().StringVar(&simulateCategory, "category", "", "商品品类，用于匹配活动日历")
}
