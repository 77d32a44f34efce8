package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"promo-planner/internal/allocation"
	"promo-planner/internal/calendar"
	"promo-planner/internal/promo"
)

// SimulateDiscount 根据配置的规则计算手工输入商品的折扣幅度与促销窗口。
func (a *App) SimulateDiscount(ctx context.Context, opts SimulateOptions) error {
	return a.simulateDiscount(os.Stdout, opts)
}

func (a *App) simulateDiscount(w io.Writer, opts SimulateOptions) error {
	if opts.CurrentPrice <= 0 {
		return errors.New("--price 必须大于 0")
	}
	if opts.CompetitorPrice < 0 {
		return errors.New("--competitor 不能为负数")
	}

	product := promo.ProductFeatures{
		ID:           "simulated",
		Category:     opts.Category,
		CurrentPrice: promo.Price(opts.CurrentPrice),
	}
	if opts.CompetitorPrice > 0 {
		product.CompetitorPrice = decimal.NewNullDecimal(decimal.NewFromFloat(opts.CompetitorPrice))
	}
	if opts.HasExpiry {
		product.DaysToExpiry = promo.IntPtr(opts.DaysToExpiry)
	}

	arms, err := a.simulatedArms(opts.Arm)
	if err != nil {
		return err
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	engine := allocation.NewEngine(a.Config.Allocation, nil, a.Logger)
	planner := calendar.NewPlanner(a.Config.Calendar, a.Logger)

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Arm\tDiscount\tPromo price\tWindow\tEvent")
	for _, arm := range arms {
		magnitude, err := engine.Magnitude(arm, product)
		if err != nil {
			return err
		}
		price := product.CurrentPrice.Decimal.Mul(decimal.NewFromInt(1).Sub(magnitude))

		window, event := "", ""
		if win, ok := planner.Window(arm, product.Category, asOf); ok {
			window = formatDate(win.Start) + ".." + formatDate(win.End)
			event = win.Event
		}
		rec := promo.Recommendation{Discount: magnitude}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", arm, rec.DiscountPercent(), price.StringFixed(2), window, event)
	}
	return writer.Flush()
}

// simulatedArms returns the requested arm, or every configured rule when name is empty.
func (a *App) simulatedArms(name string) ([]promo.Arm, error) {
	rules := a.Config.Allocation.Rules
	if name != "" {
		for configured := range rules {
			if strings.EqualFold(configured, name) {
				return []promo.Arm{promo.ParseArm(configured)}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", promo.ErrInvalidArm, name)
	}

	arms := make([]promo.Arm, 0, len(rules))
	for configured := range rules {
		arms = append(arms, promo.ParseArm(configured))
	}
	return promo.SortArms(arms), nil
}
