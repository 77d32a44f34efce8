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

	"promo-planner/internal/storage"
)

// Show prints the latest persisted run, a specific run, or the list of recent runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.List {
		runs, err := store.ListRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		printRuns(os.Stdout, runs)
		return nil
	}

	var record storage.RunRecord
	if opts.RunID != "" {
		record, err = store.GetRun(ctx, opts.RunID)
	} else {
		record, err = store.LatestRun(ctx)
	}
	if errors.Is(err, storage.ErrRunNotFound) {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}
	if err != nil {
		return err
	}

	printRun(os.Stdout, record, opts.Limit)
	return nil
}

func printRun(w io.Writer, record storage.RunRecord, limit int) {
	meta := record.Metadata
	fmt.Fprintf(w, "Run %s generated %s\n", meta.RunID, meta.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Scored %d, candidates %d, recommended %d of %d slots, excluded %d\n",
		meta.ProductsScored, meta.Candidates, meta.Recommended, meta.SlotBudget, len(meta.Excluded))
	fmt.Fprintf(w, "Total estimated uplift %s, average discount %s\n\n",
		meta.TotalEstimatedUplift.StringFixed(2), meta.AverageDiscount.StringFixed(4))

	recs := record.Recommendations
	if len(recs) == 0 {
		fmt.Fprintln(w, "no recommendations")
		return
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tProduct\tSKU\tCategory\tArm\tDiscount\tUplift\tUrgency\tWindow\tNote")
	for i, rec := range recs {
		window := ""
		if !rec.StartDate.IsZero() {
			window = formatDate(rec.StartDate) + ".." + formatDate(rec.EndDate)
		}
		note := rec.Event
		if rec.LowSupport {
			note = strings.TrimSpace(note + " low-support")
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%.2f\t%.1f\t%s\t%s\n",
			i+1,
			sanitizeInline(rec.ProductID),
			sanitizeInline(rec.SKU),
			sanitizeInline(rec.Category),
			rec.Arm,
			rec.DiscountPercent(),
			rec.EstimatedUplift,
			rec.UrgencyScore,
			window,
			note,
		)
	}
	writer.Flush()
}

func printRuns(w io.Writer, runs []storage.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Run\tGenerated (UTC)\tSlots\tRecommended\tUplift")
	for _, run := range runs {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\n",
			run.RunID,
			run.GeneratedAt.UTC().Format(time.RFC3339),
			run.SlotBudget,
			run.Recommended,
			run.TotalUplift,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
