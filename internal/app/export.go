package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"promo-planner/internal/promo"
	"promo-planner/internal/storage"
)

type artifactPaths struct {
	CSV  string
	JSON string
	PNG  string
}

func (p artifactPaths) empty() bool {
	return p.CSV == "" && p.JSON == "" && p.PNG == ""
}

// Export writes a persisted run as CSV, JSON metadata and/or a PNG chart. Missing paths default
// to files named after the run under export.dir.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var record storage.RunRecord
	if opts.RunID != "" {
		record, err = store.GetRun(ctx, opts.RunID)
	} else {
		record, err = store.LatestRun(ctx)
	}
	if err != nil {
		return err
	}

	paths := artifactPaths{CSV: opts.CSVPath, JSON: opts.JSONPath, PNG: opts.PNGPath}
	if paths.empty() {
		paths = a.defaultArtifactPaths(record.Metadata.RunID)
	}

	maxBars := opts.MaxBars
	if maxBars <= 0 {
		maxBars = a.Config.Export.MaxBars
	}

	a.Logger.Info().Str("run_id", record.Metadata.RunID).
		Int("recommendations", len(record.Recommendations)).
		Msg("exporting run")
	return writeArtifacts(record, paths, maxBars)
}

func (a *App) defaultArtifactPaths(runID string) artifactPaths {
	base := filepath.Join(a.Config.Export.Dir, "run-"+runID)
	paths := artifactPaths{CSV: base + ".csv"}
	if a.Config.Export.WriteJSON {
		paths.JSON = base + ".json"
	}
	if a.Config.Export.ChartPNG {
		paths.PNG = base + ".png"
	}
	return paths
}

func writeArtifacts(record storage.RunRecord, paths artifactPaths, maxBars int) error {
	if paths.CSV != "" {
		if err := writeRecommendationsCSV(paths.CSV, record.Recommendations); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	if paths.JSON != "" {
		if err := writeMetadataJSON(paths.JSON, record.Metadata); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}
	if paths.PNG != "" && len(record.Recommendations) > 0 {
		if err := writeUpliftPNG(paths.PNG, record.Recommendations, maxBars); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	return nil
}

func writeRecommendationsCSV(path string, recs []promo.Recommendation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"rank", "product_id", "sku", "name", "category", "arm", "event", "discount", "estimated_uplift", "urgency_score", "low_support", "start_date", "end_date"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, rec := range recs {
		record := []string{
			strconv.Itoa(i + 1),
			rec.ProductID,
			rec.SKU,
			rec.Name,
			rec.Category,
			rec.Arm.String(),
			rec.Event,
			rec.Discount.StringFixed(4),
			strconv.FormatFloat(rec.EstimatedUplift, 'f', 4, 64),
			strconv.FormatFloat(rec.UrgencyScore, 'f', 2, 64),
			strconv.FormatBool(rec.LowSupport),
			formatDate(rec.StartDate),
			formatDate(rec.EndDate),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeMetadataJSON(path string, meta promo.RunMetadata) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// topByUplift returns at most n recommendations with the largest uplift.
func topByUplift(recs []promo.Recommendation, n int) []promo.Recommendation {
	out := append([]promo.Recommendation(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EstimatedUplift > out[j].EstimatedUplift
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func writeUpliftPNG(path string, recs []promo.Recommendation, maxBars int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	top := topByUplift(recs, maxBars)
	bars := make([]chart.Value, 0, len(top))
	lo, hi := 0.0, 0.0
	for _, rec := range top {
		label := rec.SKU
		if label == "" {
			label = rec.ProductID
		}
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("%s (%s)", label, rec.Arm),
			Value: rec.EstimatedUplift,
		})
		lo = math.Min(lo, rec.EstimatedUplift)
		hi = math.Max(hi, rec.EstimatedUplift)
	}
	if hi == lo {
		hi = lo + 1
	}

	graph := chart.BarChart{
		Title:    "Estimated uplift by recommendation",
		Width:    max(640, 200+120*len(bars)),
		Height:   720,
		BarWidth: 60,
		YAxis: chart.YAxis{
			Name:  "Uplift",
			Range: &chart.ContinuousRange{Min: lo, Max: hi * 1.1},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
