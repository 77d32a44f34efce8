package storage

import (
	"time"

	"promo-planner/internal/promo"
)

// RunRecord is a persisted planning run with its ordered recommendations.
type RunRecord struct {
	Metadata        promo.RunMetadata
	Recommendations []promo.Recommendation
}

// RunSummary is the list view of a persisted run.
type RunSummary struct {
	RunID       string
	GeneratedAt time.Time
	SlotBudget  int
	Recommended int
	TotalUplift string
}
