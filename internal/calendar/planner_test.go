package calendar

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"promo-planner/internal/promo"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func assertWindow(t *testing.T, w Window, start, end time.Time, event string) {
	t.Helper()
	if !w.Start.Equal(start) || !w.End.Equal(end) || w.Event != event {
		t.Fatalf("window = %s..%s (%q), want %s..%s (%q)",
			w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly), w.Event,
			start.Format(time.DateOnly), end.Format(time.DateOnly), event)
	}
}

func TestStandardWindows(t *testing.T) {
	p := NewPlanner(DefaultConfig(), zerolog.Nop())
	asOf := time.Date(2026, 10, 16, 15, 30, 0, 0, time.UTC)

	w, ok := p.Window(promo.ArmExpiredClearance, "dairy", asOf)
	if !ok {
		t.Fatalf("clearance should have a window")
	}
	assertWindow(t, w, date(2026, 11, 6), date(2026, 11, 8), "")

	for _, arm := range []promo.Arm{promo.ArmBOGO, promo.ArmGenericDiscount, promo.ArmEventBased} {
		w, _ := p.Window(arm, "dairy", asOf)
		assertWindow(t, w, date(2026, 11, 13), date(2026, 11, 15), "")
	}

	if _, ok := p.Window(promo.ArmNoDiscount, "dairy", asOf); ok {
		t.Fatalf("control arm must not get a window")
	}
}

func TestWindowMonthStartingOnWeekday(t *testing.T) {
	p := NewPlanner(DefaultConfig(), zerolog.Nop())
	w, _ := p.Window(promo.ArmExpiredClearance, "", date(2026, 12, 5))
	assertWindow(t, w, date(2027, 1, 1), date(2027, 1, 3), "")
}

func TestEventWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events = []Event{
		{Name: "Spring", Start: date(2027, 3, 1), End: date(2027, 3, 10)},
		{Name: "Holiday", Start: date(2026, 12, 20), End: date(2027, 1, 5)},
		{Name: "Past", Start: date(2026, 8, 1), End: date(2026, 8, 10)},
	}
	p := NewPlanner(cfg, zerolog.Nop())

	w, _ := p.Window(promo.ArmEventBased, "toys", date(2026, 10, 16))
	assertWindow(t, w, date(2026, 12, 13), date(2026, 12, 26), "Holiday")

	w, _ = p.Window(promo.ArmEventBased, "toys", date(2026, 12, 18))
	assertWindow(t, w, date(2026, 12, 18), date(2026, 12, 31), "Holiday")

	upcoming := p.UpcomingEvents(date(2026, 10, 16))
	if len(upcoming) != 1 || upcoming[0].Name != "Holiday" {
		t.Fatalf("unexpected upcoming events: %+v", upcoming)
	}
}

func TestEventCategories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events = []Event{
		{Name: "Back to School", Start: date(2026, 11, 2), End: date(2026, 11, 9), Categories: []string{"Stationery"}},
		{Name: "Holiday", Start: date(2026, 12, 20), End: date(2027, 1, 5)},
	}
	p := NewPlanner(cfg, zerolog.Nop())
	asOf := date(2026, 10, 16)

	w, _ := p.Window(promo.ArmEventBased, " stationery ", asOf)
	assertWindow(t, w, date(2026, 10, 26), date(2026, 11, 8), "Back to School")

	w, _ = p.Window(promo.ArmEventBased, "dairy", asOf)
	assertWindow(t, w, date(2026, 12, 13), date(2026, 12, 26), "Holiday")

	cfg.Events = cfg.Events[:1]
	p = NewPlanner(cfg, zerolog.Nop())
	if p.HasEvent("dairy", asOf) {
		t.Fatalf("dairy has no relevant event")
	}
	if !p.HasEvent("Stationery", asOf) {
		t.Fatalf("stationery event not found")
	}
	w, _ = p.Window(promo.ArmEventBased, "dairy", asOf)
	assertWindow(t, w, date(2026, 11, 13), date(2026, 11, 15), "")

	out := p.Apply([]promo.Recommendation{{ProductID: "a", Category: "dairy", Arm: promo.ArmEventBased}}, asOf)
	if out[0].Event != "" {
		t.Fatalf("irrelevant event attached: %+v", out[0])
	}
}

func TestApplyFillsDates(t *testing.T) {
	p := NewPlanner(DefaultConfig(), zerolog.Nop())
	recs := []promo.Recommendation{
		{ProductID: "a", Arm: promo.ArmBOGO},
		{ProductID: "b", Arm: promo.ArmNoDiscount},
	}

	out := p.Apply(recs, date(2026, 10, 16))
	if !recs[0].StartDate.IsZero() {
		t.Fatalf("Apply must not modify its input")
	}
	if !out[0].StartDate.Equal(date(2026, 11, 13)) {
		t.Fatalf("unexpected start %s", out[0].StartDate)
	}
	if !out[1].StartDate.IsZero() {
		t.Fatalf("control row should stay undated")
	}
}

func TestParseWeekday(t *testing.T) {
	if d, ok := ParseWeekday(" Saturday "); !ok || d != time.Saturday {
		t.Fatalf("expected Saturday, got %v %v", d, ok)
	}
	if _, ok := ParseWeekday("someday"); ok {
		t.Fatalf("unknown name should not parse")
	}
}
