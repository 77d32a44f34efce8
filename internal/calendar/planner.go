// Package calendar places recommendations on concrete promotion windows.
package calendar

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"promo-planner/internal/promo"
)

// Event is a dated retail event that EventBased promotions are timed against.
// An event with no categories applies to every product.
type Event struct {
	Name       string    `mapstructure:"name"`
	Start      time.Time `mapstructure:"start"`
	End        time.Time `mapstructure:"end"`
	Categories []string  `mapstructure:"categories"`
}

// Applies reports whether the event covers products of category.
func (e Event) Applies(category string) bool {
	if len(e.Categories) == 0 {
		return true
	}
	key := promo.CategoryKey(category)
	for _, c := range e.Categories {
		if promo.CategoryKey(c) == key {
			return true
		}
	}
	return false
}

// Config tunes window placement. Durations are whole days.
type Config struct {
	LeadDays       int     `mapstructure:"lead_days"`
	PromoDays      int     `mapstructure:"promo_days"`
	StandardOffset int     `mapstructure:"standard_offset_days"`
	EventLeadDays  int     `mapstructure:"event_lead_days"`
	EventDays      int     `mapstructure:"event_days"`
	HorizonDays    int     `mapstructure:"horizon_days"`
	Weekday        string  `mapstructure:"weekday"`
	Events         []Event `mapstructure:"events"`
}

// DefaultConfig returns the standard retail cadence: Friday-to-Sunday windows next month.
func DefaultConfig() Config {
	return Config{
		LeadDays:       30,
		PromoDays:      3,
		StandardOffset: 7,
		EventLeadDays:  7,
		EventDays:      14,
		HorizonDays:    90,
		Weekday:        "friday",
	}
}

// Window is a closed date range, both ends inclusive.
type Window struct {
	Start time.Time
	End   time.Time
	Event string
}

// Planner computes promotion windows relative to a reference date.
type Planner struct {
	cfg     Config
	weekday time.Weekday
	events  []Event
	logger  zerolog.Logger
}

// NewPlanner constructs a Planner. Unknown weekday names fall back to Friday.
func NewPlanner(cfg Config, logger zerolog.Logger) *Planner {
	def := DefaultConfig()
	if cfg.PromoDays <= 0 {
		cfg.PromoDays = def.PromoDays
	}
	if cfg.EventDays <= 0 {
		cfg.EventDays = def.EventDays
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = def.HorizonDays
	}

	weekday, ok := ParseWeekday(cfg.Weekday)
	if !ok {
		weekday = time.Friday
	}

	events := append([]Event(nil), cfg.Events...)
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	return &Planner{
		cfg:     cfg,
		weekday: weekday,
		events:  events,
		logger:  logger.With().Str("component", "calendar").Logger(),
	}
}

// ParseWeekday resolves an English weekday name.
func ParseWeekday(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), strings.TrimSpace(name)) {
			return d, true
		}
	}
	return time.Sunday, false
}

// Window returns the promotion window for a product of category on arm as of the given date.
// The control arm has no window. EventBased rows without a relevant event get the standard window.
func (p *Planner) Window(arm promo.Arm, category string, asOf time.Time) (Window, bool) {
	asOf = truncateDay(asOf)
	switch arm {
	case promo.ArmNoDiscount:
		return Window{}, false
	case promo.ArmExpiredClearance:
		return p.span(p.firstWeekday(asOf), p.cfg.PromoDays, ""), true
	case promo.ArmEventBased:
		if ev, ok := p.nextEvent(category, asOf); ok {
			start := truncateDay(ev.Start).AddDate(0, 0, -p.cfg.EventLeadDays)
			if start.Before(asOf) {
				start = asOf
			}
			return p.span(start, p.cfg.EventDays, ev.Name), true
		}
		p.logger.Debug().Time("as_of", asOf).Str("category", category).Msg("no event within horizon; using standard window")
	}
	return p.span(p.firstWeekday(asOf).AddDate(0, 0, p.cfg.StandardOffset), p.cfg.PromoDays, ""), true
}

// Apply returns a copy of recs with promotion windows and event names filled in.
func (p *Planner) Apply(recs []promo.Recommendation, asOf time.Time) []promo.Recommendation {
	out := make([]promo.Recommendation, len(recs))
	for i, rec := range recs {
		if w, ok := p.Window(rec.Arm, rec.Category, asOf); ok {
			rec.StartDate = w.Start
			rec.EndDate = w.End
			rec.Event = w.Event
		}
		out[i] = rec
	}
	return out
}

// UpcomingEvents lists events overlapping [asOf, asOf+horizon).
func (p *Planner) UpcomingEvents(asOf time.Time) []Event {
	asOf = truncateDay(asOf)
	limit := asOf.AddDate(0, 0, p.cfg.HorizonDays)
	var out []Event
	for _, ev := range p.events {
		end := ev.End
		if end.IsZero() {
			end = ev.Start
		}
		if truncateDay(end).Before(asOf) || !truncateDay(ev.Start).Before(limit) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// HasEvent reports whether an event relevant to category falls within the horizon.
func (p *Planner) HasEvent(category string, asOf time.Time) bool {
	_, ok := p.nextEvent(category, asOf)
	return ok
}

func (p *Planner) nextEvent(category string, asOf time.Time) (Event, bool) {
	for _, ev := range p.UpcomingEvents(asOf) {
		if ev.Applies(category) {
			return ev, true
		}
	}
	return Event{}, false
}

// firstWeekday returns the first configured weekday of the month containing asOf+LeadDays.
func (p *Planner) firstWeekday(asOf time.Time) time.Time {
	ref := asOf.AddDate(0, 0, p.cfg.LeadDays)
	first := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, asOf.Location())
	offset := (int(p.weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset)
}

func (p *Planner) span(start time.Time, days int, event string) Window {
	return Window{Start: start, End: start.AddDate(0, 0, days-1), Event: event}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
