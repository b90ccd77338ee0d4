// Package insight derives the per-user insight summary from activity events:
// productivity score, entertainment ratio, top interest and trend.
package insight

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Event types the scorer understands. Other types are tallied for interests only.
const (
	EventQuestCompleted = "quest_completed"
	EventQuestCreated   = "quest_created"
	EventLogAdded       = "log_added"
	EventCheckIn        = "check_in"
)

// DefaultDivisor calibrates the raw productivity sum onto 0-100.
const DefaultDivisor = 50.0

const defaultInterest = "General"

// Metadata carries the optional descriptive fields of an event.
type Metadata struct {
	Category string   `json:"category,omitempty"`
	Topic    string   `json:"topic,omitempty"`
	Duration *float64 `json:"duration,omitempty"` // minutes
}

// Event is an immutable activity record.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Normalized returns a copy with trimmed lower-case text fields and a
// non-negative duration. NaN or negative durations become absent.
func (m Metadata) Normalized() Metadata {
	out := Metadata{
		Category: strings.ToLower(strings.TrimSpace(m.Category)),
		Topic:    strings.ToLower(strings.TrimSpace(m.Topic)),
	}
	if m.Duration != nil && !math.IsNaN(*m.Duration) && !math.IsInf(*m.Duration, 0) && *m.Duration >= 0 {
		d := *m.Duration
		out.Duration = &d
	}
	return out
}

// Taxonomy lists category keywords. A category matches when it contains a keyword.
type Taxonomy struct {
	Productive    []string
	Entertainment []string
}

// DefaultTaxonomy returns the built-in category lists.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		Productive: []string{
			"work", "study", "exercise", "health", "learning", "reading",
			"coding", "writing", "project", "career", "finance", "planning",
		},
		Entertainment: []string{
			"entertainment", "gaming", "social media", "streaming", "youtube",
			"netflix", "movies", "tv", "music", "browsing", "leisure",
		},
	}
}

// IsProductive reports whether category matches a productive keyword.
func (t Taxonomy) IsProductive(category string) bool {
	return matchAny(category, t.Productive)
}

// IsEntertainment reports whether category matches an entertainment keyword.
func (t Taxonomy) IsEntertainment(category string) bool {
	return matchAny(category, t.Entertainment)
}

func matchAny(category string, keywords []string) bool {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return false
	}
	for _, k := range keywords {
		if k != "" && strings.Contains(category, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Scorer maps categorized events onto bounded scores.
type Scorer struct {
	taxonomy Taxonomy
	divisor  float64
}

// NewScorer creates a scorer. A non-positive divisor uses DefaultDivisor.
func NewScorer(taxonomy Taxonomy, divisor float64) *Scorer {
	if divisor <= 0 || math.IsNaN(divisor) {
		divisor = DefaultDivisor
	}
	return &Scorer{taxonomy: taxonomy, divisor: divisor}
}

// Taxonomy returns the scorer's category lists.
func (s *Scorer) Taxonomy() Taxonomy {
	return s.taxonomy
}

// Raw returns the unnormalized productivity sum.
func (s *Scorer) Raw(events []Event) float64 {
	var raw float64
	for _, e := range events {
		switch e.Type {
		case EventQuestCompleted:
			raw++
		case EventLogAdded:
			category := e.Metadata.Category
			switch {
			case s.taxonomy.IsProductive(category):
				raw += 0.5
			case s.taxonomy.IsEntertainment(category):
				raw -= 0.5
			}
		}
	}
	return raw
}

// Score returns clamp(raw/divisor, 0, 1) * 100 rounded to one decimal.
func (s *Scorer) Score(events []Event) float64 {
	return round(clamp(s.Raw(events)/s.divisor, 0, 1)*100, 1)
}

// EntertainmentRatio is entertainment minutes over all logged minutes, or 0
// when no event carries a duration.
func (s *Scorer) EntertainmentRatio(events []Event) float64 {
	var total, fun float64
	for _, e := range events {
		md := e.Metadata.Normalized()
		if md.Duration == nil {
			continue
		}
		total += *md.Duration
		if s.taxonomy.IsEntertainment(md.Category) {
			fun += *md.Duration
		}
	}
	if total == 0 {
		return 0
	}
	return round(clamp(fun/total, 0, 1), 2)
}

// TopInterest returns the most frequent category or topic, title-cased.
// Ties go to the value seen first.
func TopInterest(events []Event) string {
	counts := make(map[string]int)
	var order []string
	tally := func(v string) {
		if v == "" {
			return
		}
		if _, seen := counts[v]; !seen {
			order = append(order, v)
		}
		counts[v]++
	}
	for _, e := range events {
		md := e.Metadata.Normalized()
		tally(md.Category)
		tally(md.Topic)
	}

	best, bestCount := "", 0
	for _, v := range order {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	if best == "" {
		return defaultInterest
	}
	return cases.Title(language.English).String(best)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
