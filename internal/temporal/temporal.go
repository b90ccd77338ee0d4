// Package temporal aggregates timestamped, weighted observations over rolling
// windows with exponential decay.
package temporal

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/TobiSchelling/pulsemap/internal/signal"
)

// ErrInvalidClock is returned when the evaluation instant is unset or
// precedes the Unix epoch.
var ErrInvalidClock = errors.New("invalid evaluation time")

const (
	// DefaultDecayFactor is in days; an observation loses about half its
	// weight every 3.1 days.
	DefaultDecayFactor = 4.5
	// DefaultConfidenceFloor keeps low-confidence rows contributing.
	DefaultConfidenceFloor = 0.35
	// DefaultHighThreshold is the per-day average on the 1-5 scale that marks a high day.
	DefaultHighThreshold = 3.0

	day  = 24 * time.Hour
	week = 7 * day
)

// Observation is one weighted value at a point in time.
type Observation struct {
	Value      float64
	Confidence float64
	Source     signal.Source
	CreatedAt  time.Time
}

// Options configures an Aggregator. Zero fields take defaults.
type Options struct {
	DecayFactor     float64
	ConfidenceFloor float64
	HighThreshold   float64
	SourceWeights   signal.SourceWeights
	Location        *time.Location
}

// Aggregator computes decayed, trust-weighted statistics.
type Aggregator struct {
	decayFactor     float64
	confidenceFloor float64
	highThreshold   float64
	weights         signal.SourceWeights
	loc             *time.Location
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		decayFactor:     opts.DecayFactor,
		confidenceFloor: opts.ConfidenceFloor,
		highThreshold:   opts.HighThreshold,
		weights:         opts.SourceWeights,
		loc:             opts.Location,
	}
	if a.decayFactor <= 0 {
		a.decayFactor = DefaultDecayFactor
	}
	if a.confidenceFloor <= 0 {
		a.confidenceFloor = DefaultConfidenceFloor
	}
	if a.highThreshold <= 0 {
		a.highThreshold = DefaultHighThreshold
	}
	if a.loc == nil {
		a.loc = time.Local
	}
	return a
}

// Location returns the zone used for calendar-day boundaries.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// CheckClock validates an evaluation instant.
func CheckClock(now time.Time) error {
	if now.IsZero() || now.Before(time.Unix(0, 0)) {
		return ErrInvalidClock
	}
	return nil
}

// Decay returns exp(-ageDays/decayFactor); future timestamps count as age 0.
func (a *Aggregator) Decay(createdAt, now time.Time) float64 {
	ageDays := math.Max(0, now.Sub(createdAt).Hours()/24)
	return math.Exp(-ageDays / a.decayFactor)
}

// Weight is sourceWeight * max(floor, clamp(confidence)) * (decay if useDecay).
func (a *Aggregator) Weight(o Observation, now time.Time, useDecay bool) float64 {
	conf := o.Confidence
	if math.IsNaN(conf) {
		conf = 0
	}
	conf = math.Max(0, math.Min(1, conf))
	w := a.weights.Weight(o.Source) * math.Max(a.confidenceFloor, conf)
	if useDecay {
		w *= a.Decay(o.CreatedAt, now)
	}
	return w
}

// WeightedAverage returns Σ(value·weight)/Σweight, or 0 when the total weight is 0.
func (a *Aggregator) WeightedAverage(rows []Observation, now time.Time, useDecay bool) float64 {
	var sum, total float64
	for _, o := range rows {
		w := a.Weight(o, now, useDecay)
		sum += o.Value * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// DayKey returns the calendar date of t in the aggregator's zone.
func (a *Aggregator) DayKey(t time.Time) string {
	return t.In(a.loc).Format("2006-01-02")
}

// StartOfDay returns local midnight of the day containing t.
func (a *Aggregator) StartOfDay(t time.Time) time.Time {
	local := t.In(a.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
}

// DaySet is a set of YYYY-MM-DD keys.
type DaySet map[string]struct{}

// Add inserts a key.
func (s DaySet) Add(key string) { s[key] = struct{}{} }

// Has reports membership.
func (s DaySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Intersect counts keys present in both sets.
func (s DaySet) Intersect(other DaySet) int {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	n := 0
	for k := range small {
		if large.Has(k) {
			n++
		}
	}
	return n
}

// Sorted returns the keys in ascending order.
func (s DaySet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Days returns every calendar day with at least one row.
func (a *Aggregator) Days(rows []Observation) DaySet {
	set := DaySet{}
	for _, o := range rows {
		set.Add(a.DayKey(o.CreatedAt))
	}
	return set
}

// HighDays buckets rows by their own calendar day and returns the days whose
// decayed weighted average reaches the high threshold.
func (a *Aggregator) HighDays(rows []Observation, now time.Time) DaySet {
	buckets := make(map[string][]Observation)
	for _, o := range rows {
		key := a.DayKey(o.CreatedAt)
		buckets[key] = append(buckets[key], o)
	}

	set := DaySet{}
	for key, bucket := range buckets {
		if a.WeightedAverage(bucket, now, true) >= a.highThreshold {
			set.Add(key)
		}
	}
	return set
}

// Within returns rows with createdAt in (now-d, now].
func Within(rows []Observation, now time.Time, d time.Duration) []Observation {
	return Between(rows, now.Add(-d), now)
}

// Between returns rows with createdAt in (from, to].
func Between(rows []Observation, from, to time.Time) []Observation {
	var out []Observation
	for _, o := range rows {
		if o.CreatedAt.After(from) && !o.CreatedAt.After(to) {
			out = append(out, o)
		}
	}
	return out
}

// WindowCounts reports how many rows fall in the trailing 24h, 7d and 30d.
type WindowCounts struct {
	Last24h int `json:"last_24h"`
	Last7d  int `json:"last_7d"`
	Last30d int `json:"last_30d"`
}

// Counts computes WindowCounts for rows relative to now.
func Counts(rows []Observation, now time.Time) WindowCounts {
	return WindowCounts{
		Last24h: len(Within(rows, now, day)),
		Last7d:  len(Within(rows, now, week)),
		Last30d: len(Within(rows, now, 30*day)),
	}
}

// WeeklyDelta compares the trailing week with the week before it.
type WeeklyDelta struct {
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Delta    float64 `json:"delta"`
}

// Weekly computes decayed averages of the two non-overlapping trailing
// 7-day windows and their difference.
func (a *Aggregator) Weekly(rows []Observation, now time.Time) WeeklyDelta {
	current := a.WeightedAverage(Between(rows, now.Add(-week), now), now, true)
	previous := a.WeightedAverage(Between(rows, now.Add(-2*week), now.Add(-week)), now, true)
	return WeeklyDelta{
		Current:  round(current, 2),
		Previous: round(previous, 2),
		Delta:    round(current-previous, 2),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
