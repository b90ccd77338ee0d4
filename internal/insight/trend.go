package insight

import "time"

// Trend labels the day-over-day productivity trajectory.
type Trend string

const (
	Rising   Trend = "rising"
	Stable   Trend = "stable"
	Dropping Trend = "dropping"
)

const trendThreshold = 0.2

// Classify labels today's score against yesterday's.
func Classify(today, yesterday float64) Trend {
	if yesterday == 0 {
		if today > 0 {
			return Rising
		}
		return Stable
	}
	change := (today - yesterday) / yesterday
	switch {
	case change >= trendThreshold:
		return Rising
	case change <= -trendThreshold:
		return Dropping
	default:
		return Stable
	}
}

// TrendClassifier scores today and yesterday on calendar-day boundaries.
type TrendClassifier struct {
	scorer *Scorer
	loc    *time.Location
}

// NewTrendClassifier creates a classifier. A nil location uses time.Local.
func NewTrendClassifier(scorer *Scorer, loc *time.Location) *TrendClassifier {
	if loc == nil {
		loc = time.Local
	}
	return &TrendClassifier{scorer: scorer, loc: loc}
}

// Classify splits events into today and yesterday relative to now and
// compares their productivity scores.
func (c *TrendClassifier) Classify(events []Event, now time.Time) Trend {
	local := now.In(c.loc)
	startToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	startTomorrow := startToday.AddDate(0, 0, 1)
	startYesterday := startToday.AddDate(0, 0, -1)

	var today, yesterday []Event
	for _, e := range events {
		switch {
		case !e.CreatedAt.Before(startToday) && e.CreatedAt.Before(startTomorrow):
			today = append(today, e)
		case !e.CreatedAt.Before(startYesterday) && e.CreatedAt.Before(startToday):
			yesterday = append(yesterday, e)
		}
	}
	return Classify(c.scorer.Score(today), c.scorer.Score(yesterday))
}
