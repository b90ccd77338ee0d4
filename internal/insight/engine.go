package insight

import (
	"time"

	"github.com/TobiSchelling/pulsemap/internal/temporal"
)

// Window is the trailing event window an InsightState is computed from.
const Window = 7 * 24 * time.Hour

// State is the per-user insight summary. It is always rebuilt from source
// events, never patched.
type State struct {
	UserID             string    `json:"user_id"`
	TopInterest        string    `json:"top_interest"`
	ProductivityScore  float64   `json:"productivity_score"`
	EntertainmentRatio float64   `json:"entertainment_ratio"`
	CurrentTrend       Trend     `json:"current_trend"`
	LastReflection     string    `json:"last_reflection"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Engine computes States.
type Engine struct {
	scorer *Scorer
	trend  *TrendClassifier
}

// NewEngine creates an engine evaluating calendar days in loc.
func NewEngine(scorer *Scorer, loc *time.Location) *Engine {
	return &Engine{scorer: scorer, trend: NewTrendClassifier(scorer, loc)}
}

// Scorer returns the engine's scorer.
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

// Compute builds a fresh State from events in the trailing Window. The
// reflection is left empty for the caller to fill.
func (e *Engine) Compute(userID string, events []Event, now time.Time) (State, error) {
	if err := temporal.CheckClock(now); err != nil {
		return State{}, err
	}

	windowStart := now.Add(-Window)
	var recent []Event
	for _, ev := range events {
		if ev.CreatedAt.After(windowStart) && !ev.CreatedAt.After(now) {
			recent = append(recent, ev)
		}
	}

	return State{
		UserID:             userID,
		TopInterest:        TopInterest(recent),
		ProductivityScore:  e.scorer.Score(recent),
		EntertainmentRatio: e.scorer.EntertainmentRatio(recent),
		CurrentTrend:       e.trend.Classify(recent, now),
		UpdatedAt:          now,
	}, nil
}
