package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is returned when a signal type outside the fixed enumeration
// reaches code that expects normalized input.
var ErrUnknownType = errors.New("unknown signal type")

// Type is one of the fixed behavioral signal kinds.
type Type string

const (
	Stress          Type = "stress"
	Focus           Type = "focus"
	Motivation      Type = "motivation"
	Fatigue         Type = "fatigue"
	Anxiety         Type = "anxiety"
	Productivity    Type = "productivity"
	Confidence      Type = "confidence"
	Procrastination Type = "procrastination"
	Mindfulness     Type = "mindfulness"
	Breathing       Type = "breathing"
)

// Types lists every signal type in display order.
var Types = []Type{
	Stress, Focus, Motivation, Fatigue, Anxiety,
	Productivity, Confidence, Procrastination, Mindfulness, Breathing,
}

// Valid reports whether t is part of the enumeration.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Validate returns ErrUnknownType wrapped with the offending value.
func (t Type) Validate() error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
	return nil
}

// Source tags where an observation came from.
type Source string

const (
	SourceChat            Source = "chat"
	SourceCompanion       Source = "companion"
	SourceDailyPulse      Source = "daily_pulse"
	SourceQuestCreate     Source = "quest_create"
	SourceQuestProgress   Source = "quest_progress"
	SourceQuestCompletion Source = "quest_completion"
	SourceQuestLog        Source = "quest_log"
)

// DefaultSourceWeight applies to sources missing from a SourceWeights table.
const DefaultSourceWeight = 0.65

// IsQuest reports whether the source is one of the quest activity tags.
func (s Source) IsQuest() bool {
	switch s {
	case SourceQuestCreate, SourceQuestProgress, SourceQuestCompletion, SourceQuestLog:
		return true
	}
	return false
}

// SourceWeights maps a source to its trust weight.
type SourceWeights struct {
	weights  map[Source]float64
	fallback float64
}

// NewSourceWeights copies weights into an immutable table.
func NewSourceWeights(weights map[Source]float64, fallback float64) SourceWeights {
	copied := make(map[Source]float64, len(weights))
	for k, v := range weights {
		copied[k] = v
	}
	return SourceWeights{weights: copied, fallback: fallback}
}

// DefaultSourceWeights returns the built-in trust table.
func DefaultSourceWeights() SourceWeights {
	return NewSourceWeights(map[Source]float64{
		SourceDailyPulse:      1.0,
		SourceQuestCompletion: 0.9,
		SourceQuestProgress:   0.8,
		SourceQuestLog:        0.75,
		SourceChat:            0.7,
		SourceCompanion:       0.7,
		SourceQuestCreate:     0.6,
	}, DefaultSourceWeight)
}

// Weight returns the trust weight for src.
func (w SourceWeights) Weight(src Source) float64 {
	if v, ok := w.weights[src]; ok {
		return v
	}
	if w.weights == nil && w.fallback == 0 {
		return DefaultSourceWeight
	}
	return w.fallback
}

// Signal is a normalized behavioral observation.
type Signal struct {
	MessageID  string    `json:"message_id,omitempty"`
	Type       Type      `json:"signal_type"`
	Intensity  int       `json:"intensity"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
