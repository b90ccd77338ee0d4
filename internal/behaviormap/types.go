// Package behaviormap turns mood, signal and quest history into a weighted
// node/edge graph and narrates how it changed since the previous build.
package behaviormap

import (
	"strings"
	"time"

	"github.com/TobiSchelling/pulsemap/internal/signal"
	"github.com/TobiSchelling/pulsemap/internal/temporal"
)

// ErrInvalidClock is returned by Build for a zero or pre-epoch now.
var ErrInvalidClock = temporal.ErrInvalidClock

// NodeType is the semantic kind of a node.
type NodeType string

const (
	TypeMood    NodeType = "Mood"
	TypeSignal  NodeType = "Signal"
	TypeHabit   NodeType = "Habit"
	TypeRoutine NodeType = "Routine"
	TypeQuest   NodeType = "Quest"
)

// NodeState buckets a node score.
type NodeState string

const (
	StateLow    NodeState = "low"
	StateMedium NodeState = "medium"
	StateHigh   NodeState = "high"
)

// StateFor maps a 0-100 score onto a NodeState.
func StateFor(score float64) NodeState {
	switch {
	case score >= 70:
		return StateHigh
	case score >= 45:
		return StateMedium
	default:
		return StateLow
	}
}

// EdgeStrength buckets an edge weight.
type EdgeStrength string

const (
	StrengthWeak   EdgeStrength = "weak"
	StrengthMedium EdgeStrength = "medium"
	StrengthStrong EdgeStrength = "strong"
)

// StrengthFor maps a 0-100 weight onto an EdgeStrength.
func StrengthFor(weight float64) EdgeStrength {
	switch {
	case weight >= 70:
		return StrengthStrong
	case weight >= 40:
		return StrengthMedium
	default:
		return StrengthWeak
	}
}

// Polarity tells whether more of a signal is desirable.
type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
	Neutral  Polarity = "neutral"
)

// SignalMeta describes how a signal type is drawn.
type SignalMeta struct {
	Label      string
	NodeType   NodeType
	Polarity   Polarity
	Suggestion string
}

// MetaTable maps signal types to their presentation.
type MetaTable map[signal.Type]SignalMeta

// DefaultMeta returns the built-in table.
func DefaultMeta() MetaTable {
	return MetaTable{
		signal.Stress: {"Stress", TypeSignal, Negative,
			"Block a ten minute decompression break right after your most demanding task."},
		signal.Anxiety: {"Anxiety", TypeSignal, Negative,
			"Write down the worry and one small action you control today."},
		signal.Fatigue: {"Fatigue", TypeSignal, Negative,
			"Protect a consistent bedtime for the next three nights."},
		signal.Procrastination: {"Procrastination", TypeSignal, Negative,
			"Start the avoided task for just five minutes."},
		signal.Focus: {"Focus", TypeRoutine, Positive,
			"Schedule one 25 minute focus block at your best hour."},
		signal.Productivity: {"Productivity", TypeRoutine, Positive,
			"Pick the single most valuable task before you open messages."},
		signal.Motivation: {"Motivation", TypeRoutine, Positive,
			"Tie today's quest to a reason that matters to you."},
		signal.Confidence: {"Confidence", TypeHabit, Positive,
			"Note one thing you handled well today."},
		signal.Mindfulness: {"Mindfulness", TypeHabit, Positive,
			"Take a two minute mindful pause between tasks."},
		signal.Breathing: {"Breathing", TypeHabit, Positive,
			"Try four rounds of box breathing when tension rises."},
	}
}

// Lookup returns the metadata for t, deriving a neutral entry for types
// missing from the table.
func (m MetaTable) Lookup(t signal.Type) SignalMeta {
	if meta, ok := m[t]; ok {
		return meta
	}
	label := string(t)
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return SignalMeta{Label: label, NodeType: TypeSignal, Polarity: Neutral}
}

// User is the map center.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	XP        int       `json:"xp"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckIn is a daily mood rating in percent.
type CheckIn struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Percentage float64   `json:"percentage"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Quest is a user goal with progress in percent.
type Quest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Category  string    `json:"category,omitempty"`
	Progress  float64   `json:"progress"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Input is everything Build reads.
type Input struct {
	User     User
	CheckIns []CheckIn
	Quests   []Quest
	Signals  []signal.Signal
	Now      time.Time
}

// Node is one behavior in the map.
type Node struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Type        NodeType  `json:"type"`
	State       NodeState `json:"state"`
	Score       float64   `json:"score"`
	Occurrences int       `json:"occurrences"`
	Summary     string    `json:"summary"`
	Details     []string  `json:"details"`
	Suggestion  string    `json:"suggestion,omitempty"`
	Polarity    Polarity  `json:"polarity"`
}

// Edge is a directed correlation between two nodes.
type Edge struct {
	ID       string       `json:"id"`
	Source   string       `json:"source"`
	Target   string       `json:"target"`
	Strength EdgeStrength `json:"strength"`
	Score    float64      `json:"score"`
	Reason   string       `json:"reason"`
}

// Center describes the user at the middle of the map.
type Center struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	XP     int    `json:"xp"`
	Label  string `json:"label"`
}

// GrowthPath is the suggested next area to grow.
type GrowthPath struct {
	NodeID     string  `json:"node_id"`
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Suggestion string  `json:"suggestion"`
}

// NodeDelta is the week-over-week change of one node.
type NodeDelta struct {
	NodeID string `json:"node_id"`
	Label  string `json:"label"`
	temporal.WeeklyDelta
}

// Payload is the full map output.
type Payload struct {
	Center           Center                `json:"center"`
	Nodes            []Node                `json:"nodes"`
	Edges            []Edge                `json:"edges"`
	Highlight        string                `json:"highlight"`
	GrowthPath       *GrowthPath           `json:"growth_path,omitempty"`
	Suggestions      []string              `json:"suggestions"`
	WeeklyDeltas     []NodeDelta           `json:"weekly_deltas"`
	Update           Update                `json:"update"`
	WeeklyReflection string                `json:"weekly_reflection"`
	Reflection       string                `json:"reflection,omitempty"`
	DataWindow       temporal.WindowCounts `json:"data_window"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

// Node returns the node with id, if present.
func (p *Payload) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// ApplyUpdate records a change detection result and, when something
// changed, makes its message the highlight.
func (p *Payload) ApplyUpdate(u Update) {
	p.Update = u
	if u.Changed && u.Message != "" {
		p.Highlight = u.Message
	}
}

// MergeReflection attaches an externally written reflection.
func (p *Payload) MergeReflection(text string) {
	if text = strings.TrimSpace(text); text != "" {
		p.Reflection = text
	}
}
