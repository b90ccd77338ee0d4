package behaviormap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/pulsemap/internal/signal"
	"github.com/TobiSchelling/pulsemap/internal/temporal"
)

var now = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newTestBuilder(opts Options) *Builder {
	opts.Aggregator = temporal.New(temporal.Options{SourceWeights: signal.DefaultSourceWeights(), Location: time.UTC})
	return NewBuilder(opts)
}

func sig(typ signal.Type, intensity int, conf float64, ago time.Duration) signal.Signal {
	return signal.Signal{
		MessageID:  "m-" + string(typ) + "-" + ago.String(),
		Type:       typ,
		Intensity:  intensity,
		Confidence: conf,
		Source:     signal.SourceChat,
		CreatedAt:  now.Add(-ago),
	}
}

func checkIn(pct float64, ago time.Duration) CheckIn {
	return CheckIn{Percentage: pct, CreatedAt: now.Add(-ago)}
}

func TestBuildEmptyInputYieldsMoodOnly(t *testing.T) {
	p, err := newTestBuilder(Options{}).Build(Input{User: User{ID: "u1", Name: "Ada", Level: 3}, Now: now})
	require.NoError(t, err)

	require.Len(t, p.Nodes, 1)
	mood := p.Nodes[0]
	assert.Equal(t, "mood", mood.ID)
	assert.Equal(t, TypeMood, mood.Type)
	assert.Equal(t, NeutralMood, mood.Score)
	assert.Equal(t, StateMedium, mood.State)
	assert.Empty(t, p.Edges)
	assert.NotNil(t, p.Edges)
	assert.Nil(t, p.GrowthPath)
	assert.Equal(t, mood.Summary, p.Highlight)
	assert.Equal(t, temporal.WindowCounts{}, p.DataWindow)
	assert.Equal(t, Center{UserID: "u1", Name: "Ada", Level: 3, Label: "Level 3"}, p.Center)
	assert.NotEmpty(t, p.WeeklyReflection)
}

func TestBuildStressScenario(t *testing.T) {
	// Three messages on three calendar days, each extracted on its own.
	raws := []string{
		`[{"signal_type":"stress","intensity":4,"confidence":0.9}]`,
		`[{"signal_type":"stressed","intensity":3,"confidence":0.8}]`,
		`[{"signal_type":"stress","intensity":5,"confidence":0.95}]`,
	}
	agos := []time.Duration{time.Hour, 26 * time.Hour, 50 * time.Hour}

	var signals []signal.Signal
	for i, raw := range raws {
		batch := signal.ParseResponseText(raw)
		require.Len(t, batch, 1)
		batch[0].MessageID = "m" + string(rune('1'+i))
		batch[0].Source = signal.SourceChat
		batch[0].CreatedAt = now.Add(-agos[i])
		signals = append(signals, batch...)
	}
	require.Len(t, signals, 3)

	p, err := newTestBuilder(Options{}).Build(Input{Signals: signals, Now: now})
	require.NoError(t, err)

	stress, ok := p.Node("signal:stress")
	require.True(t, ok)
	assert.Equal(t, 3, stress.Occurrences)
	assert.Equal(t, TypeSignal, stress.Type)
	assert.Equal(t, Negative, stress.Polarity)
	assert.InDelta(t, 76.9, stress.Score, 0.2)
	assert.Equal(t, StateHigh, stress.State)
	assert.NotEmpty(t, stress.Suggestion)
	assert.Equal(t, temporal.WindowCounts{Last24h: 1, Last7d: 3, Last30d: 3}, p.DataWindow)
}

func TestBuildMoodScore(t *testing.T) {
	tests := []struct {
		name      string
		checkIns  []CheckIn
		wantScore float64
		wantState NodeState
	}{
		{"today and yesterday", []CheckIn{checkIn(80, time.Hour), checkIn(40, 24*time.Hour)}, 66, StateMedium},
		{"today averaged", []CheckIn{checkIn(90, time.Hour), checkIn(70, 2*time.Hour)}, 80, StateHigh},
		{"yesterday only", []CheckIn{checkIn(40, 24*time.Hour)}, 40, StateLow},
		{"older check-ins only", []CheckIn{checkIn(10, 72*time.Hour)}, NeutralMood, StateMedium},
		{"clamped", []CheckIn{checkIn(140, time.Hour)}, 100, StateHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newTestBuilder(Options{}).Build(Input{CheckIns: tt.checkIns, Now: now})
			require.NoError(t, err)
			mood, ok := p.Node("mood")
			require.True(t, ok)
			assert.InDelta(t, tt.wantScore, mood.Score, 1e-9)
			assert.Equal(t, tt.wantState, mood.State)
		})
	}
}

func TestBuildEdgesToMood(t *testing.T) {
	in := Input{Now: now}
	for _, ago := range []time.Duration{time.Hour, 25 * time.Hour, 49 * time.Hour} {
		in.CheckIns = append(in.CheckIns, checkIn(80, ago))
		in.Signals = append(in.Signals, sig(signal.Focus, 5, 0.9, ago))
	}
	in.Signals = append(in.Signals, sig(signal.Stress, 1, 0.9, time.Hour))

	p, err := newTestBuilder(Options{}).Build(in)
	require.NoError(t, err)
	require.Len(t, p.Edges, 2)

	top := p.Edges[0]
	assert.Equal(t, "signal:focus->mood", top.ID)
	assert.Equal(t, "signal:focus", top.Source)
	assert.Equal(t, "mood", top.Target)
	assert.Equal(t, 100.0, top.Score)
	assert.Equal(t, StrengthStrong, top.Strength)
	assert.Equal(t, "Focus co-occurred with higher mood on 3 days", top.Reason)

	co := p.Edges[1]
	assert.Equal(t, "signal:stress->mood", co.ID)
	assert.Equal(t, 62.3, co.Score)
	assert.Equal(t, StrengthMedium, co.Strength)
	assert.Equal(t, "Stress showed up on 1 check-in day", co.Reason)

	assert.Equal(t, top.Reason, p.Highlight)
	assert.Contains(t, p.WeeklyReflection, "Focus was your strongest pattern this week")
}

func TestBuildSignalEdgeDirection(t *testing.T) {
	in := Input{Now: now}
	for _, ago := range []time.Duration{time.Hour, 25 * time.Hour} {
		in.Signals = append(in.Signals, sig(signal.Stress, 4, 0.9, ago), sig(signal.Focus, 5, 0.9, ago))
	}

	p, err := newTestBuilder(Options{}).Build(in)
	require.NoError(t, err)
	require.Len(t, p.Edges, 1)
	assert.Equal(t, "signal:focus", p.Edges[0].Source)
	assert.Equal(t, "signal:stress", p.Edges[0].Target)
	assert.Equal(t, "Focus and Stress ran high together on 2 days", p.Edges[0].Reason)

	// Signal nodes are ordered by score.
	require.Len(t, p.Nodes, 3)
	assert.Equal(t, []string{"mood", "signal:focus", "signal:stress"}, nodeIDs(p))
}

func TestBuildCapsEdges(t *testing.T) {
	in := Input{Now: now}
	for _, ago := range []time.Duration{time.Hour, 25 * time.Hour} {
		in.CheckIns = append(in.CheckIns, checkIn(90, ago))
		for _, typ := range []signal.Type{signal.Focus, signal.Motivation, signal.Confidence} {
			in.Signals = append(in.Signals, sig(typ, 5, 0.9, ago))
		}
	}

	full, err := newTestBuilder(Options{}).Build(in)
	require.NoError(t, err)
	assert.Len(t, full.Edges, 6)

	capped, err := newTestBuilder(Options{MaxEdges: 2}).Build(in)
	require.NoError(t, err)
	assert.Len(t, capped.Edges, 2)
	assert.Equal(t, full.Edges[:2], capped.Edges)
}

func TestBuildQuestNode(t *testing.T) {
	in := Input{
		Now: now,
		Quests: []Quest{
			{ID: "q1", Title: "Old quest", Progress: 20, CreatedAt: now.Add(-10 * 24 * time.Hour)},
			{ID: "q2", Title: "Run a 10k", Category: "fitness", Progress: 150,
				CreatedAt: now.Add(-5 * 24 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
			{ID: "q3", Title: "Done", Completed: true, Progress: 100, UpdatedAt: now.Add(-time.Hour)},
		},
		Signals: []signal.Signal{
			{MessageID: "m1", Type: signal.Motivation, Intensity: 4, Confidence: 0.8,
				Source: signal.SourceQuestProgress, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		},
	}

	p, err := newTestBuilder(Options{}).Build(in)
	require.NoError(t, err)

	q, ok := p.Node("quest:q2")
	require.True(t, ok)
	assert.Equal(t, TypeQuest, q.Type)
	assert.Equal(t, "Run a 10k", q.Label)
	assert.Equal(t, 100.0, q.Score)
	assert.Equal(t, StateHigh, q.State)
	assert.Equal(t, 3, q.Occurrences, "created, updated and quest signal days")
	assert.Contains(t, q.Details, "Category: fitness")

	_, ok = p.Node("quest:q3")
	assert.False(t, ok)

	// Quest and motivation share the quest signal day.
	var linked bool
	for _, e := range p.Edges {
		if e.Source == "quest:q2" || e.Target == "quest:q2" {
			linked = true
		}
	}
	assert.True(t, linked)
}

func TestBuildRespectsMaxQuests(t *testing.T) {
	in := Input{
		Now: now,
		Quests: []Quest{
			{ID: "q1", Title: "Latest", CreatedAt: now.Add(-time.Hour)},
			{ID: "q2", Title: "Ignored", CreatedAt: now.Add(-time.Minute)},
		},
	}
	p, err := newTestBuilder(Options{MaxQuests: 1}).Build(in)
	require.NoError(t, err)
	_, ok := p.Node("quest:q1")
	assert.True(t, ok)
	_, ok = p.Node("quest:q2")
	assert.False(t, ok)
}

func TestBuildGrowthPathAndSuggestions(t *testing.T) {
	in := Input{Now: now, Signals: []signal.Signal{
		sig(signal.Focus, 5, 0.9, time.Hour),
		sig(signal.Mindfulness, 2, 0.9, time.Hour),
		sig(signal.Stress, 1, 0.9, time.Hour),
	}}

	p, err := newTestBuilder(Options{}).Build(in)
	require.NoError(t, err)

	require.NotNil(t, p.GrowthPath)
	assert.Equal(t, "signal:mindfulness", p.GrowthPath.NodeID)
	assert.Equal(t, DefaultMeta()[signal.Mindfulness].Suggestion, p.GrowthPath.Suggestion)

	// Mood plus three signals, all with distinct suggestions.
	assert.Len(t, p.Suggestions, 4)
	assert.Len(t, p.WeeklyDeltas, 4)
}

func TestBuildIgnoresOutOfWindowSignals(t *testing.T) {
	in := Input{Now: now, Signals: []signal.Signal{
		sig(signal.Focus, 5, 0.9, 31*24*time.Hour),
		sig(signal.Stress, 5, 0.9, -2*time.Hour),
	}}
	p, err := newTestBuilder(Options{}).Build(in)
	require.NoError(t, err)
	assert.Len(t, p.Nodes, 1)
}

func TestBuildErrors(t *testing.T) {
	b := newTestBuilder(Options{})

	_, err := b.Build(Input{})
	assert.ErrorIs(t, err, ErrInvalidClock)

	_, err = b.Build(Input{Now: now, Signals: []signal.Signal{{Type: "hungry", CreatedAt: now}}})
	assert.ErrorIs(t, err, signal.ErrUnknownType)
}

func TestBuildUsesInjectedMeta(t *testing.T) {
	meta := DefaultMeta()
	meta[signal.Stress] = SignalMeta{Label: "Pressure", NodeType: TypeSignal, Polarity: Negative}
	p, err := newTestBuilder(Options{Meta: meta}).Build(Input{Now: now, Signals: []signal.Signal{sig(signal.Stress, 3, 0.7, time.Hour)}})
	require.NoError(t, err)
	n, ok := p.Node("signal:stress")
	require.True(t, ok)
	assert.Equal(t, "Pressure", n.Label)
}

func TestConnectionWeight(t *testing.T) {
	assert.Equal(t, 0.0, ConnectionWeight(0, 3, 3))
	assert.InDelta(t, 62.2857, ConnectionWeight(1, 1, 3), 1e-3)
	assert.Equal(t, 100.0, ConnectionWeight(3, 3, 3))
	assert.InDelta(t, 22+30+0+30.0/7, ConnectionWeight(1, 1, 0), 1e-9)
	for s := 1; s <= 30; s++ {
		w := ConnectionWeight(s, 30, 30)
		assert.GreaterOrEqual(t, w, 0.0)
		assert.LessOrEqual(t, w, 100.0)
	}
}

func TestDominantScore(t *testing.T) {
	assert.InDelta(t, 71, DominantScore(4, 4, 4, 1, 1), 1e-9)
	assert.InDelta(t, 57, DominantScore(0, 3, 3, 0, 2), 1e-9)
	assert.InDelta(t, 68, DominantScore(0, 0, 5, 0, 0), 1e-9)
	assert.InDelta(t, 100, DominantScore(5, 5, 5, 10, 10), 1e-9)
}

func TestStateAndStrengthThresholds(t *testing.T) {
	assert.Equal(t, StateHigh, StateFor(70))
	assert.Equal(t, StateMedium, StateFor(69.9))
	assert.Equal(t, StateMedium, StateFor(45))
	assert.Equal(t, StateLow, StateFor(44.9))

	assert.Equal(t, StrengthStrong, StrengthFor(70))
	assert.Equal(t, StrengthMedium, StrengthFor(40))
	assert.Equal(t, StrengthWeak, StrengthFor(39.9))
}

func nodeIDs(p Payload) []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.ID
	}
	return ids
}
