package behaviormap

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/TobiSchelling/pulsemap/internal/signal"
	"github.com/TobiSchelling/pulsemap/internal/temporal"
)

const (
	moodNodeID = "mood"
	// NeutralMood is the mood score shown without recent check-ins.
	NeutralMood = 50.0

	// DefaultMaxEdges caps how many edges a map carries.
	DefaultMaxEdges = 12
	// DefaultMaxQuests caps how many quests are considered.
	DefaultMaxQuests = 120

	day         = 24 * time.Hour
	week        = 7 * day
	monthWindow = 30 * day
)

// Options configures a Builder. Zero fields take defaults.
type Options struct {
	Aggregator *temporal.Aggregator
	Meta       MetaTable
	MaxEdges   int
	MaxQuests  int
}

// Builder assembles Payloads. It holds no mutable state and is safe for
// concurrent use.
type Builder struct {
	agg       *temporal.Aggregator
	meta      MetaTable
	maxEdges  int
	maxQuests int
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	b := &Builder{agg: opts.Aggregator, meta: opts.Meta, maxEdges: opts.MaxEdges, maxQuests: opts.MaxQuests}
	if b.agg == nil {
		b.agg = temporal.New(temporal.Options{SourceWeights: signal.DefaultSourceWeights()})
	}
	if b.meta == nil {
		b.meta = DefaultMeta()
	}
	if b.maxEdges <= 0 {
		b.maxEdges = DefaultMaxEdges
	}
	if b.maxQuests <= 0 {
		b.maxQuests = DefaultMaxQuests
	}
	return b
}

// built is a node together with the day sets its edges are computed from.
type built struct {
	node   Node
	active temporal.DaySet
	high   temporal.DaySet
	delta  *temporal.WeeklyDelta
}

// Build computes the behavior map for in. Empty inputs yield a map with only
// the mood node. The returned Update is empty; run Detect against the
// previous snapshot and ApplyUpdate to fill it.
func (b *Builder) Build(in Input) (Payload, error) {
	now := in.Now
	if err := temporal.CheckClock(now); err != nil {
		return Payload{}, err
	}

	mood := b.moodNode(in.CheckIns, now)

	signalObs, err := b.signalObservations(in.Signals, now)
	if err != nil {
		return Payload{}, err
	}
	signalNodes := b.signalNodes(signalObs, now)

	nodes := make([]built, 0, len(signalNodes)+2)
	nodes = append(nodes, mood)
	nodes = append(nodes, signalNodes...)
	if q, ok := b.questNode(in.Quests, in.Signals, now); ok {
		nodes = append(nodes, q)
	}

	edges := b.edges(nodes)

	p := Payload{
		Center:      center(in.User),
		Nodes:       make([]Node, 0, len(nodes)),
		Edges:       edges,
		Suggestions: []string{},
		GeneratedAt: now,
	}

	seen := make(map[string]bool)
	for _, n := range nodes {
		p.Nodes = append(p.Nodes, n.node)
		if n.delta != nil {
			p.WeeklyDeltas = append(p.WeeklyDeltas, NodeDelta{NodeID: n.node.ID, Label: n.node.Label, WeeklyDelta: *n.delta})
		}
		if s := n.node.Suggestion; s != "" && !seen[s] {
			seen[s] = true
			p.Suggestions = append(p.Suggestions, s)
		}
	}

	p.GrowthPath = growthPath(p.Nodes)
	p.WeeklyReflection = weeklyReflection(nodes)
	p.DataWindow = temporal.Counts(flatten(signalObs), now)

	if len(edges) > 0 {
		p.Highlight = edges[0].Reason
	} else {
		p.Highlight = mood.node.Summary
	}
	return p, nil
}

func center(u User) Center {
	level := u.Level
	if level < 1 {
		level = 1
	}
	return Center{UserID: u.ID, Name: u.Name, Level: level, XP: u.XP, Label: fmt.Sprintf("Level %d", level)}
}

func (b *Builder) moodNode(checkIns []CheckIn, now time.Time) built {
	var pct, scaled []temporal.Observation
	for _, c := range checkIns {
		v := clamp(c.Percentage, 0, 100)
		pct = append(pct, temporal.Observation{Value: v, Confidence: 1, Source: signal.SourceDailyPulse, CreatedAt: c.CreatedAt})
		scaled = append(scaled, temporal.Observation{Value: v / 20, Confidence: 1, Source: signal.SourceDailyPulse, CreatedAt: c.CreatedAt})
	}
	pct = temporal.Within(pct, now, monthWindow)
	scaled = temporal.Within(scaled, now, monthWindow)

	todayKey := b.agg.DayKey(now)
	yesterdayKey := b.agg.DayKey(b.agg.StartOfDay(now).AddDate(0, 0, -1))
	var today, yesterday []temporal.Observation
	for _, o := range pct {
		switch b.agg.DayKey(o.CreatedAt) {
		case todayKey:
			today = append(today, o)
		case yesterdayKey:
			yesterday = append(yesterday, o)
		}
	}

	todayAvg := b.agg.WeightedAverage(today, now, false)
	yesterdayAvg := b.agg.WeightedAverage(yesterday, now, false)

	score := NeutralMood
	switch {
	case len(today) > 0 && len(yesterday) > 0:
		score = 0.65*todayAvg + 0.35*yesterdayAvg
	case len(today) > 0:
		score = todayAvg
	case len(yesterday) > 0:
		score = yesterdayAvg
	}
	score = round(clamp(score, 0, 100), 1)

	high := b.agg.HighDays(scaled, now)
	weekCount := len(temporal.Within(pct, now, week))

	summary := fmt.Sprintf("Mood is at %.0f%% based on recent check-ins.", score)
	if len(today) == 0 && len(yesterday) == 0 {
		summary = "No check-ins in the last two days, so mood is shown as neutral."
	}

	details := []string{
		dayDetail("Today", today, todayAvg),
		dayDetail("Yesterday", yesterday, yesterdayAvg),
		fmt.Sprintf("Check-ins in the last 7 days: %d", weekCount),
		fmt.Sprintf("High-mood days this month: %d", len(high)),
	}

	state := StateFor(score)
	delta := b.agg.Weekly(pct, now)
	return built{
		node: Node{
			ID:          moodNodeID,
			Label:       "Mood",
			Type:        TypeMood,
			State:       state,
			Score:       score,
			Occurrences: weekCount,
			Summary:     summary,
			Details:     details,
			Suggestion:  moodSuggestion(state),
			Polarity:    Neutral,
		},
		active: b.agg.Days(pct),
		high:   high,
		delta:  &delta,
	}
}

func dayDetail(name string, rows []temporal.Observation, avg float64) string {
	if len(rows) == 0 {
		return name + ": no check-in"
	}
	return fmt.Sprintf("%s: %.0f%%", name, avg)
}

func moodSuggestion(state NodeState) string {
	switch state {
	case StateLow:
		return "Check in with someone you trust or step outside for ten minutes."
	case StateMedium:
		return "Keep logging daily check-ins so patterns become clearer."
	default:
		return "Note what made today good so you can repeat it."
	}
}

type signalGroup struct {
	typ  signal.Type
	rows []temporal.Observation
}

// signalObservations groups the last 30 days of signals by type in first-seen order.
func (b *Builder) signalObservations(signals []signal.Signal, now time.Time) ([]signalGroup, error) {
	monthStart := now.Add(-monthWindow)
	index := make(map[signal.Type]int)
	var groups []signalGroup
	for _, s := range signals {
		if err := s.Type.Validate(); err != nil {
			return nil, fmt.Errorf("signal %s of message %s: %w", s.Type, s.MessageID, err)
		}
		if !s.CreatedAt.After(monthStart) || s.CreatedAt.After(now) {
			continue
		}
		o := temporal.Observation{
			Value:      clamp(float64(s.Intensity), 1, 5),
			Confidence: s.Confidence,
			Source:     s.Source,
			CreatedAt:  s.CreatedAt,
		}
		i, ok := index[s.Type]
		if !ok {
			i = len(groups)
			index[s.Type] = i
			groups = append(groups, signalGroup{typ: s.Type})
		}
		groups[i].rows = append(groups[i].rows, o)
	}
	return groups, nil
}

func flatten(groups []signalGroup) []temporal.Observation {
	var out []temporal.Observation
	for _, g := range groups {
		out = append(out, g.rows...)
	}
	return out
}

func (b *Builder) signalNodes(groups []signalGroup, now time.Time) []built {
	out := make([]built, 0, len(groups))
	for _, g := range groups {
		meta := b.meta.Lookup(g.typ)
		recent := temporal.Within(g.rows, now, day)
		weekRows := temporal.Within(g.rows, now, week)

		recentAvg := b.agg.WeightedAverage(recent, now, true)
		trendAvg := b.agg.WeightedAverage(weekRows, now, true)
		monthAvg := b.agg.WeightedAverage(g.rows, now, true)

		score := round(DominantScore(recentAvg, trendAvg, monthAvg, len(recent), len(weekRows)), 1)
		high := b.agg.HighDays(g.rows, now)
		delta := b.agg.Weekly(g.rows, now)
		occurrences := len(g.rows)

		out = append(out, built{
			node: Node{
				ID:          "signal:" + string(g.typ),
				Label:       meta.Label,
				Type:        meta.NodeType,
				State:       StateFor(score),
				Score:       score,
				Occurrences: occurrences,
				Summary: fmt.Sprintf("%s appeared %d %s in the last 30 days, %d in the last week.",
					meta.Label, occurrences, plural(occurrences, "time", "times"), len(weekRows)),
				Details: []string{
					fmt.Sprintf("Last 24h: %d (avg intensity %.1f)", len(recent), recentAvg),
					fmt.Sprintf("Last 7 days: %d (avg intensity %.1f)", len(weekRows), trendAvg),
					fmt.Sprintf("Last 30 days: %d", occurrences),
					fmt.Sprintf("High-intensity days: %d", len(high)),
					fmt.Sprintf("Week over week: %+.1f", delta.Delta),
				},
				Suggestion: meta.Suggestion,
				Polarity:   meta.Polarity,
			},
			active: b.agg.Days(g.rows),
			high:   high,
			delta:  &delta,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].node.Score != out[j].node.Score {
			return out[i].node.Score > out[j].node.Score
		}
		return out[i].node.ID < out[j].node.ID
	})
	return out
}

// DominantScore blends decayed 24h, 7d and 30d intensity averages (1-5) and
// the weekly occurrence count into a 0-100 score. The freshest populated
// window dominates.
func DominantScore(recentAvg, trendAvg, monthAvg float64, recentCount, weekCount int) float64 {
	var base float64
	switch {
	case recentCount > 0:
		base = 0.6*recentAvg + 0.4*trendAvg
	case weekCount > 0:
		base = trendAvg
	default:
		base = 0.8 * monthAvg
	}
	bonus := math.Min(15, 3*float64(weekCount))
	return clamp(base/5*100*0.85+bonus, 0, 100)
}

// questNode picks the most recently touched incomplete quest.
func (b *Builder) questNode(quests []Quest, signals []signal.Signal, now time.Time) (built, bool) {
	if len(quests) > b.maxQuests {
		quests = quests[:b.maxQuests]
	}

	var active *Quest
	for i := range quests {
		q := &quests[i]
		if q.Completed {
			continue
		}
		if active == nil || lastTouched(*q).After(lastTouched(*active)) {
			active = q
		}
	}
	if active == nil {
		return built{}, false
	}

	monthStart := now.Add(-monthWindow)
	inWindow := func(t time.Time) bool { return !t.IsZero() && t.After(monthStart) && !t.After(now) }

	days := temporal.DaySet{}
	for _, t := range []time.Time{active.CreatedAt, active.UpdatedAt} {
		if inWindow(t) {
			days.Add(b.agg.DayKey(t))
		}
	}
	for _, s := range signals {
		if s.Source.IsQuest() && inWindow(s.CreatedAt) {
			days.Add(b.agg.DayKey(s.CreatedAt))
		}
	}

	score := round(clamp(active.Progress, 0, 100), 1)
	details := []string{fmt.Sprintf("Progress: %.0f%%", score)}
	if active.Category != "" {
		details = append(details, "Category: "+active.Category)
	}
	if !active.CreatedAt.IsZero() {
		details = append(details, "Started: "+b.agg.DayKey(active.CreatedAt))
	}
	details = append(details, fmt.Sprintf("Active on %d %s this month", len(days), plural(len(days), "day", "days")))

	return built{
		node: Node{
			ID:          "quest:" + active.ID,
			Label:       active.Title,
			Type:        TypeQuest,
			State:       StateFor(score),
			Score:       score,
			Occurrences: len(days),
			Summary:     fmt.Sprintf("%s is %.0f%% complete.", active.Title, score),
			Details:     details,
			Suggestion:  fmt.Sprintf("Move %q forward by one small step today.", active.Title),
			Polarity:    Neutral,
		},
		active: days,
		high:   days,
	}, true
}

func lastTouched(q Quest) time.Time {
	if q.UpdatedAt.After(q.CreatedAt) {
		return q.UpdatedAt
	}
	return q.CreatedAt
}

// ConnectionWeight scores an edge from its support (shared days) and the
// active day counts of both ends.
func ConnectionWeight(support, sourceDays, targetDays int) float64 {
	if support <= 0 {
		return 0
	}
	s := float64(support)
	sourceCoverage := coverage(s, sourceDays)
	targetCoverage := coverage(s, targetDays)
	recurrence := s / 7
	return clamp(s*22+sourceCoverage*30+targetCoverage*18+recurrence*30, 0, 100)
}

func coverage(support float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return math.Min(1, support/float64(days))
}

func (b *Builder) edges(nodes []built) []Edge {
	edges := []Edge{}
	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			if e, ok := connect(nodes[i], nodes[j]); ok {
				edges = append(edges, e)
			}
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Score != edges[j].Score {
			return edges[i].Score > edges[j].Score
		}
		return edges[i].ID < edges[j].ID
	})
	if len(edges) > b.maxEdges {
		edges = edges[:b.maxEdges]
	}
	return edges
}

func connect(a, b built) (Edge, bool) {
	src, dst := a, b
	switch {
	case a.node.ID == moodNodeID:
		src, dst = b, a
	case b.node.ID == moodNodeID:
	case b.node.Score > a.node.Score || (b.node.Score == a.node.Score && b.node.ID < a.node.ID):
		src, dst = b, a
	}

	toMood := dst.node.ID == moodNodeID
	support := src.high.Intersect(dst.high)
	var reason string
	switch {
	case support > 0 && toMood:
		reason = fmt.Sprintf("%s co-occurred with higher mood on %d %s", src.node.Label, support, plural(support, "day", "days"))
	case support > 0:
		reason = fmt.Sprintf("%s and %s ran high together on %d %s", src.node.Label, dst.node.Label, support, plural(support, "day", "days"))
	case toMood:
		support = src.active.Intersect(dst.active)
		if support == 0 {
			return Edge{}, false
		}
		reason = fmt.Sprintf("%s showed up on %d check-in %s", src.node.Label, support, plural(support, "day", "days"))
	default:
		return Edge{}, false
	}

	score := round(ConnectionWeight(support, len(src.active), len(dst.active)), 1)
	return Edge{
		ID:       src.node.ID + "->" + dst.node.ID,
		Source:   src.node.ID,
		Target:   dst.node.ID,
		Strength: StrengthFor(score),
		Score:    score,
		Reason:   reason,
	}, true
}

// growthPath suggests the weakest positive behavior.
func growthPath(nodes []Node) *GrowthPath {
	var pick *Node
	for i := range nodes {
		n := &nodes[i]
		if n.Polarity != Positive {
			continue
		}
		if pick == nil || n.Score < pick.Score {
			pick = n
		}
	}
	if pick == nil {
		return nil
	}
	return &GrowthPath{NodeID: pick.ID, Label: pick.Label, Score: pick.Score, Suggestion: pick.Suggestion}
}

func weeklyReflection(nodes []built) string {
	var mood, dominant *built
	for i := range nodes {
		n := &nodes[i]
		switch {
		case n.node.ID == moodNodeID:
			mood = n
		case n.node.Type == TypeQuest:
		case dominant == nil || n.node.Score > dominant.node.Score:
			dominant = n
		}
	}

	moodLine := ""
	if mood != nil && mood.delta != nil {
		d := mood.delta.Delta
		switch {
		case d >= 5:
			moodLine = fmt.Sprintf("Mood is trending up (%+.0f points week over week).", d)
		case d <= -5:
			moodLine = fmt.Sprintf("Mood is trending down (%+.0f points week over week).", d)
		default:
			moodLine = "Mood held steady compared to last week."
		}
	}

	if dominant == nil {
		if mood == nil {
			return "Not enough activity yet for a weekly reflection."
		}
		return fmt.Sprintf("Not enough signals this week yet. Mood is at %.0f%%. %s", mood.node.Score, moodLine)
	}

	var d float64
	if dominant.delta != nil {
		d = dominant.delta.Delta
	}
	lead := fmt.Sprintf("%s was your strongest pattern this week", dominant.node.Label)
	var tail string
	switch dominant.node.Polarity {
	case Negative:
		if d > 0 {
			tail = "and it is building, so protect some recovery time."
		} else {
			tail = "and it is easing compared to last week."
		}
	case Positive:
		if d >= 0 {
			tail = "so keep the momentum going."
		} else {
			tail = "though it dipped a little, and one small session could restart it."
		}
	default:
		tail = "at a steady level."
	}
	return fmt.Sprintf("%s (%+.1f), %s %s", lead, d, tail, moodLine)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
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
