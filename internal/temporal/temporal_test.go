package temporal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/pulsemap/internal/signal"
)

var now = time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)

func newTestAggregator() *Aggregator {
	return New(Options{SourceWeights: signal.DefaultSourceWeights(), Location: time.UTC})
}

func obs(value, conf float64, src signal.Source, ago time.Duration) Observation {
	return Observation{Value: value, Confidence: conf, Source: src, CreatedAt: now.Add(-ago)}
}

func TestDecay(t *testing.T) {
	a := newTestAggregator()

	assert.Equal(t, 1.0, a.Decay(now, now))
	assert.Equal(t, 1.0, a.Decay(now.Add(3*time.Hour), now), "future rows are not boosted")
	assert.InDelta(t, math.Exp(-1), a.Decay(now.Add(-108*time.Hour), now), 1e-9)

	half := a.Decay(now.Add(-75*time.Hour), now)
	assert.InDelta(t, 0.5, half, 0.01)
}

func TestDecayIsMonotonic(t *testing.T) {
	a := newTestAggregator()
	prev := a.Decay(now, now)
	for h := 1; h <= 24*30; h += 7 {
		cur := a.Decay(now.Add(-time.Duration(h)*time.Hour), now)
		assert.Less(t, cur, prev, "hour %d", h)
		prev = cur
	}
}

func TestWeightUsesFloorAndSource(t *testing.T) {
	a := newTestAggregator()

	low := a.Weight(obs(3, 0.1, signal.SourceDailyPulse, 0), now, false)
	assert.InDelta(t, 0.35, low, 1e-9)

	chat := a.Weight(obs(3, 0.8, signal.SourceChat, 0), now, false)
	assert.InDelta(t, 0.7*0.8, chat, 1e-9)

	unknown := a.Weight(obs(3, 2, signal.Source("watch"), 0), now, false)
	assert.InDelta(t, 0.65, unknown, 1e-9)

	decayed := a.Weight(obs(3, 1, signal.SourceDailyPulse, 9*24*time.Hour), now, true)
	assert.InDelta(t, math.Exp(-2), decayed, 1e-9)
}

func TestWeightedAverage(t *testing.T) {
	a := newTestAggregator()

	assert.Equal(t, 0.0, a.WeightedAverage(nil, now, true))

	rows := []Observation{
		obs(5, 1, signal.SourceDailyPulse, 0),
		obs(1, 1, signal.SourceDailyPulse, 0),
	}
	assert.InDelta(t, 3.0, a.WeightedAverage(rows, now, false), 1e-9)

	rows[1].CreatedAt = now.Add(-10 * 24 * time.Hour)
	assert.Greater(t, a.WeightedAverage(rows, now, true), 4.0, "older row should count less")
	assert.InDelta(t, 3.0, a.WeightedAverage(rows, now, false), 1e-9)
}

func TestHighDaysUsesRowDate(t *testing.T) {
	a := newTestAggregator()
	rows := []Observation{
		// 2026-03-10: avg 4 -> high
		obs(4, 1, signal.SourceChat, time.Hour),
		obs(4, 1, signal.SourceChat, 2*time.Hour),
		// 2026-03-09: avg 2 -> not high
		obs(2, 1, signal.SourceChat, 20*time.Hour),
		// 2026-03-08: single row -> high
		obs(3.5, 0.9, signal.SourceChat, 50*time.Hour),
	}

	got := a.HighDays(rows, now)
	assert.Equal(t, []string{"2026-03-08", "2026-03-10"}, got.Sorted())
}

func TestHighDaysRespectsLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	a := New(Options{Location: tokyo})
	// 20:00 UTC on the 9th is already the 10th in Tokyo.
	rows := []Observation{{Value: 5, Confidence: 1, CreatedAt: time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)}}
	assert.Equal(t, []string{"2026-03-10"}, a.HighDays(rows, now).Sorted())
}

func TestDaySetIntersect(t *testing.T) {
	a := DaySet{"2026-03-01": {}, "2026-03-02": {}, "2026-03-03": {}}
	b := DaySet{"2026-03-02": {}, "2026-03-03": {}, "2026-03-09": {}}
	assert.Equal(t, 2, a.Intersect(b))
	assert.Equal(t, 2, b.Intersect(a))
	assert.Equal(t, 0, a.Intersect(DaySet{}))
}

func TestCounts(t *testing.T) {
	rows := []Observation{
		obs(3, 1, signal.SourceChat, time.Hour),
		obs(3, 1, signal.SourceChat, 23*time.Hour),
		obs(3, 1, signal.SourceChat, 25*time.Hour),
		obs(3, 1, signal.SourceChat, 6*24*time.Hour),
		obs(3, 1, signal.SourceChat, 8*24*time.Hour),
		obs(3, 1, signal.SourceChat, 29*24*time.Hour),
		obs(3, 1, signal.SourceChat, 31*24*time.Hour),
	}
	assert.Equal(t, WindowCounts{Last24h: 2, Last7d: 4, Last30d: 6}, Counts(rows, now))
}

func TestWeekly(t *testing.T) {
	a := newTestAggregator()
	rows := []Observation{
		obs(4, 1, signal.SourceDailyPulse, 2*24*time.Hour),
		obs(2, 1, signal.SourceDailyPulse, 9*24*time.Hour),
		obs(5, 1, signal.SourceDailyPulse, 20*24*time.Hour),
	}
	got := a.Weekly(rows, now)
	assert.Equal(t, 4.0, got.Current)
	assert.Equal(t, 2.0, got.Previous)
	assert.Equal(t, 2.0, got.Delta)

	empty := a.Weekly(nil, now)
	assert.Equal(t, WeeklyDelta{}, empty)
}

func TestCheckClock(t *testing.T) {
	require.NoError(t, CheckClock(now))
	assert.ErrorIs(t, CheckClock(time.Time{}), ErrInvalidClock)
	assert.ErrorIs(t, CheckClock(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)), ErrInvalidClock)
}

func TestStartOfDay(t *testing.T) {
	a := newTestAggregator()
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), a.StartOfDay(now))
}
