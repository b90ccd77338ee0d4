package signal

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/TobiSchelling/pulsemap/internal/llm"
)

const (
	defaultIntensity  = 3
	defaultConfidence = 0.7
)

// DefaultAliases maps loose wording from extraction output onto signal types.
func DefaultAliases() map[string]Type {
	return map[string]Type{
		"stressed":       Stress,
		"overwhelmed":    Stress,
		"pressure":       Stress,
		"focused":        Focus,
		"concentration":  Focus,
		"deep_work":      Focus,
		"motivated":      Motivation,
		"drive":          Motivation,
		"tired":          Fatigue,
		"exhausted":      Fatigue,
		"sleepy":         Fatigue,
		"burnout":        Fatigue,
		"anxious":        Anxiety,
		"worried":        Anxiety,
		"nervous":        Anxiety,
		"productive":     Productivity,
		"confident":      Confidence,
		"self_esteem":    Confidence,
		"procrastinate":  Procrastination,
		"procrastinated": Procrastination,
		"avoidance":      Procrastination,
		"mindful":        Mindfulness,
		"meditation":     Mindfulness,
		"meditating":     Mindfulness,
		"breath":         Breathing,
		"breathwork":     Breathing,
	}
}

// Normalizer turns loosely-typed extraction candidates into canonical signals.
type Normalizer struct {
	aliases map[string]Type
}

// NewNormalizer creates a normalizer using the given alias table.
// A nil table falls back to DefaultAliases.
func NewNormalizer(aliases map[string]Type) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	copied := make(map[string]Type, len(aliases))
	for k, v := range aliases {
		copied[normalizeKey(k)] = v
	}
	return &Normalizer{aliases: copied}
}

var defaultNormalizer = NewNormalizer(nil)

// Normalize runs the default normalizer over raw.
func Normalize(raw any) []Signal {
	return defaultNormalizer.Normalize(raw)
}

// ParseResponseText runs the default normalizer over free LLM text.
func ParseResponseText(text string) []Signal {
	return defaultNormalizer.ParseResponseText(text)
}

// Resolve maps a raw type name onto the enumeration.
func (n *Normalizer) Resolve(name string) (Type, bool) {
	key := normalizeKey(name)
	if key == "" {
		return "", false
	}
	if t := Type(key); t.Valid() {
		return t, true
	}
	t, ok := n.aliases[key]
	return t, ok
}

// Normalize accepts a list of candidates, or an object wrapping one under
// "signals" or "data". Anything else yields an empty result. At most one
// signal per type is kept: the highest confidence, then the highest intensity.
func (n *Normalizer) Normalize(raw any) []Signal {
	candidates := unwrapCandidates(raw)
	if len(candidates) == 0 {
		return []Signal{}
	}

	var order []Type
	best := make(map[Type]Signal)
	for _, c := range candidates {
		s, ok := n.candidate(c)
		if !ok {
			continue
		}
		current, seen := best[s.Type]
		if !seen {
			order = append(order, s.Type)
			best[s.Type] = s
			continue
		}
		if s.Confidence > current.Confidence ||
			(s.Confidence == current.Confidence && s.Intensity > current.Intensity) {
			best[s.Type] = s
		}
	}

	out := make([]Signal, 0, len(order))
	for _, t := range order {
		out = append(out, best[t])
	}
	return out
}

// ParseResponseText extracts a JSON array from LLM output (code fences and
// surrounding prose tolerated) and normalizes it. It never fails: an
// unparseable response yields an empty list.
func (n *Normalizer) ParseResponseText(text string) []Signal {
	value := llm.ExtractJSONArray(text)
	if value == nil {
		return []Signal{}
	}
	return n.Normalize(value)
}

func (n *Normalizer) candidate(c any) (Signal, bool) {
	switch v := c.(type) {
	case Signal:
		t, ok := n.Resolve(string(v.Type))
		if !ok {
			return Signal{}, false
		}
		v.Type = t
		intensity := float64(v.Intensity)
		if v.Intensity == 0 {
			intensity = defaultIntensity
		}
		v.Intensity = clampIntensity(intensity)
		v.Confidence = clampConfidence(v.Confidence)
		return v, true
	case map[string]any:
		name := firstString(v, "signal_type", "type")
		t, ok := n.Resolve(name)
		if !ok {
			return Signal{}, false
		}
		intensity := float64(defaultIntensity)
		if f, ok := firstNumber(v, "intensity", "strength"); ok {
			intensity = f
		}
		confidence := defaultConfidence
		if f, ok := firstNumber(v, "confidence", "score"); ok {
			confidence = f
		}
		return Signal{
			Type:       t,
			Intensity:  clampIntensity(intensity),
			Confidence: clampConfidence(confidence),
		}, true
	}
	return Signal{}, false
}

func unwrapCandidates(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []Signal:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case map[string]any:
		for _, key := range []string{"signals", "data"} {
			if inner, ok := v[key]; ok {
				if list, ok := inner.([]any); ok {
					return list
				}
			}
		}
	}
	return nil
}

func clampIntensity(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = defaultIntensity
	}
	r := math.Round(v)
	switch {
	case r < 1:
		return 1
	case r > 5:
		return 5
	}
	return int(r)
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) {
		v = defaultConfidence
	}
	v = math.Max(0, math.Min(1, v))
	return math.Round(v*1000) / 1000
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.Join(strings.Fields(s), "_")
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
