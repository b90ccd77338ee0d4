package insight

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/llm"
)

const reflectPrompt = `You are a warm, concise coach inside a self-tracking app.

Write ONE short reflection (max 2 sentences) for the user about their week. Be specific, kind and practical. Do not give medical advice.

Insight summary:
- Top interest: %s
- Productivity score: %.1f / 100
- Entertainment share of logged time: %.0f%%
- Trend: %s
%s
Respond with ONLY this JSON:
{
    "reflection": "Your reflection here"
}`

const maxReflectionChars = 400

// Reflector phrases the weekly reflection, falling back to templated text.
type Reflector struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewReflector creates a reflector. provider may be nil.
func NewReflector(provider llm.Provider, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflector{provider: provider, logger: logger}
}

// Reflect returns a reflection for state. payload adds map context and may be nil.
func (r *Reflector) Reflect(ctx context.Context, state State, payload *behaviormap.Payload) string {
	fallback := FallbackReflection(state, payload)
	if r.provider == nil {
		return fallback
	}

	prompt := fmt.Sprintf(reflectPrompt,
		state.TopInterest, state.ProductivityScore, state.EntertainmentRatio*100, state.CurrentTrend,
		mapContext(payload))

	responseText, err := r.provider.Generate(ctx, prompt, 200)
	if err != nil || strings.TrimSpace(responseText) == "" {
		if err != nil {
			r.logger.Warn("reflection call failed", zap.String("user_id", state.UserID), zap.Error(err))
		}
		return fallback
	}

	parsed := llm.ParseJSONResponse(responseText)
	if parsed == nil {
		return fallback
	}
	text, _ := parsed["reflection"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return llm.Truncate(text, maxReflectionChars)
}

func mapContext(payload *behaviormap.Payload) string {
	if payload == nil {
		return ""
	}
	var lines []string
	for _, n := range payload.Nodes {
		lines = append(lines, fmt.Sprintf("- %s: %s (%.0f/100)", n.Label, n.State, n.Score))
	}
	if payload.Highlight != "" {
		lines = append(lines, "- Highlight: "+payload.Highlight)
	}
	return "\nBehavior map:\n" + strings.Join(lines, "\n") + "\n"
}

// FallbackReflection is the deterministic reflection used without an LLM.
func FallbackReflection(state State, payload *behaviormap.Payload) string {
	if payload != nil && payload.WeeklyReflection != "" {
		return payload.WeeklyReflection
	}

	var trend string
	switch state.CurrentTrend {
	case Rising:
		trend = "Your productivity is rising"
	case Dropping:
		trend = "Your productivity dipped compared to yesterday"
	default:
		trend = "Your productivity is steady"
	}
	return fmt.Sprintf("%s, and %s took most of your attention this week.", trend, state.TopInterest)
}
