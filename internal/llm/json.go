package llm

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// ParseJSONResponse parses a JSON object from an LLM, handling markdown code blocks.
func ParseJSONResponse(text string) map[string]any {
	text = stripCodeFence(text)
	if text == "" {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
			if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil {
				return result
			}
		}
		zap.L().Debug("failed to parse LLM response as JSON object", zap.Error(err))
		return nil
	}

	return result
}

// ExtractJSONArray returns the decoded value of an LLM response expected to hold
// a JSON array. The whole text is tried first, then the substring from the first
// '[' to the last ']'. A top-level object is returned as-is so callers can unwrap
// {"signals": [...]} shapes. Returns nil when nothing parses.
func ExtractJSONArray(text string) any {
	text = stripCodeFence(text)
	if text == "" {
		return nil
	}

	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		switch value.(type) {
		case []any, map[string]any:
			return value
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		zap.L().Debug("no JSON array found in LLM response")
		return nil
	}

	var list []any
	if err := json.Unmarshal([]byte(text[start:end+1]), &list); err != nil {
		zap.L().Debug("failed to parse LLM response as JSON array", zap.Error(err))
		return nil
	}
	return list
}

// stripCodeFence trims whitespace and a surrounding ``` fence, if any.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return strings.Trim(text, "`")
	}
	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

// Truncate shortens text to at most max runes and marks the cut with "...".
// It never splits a multi-byte character.
func Truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "..."
}
