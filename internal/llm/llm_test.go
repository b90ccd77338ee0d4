package llm

import (
	"testing"
	"unicode/utf8"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"reflection\": \"steady week\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["reflection"] != "steady week" {
		t.Errorf("expected reflection='steady week', got %v", result["reflection"])
	}
}

func TestParseJSONResponseWithProse(t *testing.T) {
	result := ParseJSONResponse("Sure! {\"key\": \"value\"} hope that helps")
	if result == nil || result["key"] != "value" {
		t.Errorf("expected embedded object to parse, got %v", result)
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	if result := ParseJSONResponse("not json at all"); result != nil {
		t.Error("expected nil for invalid JSON")
	}
}

func TestParseJSONResponseEmpty(t *testing.T) {
	if result := ParseJSONResponse("  \n "); result != nil {
		t.Error("expected nil for empty string")
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantLen int
		wantNil bool
	}{
		{"plain", `[{"signal_type":"stress"}]`, 1, false},
		{"fenced", "```json\n[{\"type\":\"focus\"},{\"type\":\"tired\"}]\n```", 2, false},
		{"prose around", "Here you go: [{\"type\":\"focus\"}] done.", 1, false},
		{"empty array", "[]", 0, false},
		{"garbage", "no signals here", 0, true},
		{"broken", "[{\"type\": ]", 0, true},
		{"blank", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSONArray(tt.text)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			list, ok := got.([]any)
			if !ok {
				t.Fatalf("expected []any, got %T", got)
			}
			if len(list) != tt.wantLen {
				t.Errorf("expected %d elements, got %d", tt.wantLen, len(list))
			}
		})
	}
}

func TestExtractJSONArrayKeepsWrapperObject(t *testing.T) {
	got := ExtractJSONArray(`{"signals": [{"type": "stress"}]}`)
	obj, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected wrapper object, got %T", got)
	}
	if _, ok := obj["signals"]; !ok {
		t.Error("expected signals key to survive")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "steady", 10, "steady"},
		{"exact", "steady", 6, "steady"},
		{"ascii", "steady week", 6, "steady..."},
		{"multibyte", "héé héé", 3, "héé..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}
