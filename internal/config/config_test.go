package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if cfg.Engine.DecayFactorDays != 4.5 {
		t.Errorf("expected decay factor 4.5, got %v", cfg.Engine.DecayFactorDays)
	}
	if cfg.Engine.ProductivityDivisor != 50 {
		t.Errorf("expected divisor 50, got %v", cfg.Engine.ProductivityDivisor)
	}
	if got := cfg.Engine.SourceWeights["daily_pulse"]; got != 1.0 {
		t.Errorf("expected daily_pulse weight 1.0, got %v", got)
	}
	if len(cfg.Engine.ProductiveCategories) != 12 {
		t.Errorf("expected 12 productive categories, got %d", len(cfg.Engine.ProductiveCategories))
	}
	if len(cfg.Engine.EntertainmentCategories) != 11 {
		t.Errorf("expected 11 entertainment categories, got %d", len(cfg.Engine.EntertainmentCategories))
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("expected console logging, got %q", cfg.Logging.Format)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
llm:
  provider: OpenAI
  model: gpt-4o
server:
  port: 9000
logging:
  level: DEBUG
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level normalized to 'debug', got %q", cfg.Logging.Level)
	}
	// Defaults should still be set for unspecified fields
	if cfg.LLM.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.LLM.OllamaURL)
	}
	if cfg.Engine.MaxQuests != 120 {
		t.Errorf("expected default max_quests 120, got %d", cfg.Engine.MaxQuests)
	}
	if cfg.LLM.Timeout() != time.Minute {
		t.Errorf("expected 60s timeout, got %v", cfg.LLM.Timeout())
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero decay", "engine:\n  decay_factor_days: 0\n", "DecayFactorDays"},
		{"negative divisor", "engine:\n  productivity_divisor: -5\n", "ProductivityDivisor"},
		{"weight above one", "engine:\n  source_weights:\n    chat: 1.5\n", "SourceWeights"},
		{"threshold out of scale", "engine:\n  high_day_threshold: 9\n", "HighDayThreshold"},
		{"unknown provider", "llm:\n  provider: claude\n", "Provider"},
		{"bad port", "server:\n  port: 70000\n", "Port"},
		{"bad format", "logging:\n  format: xml\n", "Format"},
		{"bad timezone", "engine:\n  timezone: Mars/Olympus\n", "timezone"},
		{"bad yaml", "engine: [", "parsing config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEngineLocation(t *testing.T) {
	loc, err := Engine{Timezone: "Local"}.Location()
	if err != nil || loc != time.Local {
		t.Errorf("expected time.Local, got %v (%v)", loc, err)
	}

	loc, err = Engine{Timezone: "UTC"}.Location()
	if err != nil || loc.String() != "UTC" {
		t.Errorf("expected UTC, got %v (%v)", loc, err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Engine.SourceWeights) != 7 {
		t.Errorf("expected 7 source weights from file, got %d", len(cfg.Engine.SourceWeights))
	}
}

func TestResolveConfigPathExplicit(t *testing.T) {
	if _, err := ResolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ResolveConfigPath(path)
	if err != nil || got != path {
		t.Errorf("expected %s, got %s (%v)", path, got, err)
	}
}

func TestGetDataDir(t *testing.T) {
	cfg := &Config{}
	defaultDir := cfg.GetDataDir()
	if defaultDir == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if got := cfg.GetDataDir(); got != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", got)
	}
	if got := cfg.DatabasePath(); got != filepath.Join("/custom/path", "pulsemap.db") {
		t.Errorf("unexpected database path %q", got)
	}
}

func TestDefault(t *testing.T) {
	if Default().Engine.ConfidenceFloor != 0.35 {
		t.Error("expected default confidence floor 0.35")
	}
}
