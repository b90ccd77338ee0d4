package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

var validate = validator.New()

type Config struct {
	Engine  Engine  `yaml:"engine"`
	LLM     LLM     `yaml:"llm"`
	Output  Output  `yaml:"output"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

// Engine holds the scoring tunables. Defaults reproduce the calibrated constants.
type Engine struct {
	DecayFactorDays         float64            `yaml:"decay_factor_days" validate:"gt=0"`
	ProductivityDivisor     float64            `yaml:"productivity_divisor" validate:"gt=0"`
	ConfidenceFloor         float64            `yaml:"confidence_floor" validate:"gte=0,lte=1"`
	HighDayThreshold        float64            `yaml:"high_day_threshold" validate:"gte=1,lte=5"`
	DefaultSourceWeight     float64            `yaml:"default_source_weight" validate:"gte=0,lte=1"`
	SourceWeights           map[string]float64 `yaml:"source_weights" validate:"dive,keys,required,endkeys,gte=0,lte=1"`
	ProductiveCategories    []string           `yaml:"productive_categories" validate:"dive,required"`
	EntertainmentCategories []string           `yaml:"entertainment_categories" validate:"dive,required"`
	MaxQuests               int                `yaml:"max_quests" validate:"gt=0"`
	MaxEdges                int                `yaml:"max_edges" validate:"gt=0"`
	Timezone                string             `yaml:"timezone"`
}

type LLM struct {
	Provider       string `yaml:"provider" validate:"oneof=ollama openai none off"`
	Model          string `yaml:"model"`
	OllamaURL      string `yaml:"ollama_url" validate:"omitempty,url"`
	OpenAIModel    string `yaml:"openai_model"`
	OpenAIURL      string `yaml:"openai_url" validate:"omitempty,url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// ConfigDir returns the XDG config directory for pulsemap.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "pulsemap")
}

// DataDir returns the XDG data directory for pulsemap.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "pulsemap")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/pulsemap/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'pulsemap init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Engine: Engine{
			DecayFactorDays:     4.5,
			ProductivityDivisor: 50,
			ConfidenceFloor:     0.35,
			HighDayThreshold:    3,
			DefaultSourceWeight: 0.65,
			MaxQuests:           120,
			MaxEdges:            12,
			Timezone:            "Local",
		},
		LLM: LLM{
			Provider:       "ollama",
			Model:          "qwen2.5:7b",
			OllamaURL:      "http://localhost:11434",
			OpenAIModel:    "gpt-4o-mini",
			OpenAIURL:      "https://api.openai.com/v1",
			APIKeyEnv:      "OPENAI_API_KEY",
			TimeoutSeconds: 60,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the timezone name.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves the configured timezone. Empty and "Local" mean the
// process zone.
func (e Engine) Location() (*time.Location, error) {
	switch strings.TrimSpace(e.Timezone) {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", e.Timezone, err)
	}
	return loc, nil
}

// Timeout returns the LLM request timeout.
func (l LLM) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the sqlite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "pulsemap.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
