package game

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInvalidConfig indicates a configuration value out of range.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds game configuration options.
type Config struct {
	// GeminiAPIKey selects the live narrator. Without one the embedded
	// scenario is played.
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	Model        string `env:"STORYBAND_MODEL" envDefault:"gemini-2.5-pro"`

	// SettleInterval is the pause after a stat update before the story moves on.
	SettleInterval time.Duration `env:"STORYBAND_SETTLE_INTERVAL" envDefault:"1500ms"`

	// Seed for dice rolls. A seed of 0 means a random seed will be generated.
	Seed int64 `env:"STORYBAND_SEED"`

	Scenario  string `env:"STORYBAND_SCENARIO" envDefault:"office"`
	Character string `env:"STORYBAND_CHARACTER" envDefault:"analyst"`

	// JournalPath is a sqlite file recording every ledger entry. Empty disables it.
	JournalPath string `env:"STORYBAND_JOURNAL_PATH"`

	LogLevel slog.Level `env:"STORYBAND_LOG_LEVEL" envDefault:"INFO"`
	LogFile  string     `env:"STORYBAND_LOG_FILE" envDefault:"storyband.log"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	if c.SettleInterval < 0 {
		return fmt.Errorf("%w: settle interval %s is negative", ErrInvalidConfig, c.SettleInterval)
	}
	if c.Scenario == "" {
		return fmt.Errorf("%w: scenario is empty", ErrInvalidConfig)
	}
	return nil
}

// UseGemini reports whether the live narrator is configured.
func (c Config) UseGemini() bool {
	return c.GeminiAPIKey != ""
}
