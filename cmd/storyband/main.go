// Package main is the entry point for StoryBand.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/samdwyer/storyband/internal/game"
	"github.com/samdwyer/storyband/internal/gamedata"
	"github.com/samdwyer/storyband/internal/journal"
	"github.com/samdwyer/storyband/internal/narrator"
	"github.com/samdwyer/storyband/internal/narrator/gemini"
	"github.com/samdwyer/storyband/internal/narrator/script"
	"github.com/samdwyer/storyband/internal/telemetry"
	"github.com/samdwyer/storyband/internal/toolcall"
)

func main() {
	// Load .env file for local development
	// This makes GEMINI_API_KEY and HONEYCOMB_STORYBAND_API_KEY available
	if err := godotenv.Load(); err != nil {
		// Not fatal - env vars might be set directly
		log.Printf("Note: .env file not loaded: %v", err)
	}

	// Set up OTEL environment variables from our .env variables
	setupOTelEnv()

	ctx := context.Background()

	// Initialize telemetry
	shutdown, err := telemetry.Setup(ctx)
	if err != nil {
		log.Printf("Warning: telemetry setup failed: %v", err)
		log.Printf("Game will run without observability")
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	cfg, err := game.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	channels, err := gamedata.LoadChannelRegistry()
	if err != nil {
		log.Fatalf("Failed to load channels: %v", err)
	}
	scenario, err := gamedata.LoadScenario(cfg.Scenario)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	characters, err := gamedata.LoadCharacterRegistry()
	if err != nil {
		log.Fatalf("Failed to load characters: %v", err)
	}
	character := characters.GetByID(cfg.Character)
	if character == nil {
		logger.Warn("unknown character, narrator picks one", "character", cfg.Character)
	}

	decoder, err := toolcall.NewDecoder(channels.Shape())
	if err != nil {
		log.Fatalf("Failed to build tool schema: %v", err)
	}

	narr, err := newNarrator(ctx, cfg, scenario, decoder, logger)
	if err != nil {
		log.Fatalf("Failed to start narrator: %v", err)
	}

	opts := []game.Option{
		game.WithSeed(cfg.Seed),
		game.WithSettleInterval(cfg.SettleInterval),
		game.WithLogger(logger),
	}
	if cfg.JournalPath != "" {
		store, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("Failed to open journal: %v", err)
		}
		defer store.Close()
		opts = append(opts, game.WithLedgerObserver(store.Recorder(ctx, logger)))
	}

	session := game.NewSession(narr, channels.Shape(), opts...)
	logger.Info("starting game",
		"session_id", session.ID(),
		"scenario", scenario.ID,
		"narrator", narratorName(cfg),
	)

	g, err := game.New(session, scenario, channels, game.OpeningMessage(scenario, character))
	if err != nil {
		_ = narr.Close()
		log.Fatalf("Failed to initialize game: %v", err)
	}

	if err := g.Run(ctx); err != nil {
		log.Fatalf("Game error: %v", err)
	}
}

// newNarrator picks Gemini when an API key is configured, otherwise the
// embedded scenario.
func newNarrator(ctx context.Context, cfg game.Config, scenario *gamedata.ScenarioDef, decoder *toolcall.Decoder, logger *slog.Logger) (narrator.Session, error) {
	if !cfg.UseGemini() {
		return script.New(scenario, decoder, script.WithLogger(logger)), nil
	}
	prompt, err := gamedata.NarratorPrompt()
	if err != nil {
		return nil, err
	}
	return gemini.New(ctx, gemini.Config{
		APIKey:       cfg.GeminiAPIKey,
		Model:        cfg.Model,
		SystemPrompt: prompt,
	}, decoder, gemini.WithLogger(logger))
}

func narratorName(cfg game.Config) string {
	if cfg.UseGemini() {
		return "gemini:" + cfg.Model
	}
	return "script:" + cfg.Scenario
}

// setupLogger writes structured logs to the configured file; the terminal
// belongs to the game.
func setupLogger(cfg game.Config) (*slog.Logger, func(), error) {
	var w io.Writer = io.Discard
	closer := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closer = func() { _ = f.Close() }
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel})
	return slog.New(handler).With("service", "storyband"), closer, nil
}

// setupOTelEnv configures OTEL environment variables from our custom env vars.
func setupOTelEnv() {
	// Always set endpoint to Honeycomb
	os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://api.honeycomb.io")

	// Always set headers from our API key - the .env file may have an unexpanded
	// variable reference that doesn't work, so we construct it properly here
	apiKey := os.Getenv("HONEYCOMB_STORYBAND_API_KEY")
	dataset := os.Getenv("HONEYCOMB_STORYBAND_DATASET")
	if dataset == "" {
		dataset = "storyband" // default dataset name
	}
	if apiKey != "" {
		os.Setenv("OTEL_EXPORTER_OTLP_HEADERS",
			fmt.Sprintf("x-honeycomb-team=%s,x-honeycomb-dataset=%s", apiKey, dataset))
	}
}
