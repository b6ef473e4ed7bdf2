// Command bixland is the entry point for the Adrian Discord bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/Sqrilizz/BixlandAI/internal/app"
	"github.com/Sqrilizz/BixlandAI/internal/config"
	"github.com/Sqrilizz/BixlandAI/internal/observe"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/llm/anyllm"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/search"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/stt/deepgram"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/weather"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/yellowfire"
)

const version = "2.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "bixland: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "bixland: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("bixland starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
		"metrics_addr", cfg.Server.MetricsAddr,
	)

	shutdownMetrics, err := observe.InitProvider("bixland", version)
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(ctx)
	}()

	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("bot ready — press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the external services named in cfg.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	// Generation (required).
	var genOpts []yellowfire.Option
	if cfg.Providers.Generation.BaseURL != "" {
		genOpts = append(genOpts, yellowfire.WithBaseURL(cfg.Providers.Generation.BaseURL))
	}
	if cfg.Providers.Generation.Model != "" {
		genOpts = append(genOpts, yellowfire.WithModel(cfg.Providers.Generation.Model))
	}
	gen, err := yellowfire.New(cfg.Providers.Generation.APIKey, genOpts...)
	if err != nil {
		return nil, fmt.Errorf("create generation provider: %w", err)
	}
	ps.Generator = generatorAdapter{gen}
	ttsVoice := cfg.Voice.TTSVoice
	ps.Synthesize = func(ctx context.Context, text string) ([]byte, error) {
		return gen.SynthesizeSpeech(ctx, text, ttsVoice)
	}
	slog.Info("provider created", "kind", "generation", "model", cfg.Providers.Generation.Model)

	// Analyzer falls back to the generation API when not configured
	// separately, so analysis never needs its own credentials.
	if name := cfg.Providers.Analyzer.Name; name != "" {
		var opts []anyllmlib.Option
		if cfg.Providers.Analyzer.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Providers.Analyzer.APIKey))
		}
		if cfg.Providers.Analyzer.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Providers.Analyzer.BaseURL))
		}
		completer, err := anyllm.New(name, cfg.Providers.Analyzer.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create analyzer provider %q: %w", name, err)
		}
		ps.Analyzer = completer
		slog.Info("provider created", "kind", "analyzer", "name", name)
	} else {
		ps.Analyzer = analyzerAdapter{gen}
	}

	// STT (required when voice is enabled; config validation enforces the key).
	if cfg.Voice.Enabled {
		var opts []deepgram.Option
		if cfg.Providers.STT.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Providers.STT.Model))
		}
		if cfg.Providers.STT.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Providers.STT.Language))
		}
		sttP, err := deepgram.New(cfg.Providers.STT.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("create stt provider: %w", err)
		}
		ps.STT = sttP
		slog.Info("provider created", "kind", "stt", "name", "deepgram")
	}

	// Search (optional).
	if key := cfg.Providers.Search.APIKey; key != "" {
		sc, err := search.New(key)
		if err != nil {
			return nil, fmt.Errorf("create search provider: %w", err)
		}
		ps.Search = sc
		slog.Info("provider created", "kind", "search", "name", "brave")
	}

	// Weather (optional).
	if key := cfg.Providers.Weather.APIKey; key != "" {
		wc, err := weather.New(key)
		if err != nil {
			return nil, fmt.Errorf("create weather provider: %w", err)
		}
		ps.Weather = wc
		slog.Info("provider created", "kind", "weather", "name", "openweathermap")
	}

	return ps, nil
}

// generatorAdapter maps the system/user prompt pair onto the generation
// API's prompt-plus-history request shape.
type generatorAdapter struct {
	client *yellowfire.Client
}

func (g generatorAdapter) Generate(ctx context.Context, system, user string) (string, error) {
	history := []yellowfire.Message{{Role: "system", Content: system}}
	return g.client.GenerateText(ctx, user, history)
}

// analyzerAdapter reuses the generation API for analysis prompts.
type analyzerAdapter struct {
	client *yellowfire.Client
}

func (a analyzerAdapter) Complete(ctx context.Context, system, user string) (string, error) {
	history := []yellowfire.Message{{Role: "system", Content: system}}
	return a.client.GenerateText(ctx, user, history)
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        bixland — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Generation", orDefault(cfg.Providers.Generation.Model, "gpt-4o-mini"))
	printRow("STT", onOff(cfg.Voice.Enabled, "deepgram / "+cfg.Providers.STT.Language))
	printRow("Voice mode", string(cfg.Voice.Mode))
	printRow("Search", onOff(cfg.Providers.Search.APIKey != "", "brave"))
	printRow("Weather", onOff(cfg.Providers.Weather.APIKey != "", "openweathermap"))
	printRow("Facts DB", onOff(cfg.Memory.PostgresDSN != "", "postgres"))
	printRow("Daily limit", fmt.Sprintf("%d", cfg.Bot.MaxMessagesPerDay))
	printRow("Timezone", cfg.Bot.Timezone)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(name, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:16]) + "…"
	}
	fmt.Printf("║  %-14s : %-19s ║\n", name, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func onOff(enabled bool, desc string) string {
	if enabled {
		return desc
	}
	return "(disabled)"
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
