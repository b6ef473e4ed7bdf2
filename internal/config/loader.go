package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}

	if cfg.Bot.MaxMessagesPerDay < 0 {
		errs = append(errs, fmt.Errorf("bot.max_messages_per_day %d must not be negative", cfg.Bot.MaxMessagesPerDay))
	}
	if cfg.Bot.RandomChatChance < 0 || cfg.Bot.RandomChatChance > 1 {
		errs = append(errs, fmt.Errorf("bot.random_chat_chance %.2f is out of range [0, 1]", cfg.Bot.RandomChatChance))
	}
	if _, err := time.LoadLocation(cfg.Bot.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("bot.timezone %q is not a valid IANA zone: %w", cfg.Bot.Timezone, err))
	}

	if cfg.Voice.Mode != "" && !cfg.Voice.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("voice.mode %q is invalid; valid values: all, text_only, voice_only", cfg.Voice.Mode))
	}
	if cfg.Voice.Enabled && cfg.Providers.STT.APIKey == "" {
		errs = append(errs, errors.New("voice.enabled requires providers.stt.api_key"))
	}

	if cfg.Providers.Generation.APIKey == "" {
		errs = append(errs, errors.New("providers.generation.api_key is required"))
	}

	// Optional providers only cost a warning when absent.
	if cfg.Providers.Search.APIKey == "" {
		slog.Warn("providers.search.api_key is empty; web search enrichment disabled")
	}
	if cfg.Providers.Weather.APIKey == "" {
		slog.Warn("providers.weather.api_key is empty; weather enrichment disabled")
	}
	if cfg.Providers.Analyzer.APIKey == "" && cfg.Providers.Analyzer.Name != "ollama" {
		slog.Warn("providers.analyzer.api_key is empty; falling back to keyword heuristics")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; long-term user facts disabled")
	}

	return errors.Join(errs...)
}
