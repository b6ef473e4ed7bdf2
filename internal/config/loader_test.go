package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  log_level: debug
  metrics_addr: ":9090"
discord:
  token: "discord-token"
  allowed_channels: ["123"]
bot:
  max_messages_per_day: 50
  random_chat_chance: 0.1
voice:
  enabled: true
  mode: all
  tts_voice: adrian
providers:
  generation:
    api_key: "yf-key"
    model: gpt-4o-mini
  stt:
    api_key: "dg-key"
  analyzer:
    name: groq
    api_key: "gsk-key"
    model: llama-3.1-8b-instant
memory:
  postgres_dsn: "postgres://localhost/adrian"
`

func TestLoadValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "discord-token" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if cfg.Bot.MaxMessagesPerDay != 50 {
		t.Errorf("max_messages_per_day = %d", cfg.Bot.MaxMessagesPerDay)
	}
	// Defaults kick in for unset fields.
	if cfg.Discord.CommandPrefix != "!" {
		t.Errorf("command_prefix default = %q", cfg.Discord.CommandPrefix)
	}
	if cfg.Bot.Timezone != "Europe/Moscow" {
		t.Errorf("timezone default = %q", cfg.Bot.Timezone)
	}
	if cfg.Providers.STT.Language != "ru" {
		t.Errorf("stt language default = %q", cfg.Providers.STT.Language)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
discord:
  token: t
providers:
  generation:
    api_key: k
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Bot.MaxMessagesPerDay != 70 {
		t.Errorf("max_messages_per_day default = %d, want 70", cfg.Bot.MaxMessagesPerDay)
	}
	if cfg.Bot.RandomChatChance != 0.07 {
		t.Errorf("random_chat_chance default = %v, want 0.07", cfg.Bot.RandomChatChance)
	}
	if cfg.Voice.Mode != VoiceModeAll {
		t.Errorf("voice mode default = %q, want all", cfg.Voice.Mode)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level default = %q, want info", cfg.Server.LogLevel)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
discord:
  token: t
  not_a_field: true
providers:
  generation:
    api_key: k
`))
	if err == nil {
		t.Fatal("unknown field should be rejected")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  log_level: loud
bot:
  random_chat_chance: 3.0
  timezone: "Mars/Olympus"
voice:
  enabled: true
  mode: sometimes
`))
	if err == nil {
		t.Fatal("invalid config should be rejected")
	}
	for _, want := range []string{
		"log_level",
		"discord.token",
		"random_chat_chance",
		"timezone",
		"voice.mode",
		"stt.api_key",
		"generation.api_key",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}
