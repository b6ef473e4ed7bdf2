// Package config provides the configuration schema and loader for the
// Adrian Discord bot.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VoiceMode selects which delivery channels the bot uses for replies.
type VoiceMode string

const (
	// VoiceModeAll replies in text always and in voice when connected.
	VoiceModeAll VoiceMode = "all"

	// VoiceModeTextOnly never speaks, even when connected to a voice channel.
	VoiceModeTextOnly VoiceMode = "text_only"

	// VoiceModeVoiceOnly suppresses text replies while a voice session is up.
	VoiceModeVoiceOnly VoiceMode = "voice_only"
)

// IsValid reports whether m is a recognised voice mode.
func (m VoiceMode) IsValid() bool {
	switch m {
	case VoiceModeAll, VoiceModeTextOnly, VoiceModeVoiceOnly:
		return true
	}
	return false
}

// Config is the root configuration structure, loaded from YAML via [Load] or
// [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Bot       BotConfig       `yaml:"bot"`
	Voice     VoiceConfig     `yaml:"voice"`
	Providers ProvidersConfig `yaml:"providers"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address of the Prometheus /metrics endpoint
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DiscordConfig holds gateway credentials and chat surface settings.
type DiscordConfig struct {
	// Token is the bot token. Required.
	Token string `yaml:"token"`

	// CommandPrefix triggers chat commands. Defaults to "!".
	CommandPrefix string `yaml:"command_prefix"`

	// AllowedChannels restricts the bot to these channel IDs. Empty means
	// all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// BlockedUsers are user IDs the bot never replies to.
	BlockedUsers []string `yaml:"blocked_users"`
}

// BotConfig shapes the bot's chat behaviour.
type BotConfig struct {
	// MaxMessagesPerDay is the global daily reply budget. Defaults to 70.
	MaxMessagesPerDay int `yaml:"max_messages_per_day"`

	// RandomChatChance is the probability [0,1] of replying to an ordinary
	// message that doesn't mention the bot. Defaults to 0.07.
	RandomChatChance float64 `yaml:"random_chat_chance"`

	// Timezone is the IANA zone whose midnight resets the daily budget.
	// Defaults to Europe/Moscow.
	Timezone string `yaml:"timezone"`

	// Keywords are extra trigger words that make the bot reply without a
	// mention.
	Keywords []string `yaml:"keywords"`
}

// VoiceConfig controls the voice pipeline.
type VoiceConfig struct {
	// Enabled turns the voice features on.
	Enabled bool `yaml:"enabled"`

	// Mode selects how replies are delivered. Defaults to "all".
	Mode VoiceMode `yaml:"mode"`

	// TTSVoice is the synthesis voice name passed to the generation API.
	TTSVoice string `yaml:"tts_voice"`
}

// ProvidersConfig holds credentials for the external services.
type ProvidersConfig struct {
	// Generation is the yellowfire text + speech generation API.
	Generation ProviderEntry `yaml:"generation"`

	// STT is the Deepgram streaming transcription API.
	STT ProviderEntry `yaml:"stt"`

	// Analyzer is the side model used for message classification
	// (provider name: openai, groq, ollama, anthropic).
	Analyzer ProviderEntry `yaml:"analyzer"`

	// Search is the Brave web search API.
	Search ProviderEntry `yaml:"search"`

	// Weather is the OpenWeatherMap API.
	Weather ProviderEntry `yaml:"weather"`
}

// ProviderEntry is the common configuration block shared by all providers.
type ProviderEntry struct {
	// Name selects the provider implementation where several exist.
	Name string `yaml:"name"`

	// APIKey is the authentication key. An empty key disables the provider
	// unless it is required.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Language is the recognition/generation language where applicable.
	Language string `yaml:"language"`
}

// MemoryConfig configures the persistent fact store.
type MemoryConfig struct {
	// PostgresDSN is the connection string for long-term user facts.
	// Empty disables persistence; the rolling in-memory store always runs.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Discord.CommandPrefix == "" {
		c.Discord.CommandPrefix = "!"
	}
	if c.Bot.MaxMessagesPerDay == 0 {
		c.Bot.MaxMessagesPerDay = 70
	}
	if c.Bot.RandomChatChance == 0 {
		c.Bot.RandomChatChance = 0.07
	}
	if c.Bot.Timezone == "" {
		c.Bot.Timezone = "Europe/Moscow"
	}
	if c.Voice.Mode == "" {
		c.Voice.Mode = VoiceModeAll
	}
	if c.Providers.STT.Language == "" {
		c.Providers.STT.Language = "ru"
	}
}
