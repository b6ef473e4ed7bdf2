// Package handler implements the bot's event paths: chat messages, voice
// utterances and chat commands.
//
// The handler owns the decision pipeline in front of the generation API:
// filters, the daily budget, the per-guild response slot and the task queues.
// Nothing in this package may panic its way up into the gateway event loop.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sqrilizz/BixlandAI/internal/analyze"
	"github.com/Sqrilizz/BixlandAI/internal/config"
	"github.com/Sqrilizz/BixlandAI/internal/dialog"
	"github.com/Sqrilizz/BixlandAI/internal/memory"
	"github.com/Sqrilizz/BixlandAI/internal/observe"
	"github.com/Sqrilizz/BixlandAI/internal/prompt"
	"github.com/Sqrilizz/BixlandAI/internal/queue"
	"github.com/Sqrilizz/BixlandAI/internal/ratelimit"
	"github.com/Sqrilizz/BixlandAI/internal/respond"
	"github.com/Sqrilizz/BixlandAI/internal/voice"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/search"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/weather"
)

// textTimeout bounds one queued text response end to end.
const textTimeout = 2 * time.Minute

// Messenger sends chat messages and resolves user context. Implemented by
// the discord bot; mocked in tests.
type Messenger interface {
	// SendMessage posts content to the channel.
	SendMessage(channelID, content string) error

	// Username resolves a display name, falling back to the ID.
	Username(guildID, userID string) string

	// VoiceChannelOf returns the voice channel the user currently sits in,
	// or "" when they are not connected.
	VoiceChannelOf(guildID, userID string) string
}

// Generator produces one reply for a system/user prompt pair.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// FactStore is the optional long-term user memory.
type FactStore interface {
	Remember(ctx context.Context, userID, username, fact string) error
	Facts(ctx context.Context, userID string) ([]string, error)
}

// Searcher runs web queries for enrichment.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// WeatherClient fetches current weather for enrichment.
type WeatherClient interface {
	Current(ctx context.Context, city string) (*weather.Report, error)
}

// VoiceManager is the slice of the voice manager the handler needs.
type VoiceManager interface {
	Join(ctx context.Context, guildID, channelID string, mode voice.Mode) error
	Leave(guildID string)
	Connected(guildID string) (voice.Mode, bool)
	Speak(ctx context.Context, guildID, text string) <-chan error
}

// Config wires a Handler. Optional fields may be nil: Facts, Search, Weather,
// Voice and Metrics all degrade gracefully.
type Config struct {
	Messenger   Messenger
	Generator   Generator
	Analyzer    *analyze.Analyzer
	Coordinator *respond.Coordinator
	Memory      *memory.RollingStore
	Facts       FactStore
	Limiter     *ratelimit.Limiter
	Dialog      *dialog.Tracker
	TextQueue   *queue.Queue
	VoiceQueue  *queue.Queue
	Search      Searcher
	Weather     WeatherClient
	Prompts     *prompt.Builder
	Voice       VoiceManager
	Metrics     *observe.Metrics

	CommandPrefix   string
	VoiceMode       config.VoiceMode
	Keywords        []string
	RandomChance    float64
	AllowedChannels []string
	BlockedUsers    []string
}

// Incoming is one chat message, decoupled from the gateway event type.
type Incoming struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Username  string
	Content   string

	AuthorIsBot bool
	MentionsBot bool
	ReplyToBot  bool
}

// Handler routes events through filters, gates and queues.
type Handler struct {
	cfg Config
	log *slog.Logger

	// randFloat and thinkDelay are injectable so tests can pin the
	// random-reply dice and skip the spoken-reply pause.
	randFloat  func() float64
	thinkDelay func() time.Duration

	procMu     sync.Mutex
	processing map[string]time.Time
	now        func() time.Time
}

// New creates a Handler.
func New(cfg Config) *Handler {
	return &Handler{
		cfg:       cfg,
		log:       slog.Default().With("component", "handler"),
		randFloat: rand.Float64,
		thinkDelay: func() time.Duration {
			return thinkingDelayMin + rand.N(thinkingDelayMax-thinkingDelayMin)
		},
		processing: make(map[string]time.Time),
		now:        time.Now,
	}
}

// HandleMessage processes one chat message. It never panics: a failure in
// the pipeline must not take down the gateway event loop.
func (h *Handler) HandleMessage(ctx context.Context, msg Incoming) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("message handler panicked", "channel_id", msg.ChannelID, "panic", r)
		}
	}()

	if msg.AuthorIsBot || h.userBlocked(msg.AuthorID) {
		return
	}
	if strings.HasPrefix(msg.Content, h.cfg.CommandPrefix) {
		h.handleCommand(ctx, msg)
		return
	}
	if !h.channelAllowed(msg.ChannelID) {
		return
	}

	h.cfg.Memory.AddMessage(msg.AuthorID, msg.Username, msg.ChannelID, msg.Content)

	if !h.shouldRespond(msg) {
		return
	}
	if !h.cfg.Limiter.CanSend() {
		h.countRateLimited()
		h.log.Debug("daily budget exhausted, skipping reply", "channel_id", msg.ChannelID)
		return
	}
	if !h.cfg.Coordinator.CanRespond(msg.GuildID, respond.KindText, msg.AuthorID) {
		h.log.Debug("guild busy, skipping reply", "guild_id", msg.GuildID, "user_id", msg.AuthorID)
		return
	}

	priority := 0
	if msg.MentionsBot || msg.ReplyToBot {
		priority = 1
	}
	h.cfg.TextQueue.Enqueue(func() error { return h.respondText(msg) }, priority)
}

// shouldRespond applies the reply filters: direct address always wins,
// keywords next, then the random-chat dice.
func (h *Handler) shouldRespond(msg Incoming) bool {
	if msg.MentionsBot || msg.ReplyToBot {
		return true
	}
	lower := strings.ToLower(msg.Content)
	for _, kw := range h.cfg.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return h.randFloat() < h.cfg.RandomChance
}

// respondText is the queued text response task.
func (h *Handler) respondText(msg Incoming) error {
	ctx, cancel := context.WithTimeout(context.Background(), textTimeout)
	defer cancel()

	// The gate was advisory at enqueue time; re-check before claiming.
	if !h.cfg.Coordinator.CanRespond(msg.GuildID, respond.KindText, msg.AuthorID) {
		return nil
	}
	h.cfg.Coordinator.StartResponse(msg.GuildID, respond.KindText, msg.AuthorID)
	defer h.cfg.Coordinator.EndResponse(msg.GuildID, respond.KindText)

	content := stripMention(msg.Content)
	res := h.cfg.Prompts.Build(prompt.Input{
		Username:       msg.Username,
		Content:        content,
		ChannelContext: h.cfg.Memory.ChannelContext(msg.ChannelID, 8),
		UserContext:    h.cfg.Memory.UserContext(msg.AuthorID, 5),
		Facts:          h.userFacts(ctx, msg.AuthorID),
		Extra:          h.enrich(ctx, content),
	})
	if res.Blocked {
		h.log.Info("message blocked from generation", "reason", res.Reason, "channel_id", msg.ChannelID)
		return nil
	}

	start := h.now()
	reply, err := h.cfg.Generator.Generate(ctx, res.System, res.User)
	if err != nil {
		h.countProviderError("generation")
		return fmt.Errorf("handler: generate text reply: %w", err)
	}
	h.observeGeneration("text", h.now().Sub(start))

	reply = prompt.PostProcess(reply, false)
	if reply == "" {
		return nil
	}
	h.cfg.Limiter.Increment()

	if err := h.deliver(ctx, msg, reply); err != nil {
		return err
	}
	h.countResponse("text")
	h.rememberFacts(ctx, msg.AuthorID, msg.Username, content)
	return nil
}

// deliver routes the reply to text or voice per the configured mode.
func (h *Handler) deliver(ctx context.Context, msg Incoming, reply string) error {
	if h.cfg.VoiceMode == config.VoiceModeVoiceOnly && h.cfg.Voice != nil {
		if _, ok := h.cfg.Voice.Connected(msg.GuildID); ok {
			if err := <-h.cfg.Voice.Speak(ctx, msg.GuildID, reply); err != nil {
				return fmt.Errorf("handler: speak reply: %w", err)
			}
			return nil
		}
	}
	if err := h.cfg.Messenger.SendMessage(msg.ChannelID, prompt.Sanitize(reply)); err != nil {
		return fmt.Errorf("handler: send reply: %w", err)
	}
	return nil
}

// enrich builds the optional context block: weather for weather questions,
// otherwise a web search when the analyzer asks for one. All failures
// degrade to an empty block.
func (h *Handler) enrich(ctx context.Context, content string) string {
	if h.cfg.Weather != nil && weather.IsWeatherQuery(content) {
		if city := weather.ExtractCity(content); city != "" {
			city = h.cfg.Analyzer.NormalizeCity(ctx, city)
			rep, err := h.cfg.Weather.Current(ctx, city)
			if err == nil {
				return rep.Format()
			}
			h.countProviderError("weather")
			h.log.Debug("weather lookup failed", "city", city, "err", err)
		}
	}

	an := h.cfg.Analyzer.Analyze(ctx, content)
	if an.NeedsSearch && h.cfg.Search != nil {
		results, err := h.cfg.Search.Search(ctx, content)
		if err != nil {
			h.countProviderError("search")
			h.log.Debug("search failed", "err", err)
			return ""
		}
		return search.Format(results)
	}
	return ""
}

func (h *Handler) userFacts(ctx context.Context, userID string) []string {
	if h.cfg.Facts == nil {
		return nil
	}
	facts, err := h.cfg.Facts.Facts(ctx, userID)
	if err != nil {
		h.log.Debug("fact lookup failed", "user_id", userID, "err", err)
		return nil
	}
	return facts
}

// rememberFacts extracts and stores durable facts from the message.
func (h *Handler) rememberFacts(ctx context.Context, userID, username, content string) {
	if h.cfg.Facts == nil {
		return
	}
	for _, fact := range h.cfg.Analyzer.ExtractFacts(ctx, content) {
		if err := h.cfg.Facts.Remember(ctx, userID, username, fact); err != nil {
			h.log.Warn("storing fact failed", "user_id", userID, "err", err)
			return
		}
	}
}

func (h *Handler) userBlocked(userID string) bool {
	return slices.Contains(h.cfg.BlockedUsers, userID)
}

func (h *Handler) channelAllowed(channelID string) bool {
	return len(h.cfg.AllowedChannels) == 0 || slices.Contains(h.cfg.AllowedChannels, channelID)
}

// stripMention removes the leading bot mention so it doesn't leak into the
// prompt.
func stripMention(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "<@") {
		if i := strings.Index(trimmed, ">"); i > 0 {
			return strings.TrimSpace(trimmed[i+1:])
		}
	}
	return trimmed
}

// ── metrics helpers (all tolerate a nil Metrics) ──

func (h *Handler) countResponse(kind string) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.ResponsesTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (h *Handler) countProviderError(provider string) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.ProviderErrors.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("provider", provider)))
	}
}

func (h *Handler) countRateLimited() {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RateLimited.Add(context.Background(), 1)
	}
}

func (h *Handler) observeGeneration(kind string, d time.Duration) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.GenerationDuration.Record(context.Background(), d.Seconds(),
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}
