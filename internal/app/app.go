// Package app wires all bot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes them under one errgroup, and Shutdown tears
// everything down in reverse order.
//
// For testing, inject doubles via functional options (WithFactStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/Sqrilizz/BixlandAI/internal/analyze"
	"github.com/Sqrilizz/BixlandAI/internal/config"
	"github.com/Sqrilizz/BixlandAI/internal/dialog"
	"github.com/Sqrilizz/BixlandAI/internal/discord"
	"github.com/Sqrilizz/BixlandAI/internal/handler"
	"github.com/Sqrilizz/BixlandAI/internal/health"
	"github.com/Sqrilizz/BixlandAI/internal/memory"
	"github.com/Sqrilizz/BixlandAI/internal/memory/postgres"
	"github.com/Sqrilizz/BixlandAI/internal/observe"
	"github.com/Sqrilizz/BixlandAI/internal/prompt"
	"github.com/Sqrilizz/BixlandAI/internal/queue"
	"github.com/Sqrilizz/BixlandAI/internal/ratelimit"
	"github.com/Sqrilizz/BixlandAI/internal/resilience"
	"github.com/Sqrilizz/BixlandAI/internal/respond"
	"github.com/Sqrilizz/BixlandAI/internal/voice"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/llm"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/stt"
)

// Queue concurrency limits. Text replies may overlap, voice and synthesis
// are strictly serialised.
const (
	textConcurrency  = 2
	voiceConcurrency = 1
	ttsConcurrency   = 1
)

// Providers holds one value per provider slot. Populated by main.go from the
// config. Nil optional slots (Search, Weather, Facts) disable the feature.
type Providers struct {
	// Generator produces chat replies.
	Generator handler.Generator

	// Synthesize produces MP3 speech audio for voice replies.
	Synthesize voice.SynthesizeFunc

	// STT streams voice transcription. Required when voice is enabled.
	STT stt.Provider

	// Analyzer is the model used for message analysis and fact extraction.
	Analyzer llm.Completer

	// Search and Weather enrich prompts. Optional.
	Search  handler.Searcher
	Weather handler.WeatherClient
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	bot      *discord.Bot
	voiceMgr *voice.Manager
	handler  *handler.Handler
	limiter  *ratelimit.Limiter
	store    *memory.RollingStore
	facts    handler.FactStore
	metrics  *observe.Metrics

	textQueue  *queue.Queue
	voiceQueue *queue.Queue
	ttsQueue   *queue.Queue

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFactStore injects a fact store instead of connecting to Postgres.
func WithFactStore(s handler.FactStore) Option {
	return func(a *App) { a.facts = s }
}

// WithMetrics injects a metrics set instead of building one from the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. Initialisation is synchronous: the Postgres pool is
// pinged and the gateway connected before New returns.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	a.textQueue = queue.New("text", textConcurrency)
	a.voiceQueue = queue.New("voice", voiceConcurrency)
	a.ttsQueue = queue.New("tts", ttsConcurrency)
	if err := a.metrics.RegisterQueues(a.textQueue, a.voiceQueue, a.ttsQueue); err != nil {
		return nil, fmt.Errorf("app: register queue metrics: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Bot.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: load timezone: %w", err)
	}

	a.store = memory.NewRollingStore()
	a.limiter = ratelimit.New(cfg.Bot.MaxMessagesPerDay, loc)
	// Daily message statistics roll over together with the reply budget.
	a.limiter.OnReset(a.store.ResetDailyStats)
	coordinator := respond.NewCoordinator()
	dialogs := dialog.NewTracker()

	if err := a.initFacts(ctx); err != nil {
		return nil, err
	}

	bot, err := discord.New(discord.Config{Token: cfg.Discord.Token})
	if err != nil {
		return nil, err
	}
	a.bot = bot
	a.closers = append(a.closers, bot.Close)

	var voiceMgr handler.VoiceManager
	if cfg.Voice.Enabled {
		a.voiceMgr = voice.NewManager(voice.ManagerConfig{
			Discord: bot.Session(),
			STT:     providers.STT,
			Stream: stt.StreamConfig{
				SampleRate: 48000,
				Channels:   2,
				Language:   sttLanguage(cfg),
			},
			Responder:  utteranceForwarder{a},
			Synthesize: providers.Synthesize,
			TTSQueue:   a.ttsQueue,
			OnLeave: func(guildID string, speakers []string) {
				coordinator.ClearGuild(guildID)
				// Only the leaving guild's speakers lose their dialogs;
				// sessions in other guilds are untouched.
				for _, id := range speakers {
					dialogs.Reset(id)
				}
			},
		})
		voiceMgr = a.voiceMgr
		if err := a.metrics.RegisterVoiceSessions(a.voiceMgr.SessionCount); err != nil {
			return nil, fmt.Errorf("app: register voice metrics: %w", err)
		}
		a.closers = append(a.closers, func() error {
			a.voiceMgr.LeaveAll()
			return nil
		})
	}

	a.handler = handler.New(handler.Config{
		Messenger:   bot,
		Generator:   resilience.WrapGenerator("generation", providers.Generator),
		Analyzer:    analyze.New(providers.Analyzer),
		Coordinator: coordinator,
		Memory:      a.store,
		Facts:       a.facts,
		Limiter:     a.limiter,
		Dialog:      dialogs,
		TextQueue:   a.textQueue,
		VoiceQueue:  a.voiceQueue,
		Search:      providers.Search,
		Weather:     providers.Weather,
		Prompts:     prompt.NewBuilder(loc),
		Voice:       voiceMgr,
		Metrics:     a.metrics,

		CommandPrefix:   cfg.Discord.CommandPrefix,
		VoiceMode:       cfg.Voice.Mode,
		Keywords:        cfg.Bot.Keywords,
		RandomChance:    cfg.Bot.RandomChatChance,
		AllowedChannels: cfg.Discord.AllowedChannels,
		BlockedUsers:    cfg.Discord.BlockedUsers,
	})
	bot.SetHandler(a.handler)

	return a, nil
}

// initFacts connects the persistent fact store when a DSN is configured and
// nothing was injected. Without either, long-term memory is simply off.
func (a *App) initFacts(ctx context.Context) error {
	if a.facts != nil {
		return nil
	}
	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		slog.Info("postgres dsn not set, long-term memory disabled")
		return nil
	}
	store, err := postgres.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: connect fact store: %w", err)
	}
	a.facts = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// Run starts the long-running loops and blocks until ctx is cancelled or one
// of them fails: the daily-limit reset ticker, the gateway lifetime and the
// ops HTTP server.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.limiter.Run(ctx) })
	g.Go(func() error { return a.bot.Run(ctx) })

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		g.Go(func() error { return a.serveOps(ctx, addr) })
	}

	slog.Info("bot running",
		"voice_enabled", a.cfg.Voice.Enabled,
		"daily_limit", a.cfg.Bot.MaxMessagesPerDay,
		"long_term_memory", a.facts != nil)
	return g.Wait()
}

// serveOps runs the metrics and health HTTP server until ctx is cancelled.
func (a *App) serveOps(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.Handler())
	health.New(a.healthCheckers()...).Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: ops server: %w", err)
	}
}

// healthCheckers builds the readiness checks for configured dependencies.
func (a *App) healthCheckers() []health.Checker {
	checkers := []health.Checker{{
		Name: "discord",
		Check: func(context.Context) error {
			if a.bot.Session().State == nil || a.bot.Session().State.User == nil {
				return fmt.Errorf("gateway not ready")
			}
			return nil
		},
	}}
	if pinger, ok := a.facts.(interface{ Ping(context.Context) error }); ok {
		checkers = append(checkers, health.Checker{Name: "postgres", Check: pinger.Ping})
	}
	return checkers
}

// Shutdown tears down all subsystems in reverse-init order, respecting the
// context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// utteranceForwarder defers handler resolution to call time: the voice
// manager is constructed before the handler exists.
type utteranceForwarder struct{ a *App }

func (f utteranceForwarder) HandleUtterance(ctx context.Context, u voice.Utterance) {
	if h := f.a.handler; h != nil {
		h.HandleUtterance(ctx, u)
	}
}

func sttLanguage(cfg *config.Config) string {
	if cfg.Providers.STT.Language != "" {
		return cfg.Providers.STT.Language
	}
	return "ru"
}
