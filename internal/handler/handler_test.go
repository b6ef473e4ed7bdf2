package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sqrilizz/BixlandAI/internal/analyze"
	"github.com/Sqrilizz/BixlandAI/internal/config"
	"github.com/Sqrilizz/BixlandAI/internal/dialog"
	"github.com/Sqrilizz/BixlandAI/internal/memory"
	"github.com/Sqrilizz/BixlandAI/internal/prompt"
	"github.com/Sqrilizz/BixlandAI/internal/queue"
	"github.com/Sqrilizz/BixlandAI/internal/ratelimit"
	"github.com/Sqrilizz/BixlandAI/internal/respond"
	"github.com/Sqrilizz/BixlandAI/internal/voice"
)

type sentMsg struct {
	channelID string
	content   string
}

type mockMessenger struct {
	mu           sync.Mutex
	sent         []sentMsg
	notify       chan sentMsg
	voiceChannel string
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{notify: make(chan sentMsg, 16)}
}

func (m *mockMessenger) SendMessage(channelID, content string) error {
	m.mu.Lock()
	m.sent = append(m.sent, sentMsg{channelID, content})
	m.mu.Unlock()
	m.notify <- sentMsg{channelID, content}
	return nil
}

func (m *mockMessenger) Username(_, userID string) string { return "user-" + userID }

func (m *mockMessenger) VoiceChannelOf(_, _ string) string { return m.voiceChannel }

func (m *mockMessenger) wait(t *testing.T) sentMsg {
	t.Helper()
	select {
	case s := <-m.notify:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sent message")
		return sentMsg{}
	}
}

type mockGenerator struct {
	reply string
	err   error

	mu    sync.Mutex
	calls []string
}

func (g *mockGenerator) Generate(_ context.Context, _, user string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, user)
	g.mu.Unlock()
	return g.reply, g.err
}

type generatorFunc func(ctx context.Context, system, user string) (string, error)

func (f generatorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

type mockVoiceManager struct {
	mu        sync.Mutex
	connected bool
	mode      voice.Mode
	spoken    []string
	notify    chan string
	joined    []string
	left      []string
}

func newMockVoiceManager() *mockVoiceManager {
	return &mockVoiceManager{notify: make(chan string, 16)}
}

func (v *mockVoiceManager) Join(_ context.Context, _, channelID string, mode voice.Mode) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.joined = append(v.joined, channelID)
	v.connected = true
	v.mode = mode
	return nil
}

func (v *mockVoiceManager) Leave(guildID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.left = append(v.left, guildID)
	v.connected = false
}

func (v *mockVoiceManager) Connected(string) (voice.Mode, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode, v.connected
}

func (v *mockVoiceManager) Speak(_ context.Context, _, text string) <-chan error {
	v.mu.Lock()
	v.spoken = append(v.spoken, text)
	v.mu.Unlock()
	v.notify <- text
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (v *mockVoiceManager) waitSpoken(t *testing.T) string {
	t.Helper()
	select {
	case s := <-v.notify:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for spoken reply")
		return ""
	}
}

// noSearchCompleter fails every analyzer call, which drops the analyzer into
// its keyword heuristics.
type noSearchCompleter struct{}

func (noSearchCompleter) Complete(context.Context, string, string) (string, error) {
	return "", errors.New("analyzer offline")
}

type testEnv struct {
	handler   *Handler
	messenger *mockMessenger
	generator *mockGenerator
	voice     *mockVoiceManager
	limiter   *ratelimit.Limiter
	store     *memory.RollingStore
	textQ     *queue.Queue
	voiceQ    *queue.Queue
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	messenger := newMockMessenger()
	generator := &mockGenerator{reply: "Привет!"}
	vm := newMockVoiceManager()
	limiter := ratelimit.New(70, time.UTC)
	store := memory.NewRollingStore()
	textQ := queue.New("text", 2)
	voiceQ := queue.New("voice", 1)

	cfg := Config{
		Messenger:     messenger,
		Generator:     generator,
		Analyzer:      analyze.New(noSearchCompleter{}),
		Coordinator:   respond.NewCoordinator(),
		Memory:        store,
		Limiter:       limiter,
		Dialog:        dialog.NewTracker(),
		TextQueue:     textQ,
		VoiceQueue:    voiceQ,
		Prompts:       prompt.NewBuilder(time.UTC),
		Voice:         vm,
		CommandPrefix: "!",
		VoiceMode:     config.VoiceModeAll,
		Keywords:      []string{"адриан"},
		RandomChance:  0,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h := New(cfg)
	h.thinkDelay = func() time.Duration { return 0 }
	return &testEnv{
		handler:   h,
		messenger: messenger,
		generator: generator,
		voice:     vm,
		limiter:   limiter,
		store:     store,
		textQ:     textQ,
		voiceQ:    voiceQ,
	}
}

func msg(content string) Incoming {
	return Incoming{
		GuildID:   "g1",
		ChannelID: "c1",
		AuthorID:  "u1",
		Username:  "vasya",
		Content:   content,
	}
}

func TestHandleMessageRepliesToMention(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	in := msg("<@bot> как дела?")
	in.MentionsBot = true
	env.handler.HandleMessage(t.Context(), in)

	sent := env.messenger.wait(t)
	if sent.channelID != "c1" {
		t.Errorf("reply channel = %q, want c1", sent.channelID)
	}
	if sent.content != "Привет!" {
		t.Errorf("reply = %q, want Привет!", sent.content)
	}
	if got := env.limiter.Count(); got != 1 {
		t.Errorf("limiter count = %d, want 1", got)
	}
	if got := env.store.TotalMessages(); got != 1 {
		t.Errorf("recorded messages = %d, want 1", got)
	}
}

func TestHandleMessageKeywordTrigger(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.handler.HandleMessage(t.Context(), msg("адриан, ты тут?"))

	if sent := env.messenger.wait(t); sent.content == "" {
		t.Error("expected a keyword-triggered reply")
	}
}

func TestHandleMessageFilters(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		in     func() Incoming
	}{
		{
			name: "bot author",
			in: func() Incoming {
				m := msg("привет")
				m.AuthorIsBot = true
				m.MentionsBot = true
				return m
			},
		},
		{
			name:   "blocked user",
			mutate: func(c *Config) { c.BlockedUsers = []string{"u1"} },
			in: func() Incoming {
				m := msg("привет")
				m.MentionsBot = true
				return m
			},
		},
		{
			name:   "disallowed channel",
			mutate: func(c *Config) { c.AllowedChannels = []string{"other"} },
			in: func() Incoming {
				m := msg("привет")
				m.MentionsBot = true
				return m
			},
		},
		{
			name: "no trigger",
			in:   func() Incoming { return msg("просто болтаю") },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, tc.mutate)
			env.handler.HandleMessage(t.Context(), tc.in())
			if st := env.textQ.Stats(); st.Queued+st.Running != 0 || st.Processed != 0 {
				t.Errorf("expected no queued work, got %+v", st)
			}
		})
	}
}

func TestHandleMessageRateLimitGate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) {
		c.Limiter = ratelimit.New(0, time.UTC)
	})

	in := msg("привет")
	in.MentionsBot = true
	env.handler.HandleMessage(t.Context(), in)

	if st := env.textQ.Stats(); st.Queued+st.Running != 0 || st.Processed != 0 {
		t.Errorf("expected rate-limited message to be dropped, got %+v", st)
	}
}

func TestHandleMessageCoordinatorGate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.handler.cfg.Coordinator.StartResponse("g1", respond.KindVoice, "someone-else")

	in := msg("привет")
	in.MentionsBot = true
	env.handler.HandleMessage(t.Context(), in)

	if st := env.textQ.Stats(); st.Queued+st.Running != 0 || st.Processed != 0 {
		t.Errorf("expected gated message to be dropped, got %+v", st)
	}
}

func TestHandleMessageGeneratorFailureSendsNothing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.generator.err = errors.New("api down")

	in := msg("привет")
	in.MentionsBot = true
	env.handler.HandleMessage(t.Context(), in)

	deadline := time.Now().Add(2 * time.Second)
	for {
		st := env.textQ.Stats()
		if st.Failed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never recorded the failure: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(env.messenger.sent); n != 0 {
		t.Errorf("sent %d messages after generator failure, want 0", n)
	}
	if got := env.limiter.Count(); got != 0 {
		t.Errorf("limiter count = %d, want 0 after failure", got)
	}
}

func TestCommandPing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.handler.HandleMessage(t.Context(), msg("!ping"))

	if sent := env.messenger.wait(t); sent.content != "Понг! Я тут." {
		t.Errorf("ping reply = %q", sent.content)
	}
	if got := env.store.TotalMessages(); got != 0 {
		t.Errorf("command was recorded in memory: total = %d", got)
	}
}

func TestCommandRussianAlias(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.handler.HandleMessage(t.Context(), msg("!пинг"))

	if sent := env.messenger.wait(t); sent.content != "Понг! Я тут." {
		t.Errorf("alias reply = %q", sent.content)
	}
}

func TestCommandJoinRequiresVoiceChannel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.handler.HandleMessage(t.Context(), msg("!join"))

	if sent := env.messenger.wait(t); sent.content != "Сначала зайди в голосовой канал." {
		t.Errorf("join reply = %q", sent.content)
	}
}

func TestCommandJoinAI(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.messenger.voiceChannel = "vc1"

	env.handler.HandleMessage(t.Context(), msg("!join-ai"))

	env.messenger.wait(t)
	env.voice.mu.Lock()
	defer env.voice.mu.Unlock()
	if len(env.voice.joined) != 1 || env.voice.joined[0] != "vc1" {
		t.Fatalf("joined = %v, want [vc1]", env.voice.joined)
	}
	if env.voice.mode != voice.ModeListen {
		t.Errorf("mode = %q, want listen", env.voice.mode)
	}
}

func TestCommandMusicUnavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.handler.HandleMessage(t.Context(), msg("!play despacito"))

	if sent := env.messenger.wait(t); sent.content != "Музыкальные команды больше не поддерживаются." {
		t.Errorf("music reply = %q", sent.content)
	}
}

func TestHandleUtteranceActivatesAndSpeaks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.voice.connected = true
	env.voice.mode = voice.ModeListen

	env.handler.HandleUtterance(t.Context(), voice.Utterance{
		GuildID: "g1", UserID: "u1", Text: "адриан расскажи анекдот",
	})

	if got := env.voice.waitSpoken(t); got != "Привет!" {
		t.Errorf("spoken reply = %q, want Привет!", got)
	}
}

func TestHandleUtteranceIgnoredWithoutActivation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.handler.HandleUtterance(t.Context(), voice.Utterance{
		GuildID: "g1", UserID: "u1", Text: "просто разговариваю с другом",
	})

	if st := env.voiceQ.Stats(); st.Queued+st.Running != 0 || st.Processed != 0 {
		t.Errorf("expected unaddressed utterance to be dropped, got %+v", st)
	}
}

func TestHandleUtteranceStopPhraseClosesDialog(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.voice.connected = true
	env.voice.mode = voice.ModeListen

	env.handler.HandleUtterance(t.Context(), voice.Utterance{
		GuildID: "g1", UserID: "u1", Text: "адриан привет",
	})
	env.voice.waitSpoken(t)

	// A bare stop word is ordinary speech and gets a reply.
	env.handler.now = func() time.Time { return time.Now().Add(time.Minute) }
	env.handler.HandleUtterance(t.Context(), voice.Utterance{
		GuildID: "g1", UserID: "u1", Text: "хватит уже",
	})
	env.voice.waitSpoken(t)
	if !env.handler.cfg.Dialog.IsOpen("u1") {
		t.Fatal("dialog closed by a bare stop word")
	}

	// Name plus stop phrase closes it, with no reply.
	env.handler.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	env.handler.HandleUtterance(t.Context(), voice.Utterance{
		GuildID: "g1", UserID: "u1", Text: "адриан хватит",
	})

	if env.handler.cfg.Dialog.IsOpen("u1") {
		t.Error("dialog still open after combined stop phrase")
	}
}

func TestVoiceReplyPausesBeforeGenerating(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	env := newTestEnv(t, func(c *Config) {
		c.Generator = generatorFunc(func(context.Context, string, string) (string, error) {
			mu.Lock()
			order = append(order, "generate")
			mu.Unlock()
			return "Привет!", nil
		})
	})
	env.voice.connected = true
	env.voice.mode = voice.ModeListen
	env.handler.thinkDelay = func() time.Duration {
		mu.Lock()
		order = append(order, "pause")
		mu.Unlock()
		return 0
	}

	env.handler.HandleUtterance(t.Context(), voice.Utterance{
		GuildID: "g1", UserID: "u1", Text: "адриан привет",
	})
	env.voice.waitSpoken(t)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "pause" || order[1] != "generate" {
		t.Errorf("call order = %v, want [pause generate]", order)
	}
}

func TestUtteranceDebounce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	base := time.Now()
	env.handler.now = func() time.Time { return base }

	if env.handler.debounced("u1") {
		t.Error("first utterance should not be debounced")
	}
	if !env.handler.debounced("u1") {
		t.Error("immediate follow-up should be debounced")
	}
	if env.handler.debounced("u2") {
		t.Error("other speakers are independent")
	}

	env.handler.now = func() time.Time { return base.Add(3 * time.Second) }
	if env.handler.debounced("u1") {
		t.Error("utterance after the window should pass")
	}
}

func TestDeliverVoiceOnlyMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(c *Config) {
		c.VoiceMode = config.VoiceModeVoiceOnly
	})
	env.voice.connected = true
	env.voice.mode = voice.ModePassive

	in := msg("привет")
	in.MentionsBot = true
	env.handler.HandleMessage(t.Context(), in)

	if got := env.voice.waitSpoken(t); got != "Привет!" {
		t.Errorf("spoken reply = %q, want Привет!", got)
	}
	if n := len(env.messenger.sent); n != 0 {
		t.Errorf("sent %d text messages in voice-only mode, want 0", n)
	}
}

func TestStripMention(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"<@123> привет", "привет"},
		{"<@!123> привет", "привет"},
		{"привет", "привет"},
		{"  <@123>  как дела  ", "как дела"},
	}
	for _, tc := range cases {
		if got := stripMention(tc.in); got != tc.want {
			t.Errorf("stripMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
