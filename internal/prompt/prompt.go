// Package prompt assembles generation prompts for the Adrian persona.
//
// The builder folds the recent channel conversation, the author's own recent
// messages, long-term facts and optional enrichment blocks (search results,
// weather) into a single prompt, and refuses to engage with content that
// looks like another AI talking, which would otherwise loop two bots into a
// conversation with each other.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sqrilizz/BixlandAI/internal/memory"
)

const (
	// MaxTextReply caps chat replies so Adrian stays terse in text channels.
	MaxTextReply = 350
	// MaxVoiceReply is looser: spoken replies read better with full sentences.
	MaxVoiceReply = 800

	channelWindow = 8
	userWindow    = 5
)

const textSystem = `Ты Адриан - дерзкий и саркастичный участник Discord-сервера. Ты общаешься на русском,
коротко и по делу, можешь подколоть собеседника, но без злобы. Ты не ассистент и не
упоминаешь, что ты бот или ИИ. Отвечай не длиннее пары предложений.`

const voiceSystem = `Ты Адриан - дерзкий и саркастичный участник Discord-сервера, сейчас ты разговариваешь
голосом в голосовом канале. Ты общаешься на русском, живо и естественно, как в обычном
разговоре. Ты не ассистент и не упоминаешь, что ты бот или ИИ. Не используй эмодзи,
списки и форматирование - текст будет озвучен.`

// aiMarkers identify content produced by another bot or assistant. Replying
// to it risks an endless bot-to-bot loop.
var aiMarkers = []string{
	"as an ai", "as a language model",
	"я искусственный интеллект", "я языковая модель", "как ии-ассистент",
}

// Input carries everything the builder needs for one prompt.
type Input struct {
	Username       string
	Content        string
	ChannelContext []memory.Message
	UserContext    []memory.Message
	// Facts are long-term notes about the author from the persistent store.
	Facts []string
	// Extra is an optional enrichment block (search results or weather).
	Extra string
	// Voice selects the spoken-reply persona and length budget.
	Voice bool
}

// Result is the outcome of building a prompt.
type Result struct {
	// Blocked is true when the message must not be answered at all.
	Blocked bool
	// Reason explains a block, for logging.
	Reason string
	// System and User are the prompt halves for the generation call.
	System string
	User   string
}

// Builder assembles prompts. The clock is injectable for tests.
type Builder struct {
	loc *time.Location
	now func() time.Time
}

// NewBuilder creates a Builder stamping prompts with the given local time.
// A nil loc falls back to UTC.
func NewBuilder(loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{loc: loc, now: time.Now}
}

// Build assembles the prompt for one message, or blocks it.
func (b *Builder) Build(in Input) Result {
	content := Sanitize(in.Content)

	if marker := findAIMarker(content); marker != "" {
		return Result{Blocked: true, Reason: "ai marker: " + marker}
	}
	if strings.TrimSpace(content) == "" {
		return Result{Blocked: true, Reason: "empty message"}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Сейчас %s.\n", b.now().In(b.loc).Format("15:04, Monday 2 January 2006"))

	if len(in.Facts) > 0 {
		sb.WriteString("\nЧто ты знаешь об этом пользователе:\n")
		for _, f := range in.Facts {
			sb.WriteString("- " + f + "\n")
		}
	}

	if ctx := formatContext(in.ChannelContext, channelWindow); ctx != "" {
		sb.WriteString("\nПоследние сообщения в канале:\n" + ctx)
	}
	if ctx := formatContext(in.UserContext, userWindow); ctx != "" {
		fmt.Fprintf(&sb, "\nПоследние сообщения %s:\n%s", in.Username, ctx)
	}

	if in.Extra != "" {
		sb.WriteString("\n" + in.Extra + "\n")
	}

	fmt.Fprintf(&sb, "\n%s пишет тебе: %s", in.Username, content)

	system := textSystem
	if in.Voice {
		system = voiceSystem
	}
	return Result{System: system, User: sb.String()}
}

// PostProcess trims a generated reply to the delivery budget, cutting at a
// sentence boundary when one is close enough.
func PostProcess(text string, voice bool) string {
	limit := MaxTextReply
	if voice {
		limit = MaxVoiceReply
	}

	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > limit/2 {
		return strings.TrimSpace(cut[:i+1])
	}
	return strings.TrimSpace(cut) + "…"
}

// Sanitize strips mass-mention triggers so a generated reply can never ping
// the whole server.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "@everyone", "@\u200beveryone")
	text = strings.ReplaceAll(text, "@here", "@\u200bhere")
	return text
}

func findAIMarker(content string) string {
	lower := strings.ToLower(content)
	for _, m := range aiMarkers {
		if strings.Contains(lower, m) {
			return m
		}
	}
	return ""
}

func formatContext(msgs []memory.Message, window int) string {
	if len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	if len(msgs) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Username, m.Content)
	}
	return sb.String()
}
