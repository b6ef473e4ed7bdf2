package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/Sqrilizz/BixlandAI/internal/config"
	"github.com/Sqrilizz/BixlandAI/internal/prompt"
	"github.com/Sqrilizz/BixlandAI/internal/respond"
	"github.com/Sqrilizz/BixlandAI/internal/voice"
)

var _ voice.Responder = (*Handler)(nil)

const (
	// voiceTimeout bounds one queued voice response, including playback.
	voiceTimeout = 3 * time.Minute

	// utteranceDebounce suppresses a speaker's follow-up utterances while a
	// just-flushed one is still being decided on.
	utteranceDebounce = 2 * time.Second

	// thinkingDelayMin/Max pace spoken replies so they land like a person
	// answering, not an instant playback.
	thinkingDelayMin = 1 * time.Second
	thinkingDelayMax = 3 * time.Second
)

// HandleUtterance processes one transcribed voice utterance.
func (h *Handler) HandleUtterance(ctx context.Context, u voice.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("utterance handler panicked", "guild_id", u.GuildID, "panic", r)
		}
	}()

	if h.cfg.Metrics != nil {
		h.cfg.Metrics.UtterancesTotal.Add(ctx, 1)
	}
	if h.cfg.VoiceMode == config.VoiceModeTextOnly {
		return
	}
	if h.userBlocked(u.UserID) || h.debounced(u.UserID) {
		return
	}

	d := h.cfg.Dialog.Evaluate(u.UserID, u.Text)
	if d.Opened {
		h.log.Info("voice dialog opened", "guild_id", u.GuildID, "user_id", u.UserID)
	}
	if d.Closed {
		h.log.Info("voice dialog closed", "guild_id", u.GuildID, "user_id", u.UserID)
	}
	if !d.Forward {
		return
	}

	if !h.cfg.Limiter.CanSend() {
		h.countRateLimited()
		h.log.Debug("daily budget exhausted, dropping utterance", "guild_id", u.GuildID)
		return
	}
	if !h.cfg.Coordinator.CanRespond(u.GuildID, respond.KindVoice, u.UserID) {
		h.log.Debug("guild busy, dropping utterance", "guild_id", u.GuildID, "user_id", u.UserID)
		return
	}

	h.cfg.VoiceQueue.Enqueue(func() error { return h.respondVoice(u) }, 0)
}

// debounced records the utterance time for the speaker and reports whether
// the previous one was too recent.
func (h *Handler) debounced(userID string) bool {
	h.procMu.Lock()
	defer h.procMu.Unlock()
	now := h.now()
	if last, ok := h.processing[userID]; ok && now.Sub(last) < utteranceDebounce {
		return true
	}
	h.processing[userID] = now
	return false
}

// respondVoice is the queued voice response task.
func (h *Handler) respondVoice(u voice.Utterance) error {
	ctx, cancel := context.WithTimeout(context.Background(), voiceTimeout)
	defer cancel()

	if !h.cfg.Coordinator.CanRespond(u.GuildID, respond.KindVoice, u.UserID) {
		return nil
	}
	h.cfg.Coordinator.StartResponse(u.GuildID, respond.KindVoice, u.UserID)
	defer h.cfg.Coordinator.EndResponse(u.GuildID, respond.KindVoice)

	username := h.cfg.Messenger.Username(u.GuildID, u.UserID)
	h.cfg.Memory.AddMessage(u.UserID, username, "voice:"+u.GuildID, u.Text)

	res := h.cfg.Prompts.Build(prompt.Input{
		Username:       username,
		Content:        u.Text,
		ChannelContext: h.cfg.Memory.ChannelContext("voice:"+u.GuildID, 8),
		UserContext:    h.cfg.Memory.UserContext(u.UserID, 5),
		Facts:          h.userFacts(ctx, u.UserID),
		Extra:          h.enrich(ctx, u.Text),
		Voice:          true,
	})
	if res.Blocked {
		h.log.Info("utterance blocked from generation", "reason", res.Reason, "guild_id", u.GuildID)
		return nil
	}

	// Pause before generating, so the reply lands like a person who had to
	// think about it first.
	h.thinkingPause(ctx)

	start := h.now()
	reply, err := h.cfg.Generator.Generate(ctx, res.System, res.User)
	if err != nil {
		h.countProviderError("generation")
		return fmt.Errorf("handler: generate voice reply: %w", err)
	}
	h.observeGeneration("voice", h.now().Sub(start))

	reply = prompt.PostProcess(reply, true)
	if reply == "" {
		return nil
	}

	h.cfg.Limiter.Increment()
	if err := <-h.cfg.Voice.Speak(ctx, u.GuildID, reply); err != nil {
		h.countProviderError("tts")
		return fmt.Errorf("handler: speak voice reply: %w", err)
	}
	h.countResponse("voice")
	return nil
}

// thinkingPause sleeps for the thinking delay, cut short by context
// cancellation.
func (h *Handler) thinkingPause(ctx context.Context) {
	delay := h.thinkDelay()
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
