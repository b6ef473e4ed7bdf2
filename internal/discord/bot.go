// Package discord provides the Discord gateway layer. It owns the
// discordgo.Session lifecycle, translates gateway events into handler
// input and exposes the send-side operations the handler needs.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/Sqrilizz/BixlandAI/internal/handler"
)

// MessageHandler receives translated chat messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg handler.Incoming)
}

// Config holds Discord bot configuration.
type Config struct {
	// Token is the raw bot token, without the "Bot " prefix.
	Token string
}

// Bot owns the Discord gateway connection.
type Bot struct {
	session *discordgo.Session
	log     *slog.Logger

	mu      sync.RWMutex
	handler MessageHandler

	closeOnce sync.Once
}

var _ handler.Messenger = (*Bot)(nil)

// New creates a Bot and connects it to the gateway. Message content requires
// the privileged intent to be enabled for the application.
func New(cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	session.State.TrackVoice = true

	b := &Bot{
		session: session,
		log:     slog.Default().With("component", "discord"),
	}
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.log.Info("gateway ready", "username", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// SetHandler installs the message handler. Events arriving before this is
// called are dropped.
func (b *Bot) SetHandler(h MessageHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Session exposes the underlying session for the voice manager.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Run blocks until ctx is cancelled. The gateway connection itself is
// event-driven; this just ties the bot's lifetime into the app's errgroup.
func (b *Bot) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.log.Info("gateway closed")
	})
	return closeErr
}

// onMessageCreate translates a gateway event into handler input. discordgo
// already dispatches each event on its own goroutine.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h == nil || m.Author == nil {
		return
	}

	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	if m.Author.ID == botID {
		return
	}

	mentionsBot := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentionsBot = true
			break
		}
	}
	replyToBot := m.ReferencedMessage != nil &&
		m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == botID

	h.HandleMessage(context.Background(), handler.Incoming{
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		Username:    displayName(m.Member, m.Author),
		Content:     m.Content,
		AuthorIsBot: m.Author.Bot,
		MentionsBot: mentionsBot,
		ReplyToBot:  replyToBot,
	})
}

// SendMessage posts content to a channel.
func (b *Bot) SendMessage(channelID, content string) error {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Username resolves a user's display name within a guild, falling back to
// the bare ID when nothing better is cached.
func (b *Bot) Username(guildID, userID string) string {
	if member, err := b.session.State.Member(guildID, userID); err == nil {
		return displayName(member, member.User)
	}
	if user, err := b.session.User(userID); err == nil && user.Username != "" {
		return user.Username
	}
	return userID
}

// VoiceChannelOf returns the voice channel the user is connected to in the
// guild, or "" if they are not in one.
func (b *Bot) VoiceChannelOf(guildID, userID string) string {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}

func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user == nil {
		return ""
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
