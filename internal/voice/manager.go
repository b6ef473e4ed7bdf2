package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Sqrilizz/BixlandAI/internal/queue"
	"github.com/Sqrilizz/BixlandAI/pkg/provider/stt"
)

// reconnectDelay is how long the manager waits before its single supervised
// rejoin attempt after an unexpected transport loss.
const reconnectDelay = 5 * time.Second

// Mode selects what the bot does in a voice channel.
type Mode string

const (
	// ModeListen runs the full pipeline: transcribe speakers and respond.
	ModeListen Mode = "listen"

	// ModePassive connects without transcription; the bot only speaks when
	// explicitly asked to.
	ModePassive Mode = "passive"
)

// Utterance is one spoken message attributed to a user.
type Utterance struct {
	GuildID string
	UserID  string
	Text    string
}

// Responder handles completed utterances from voice channels.
type Responder interface {
	HandleUtterance(ctx context.Context, u Utterance)
}

// SynthesizeFunc turns text into MP3 bytes.
type SynthesizeFunc func(ctx context.Context, text string) ([]byte, error)

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Discord *discordgo.Session

	// STT and Stream configure per-speaker transcription.
	STT    stt.Provider
	Stream stt.StreamConfig

	// Responder receives utterances from listen-mode sessions.
	Responder Responder

	// Synthesize produces speech audio for Speak.
	Synthesize SynthesizeFunc

	// TTSQueue serialises synthesis + playback globally (concurrency 1), so
	// two guilds never stress the synthesis API at once.
	TTSQueue *queue.Queue

	// OnLeave is called after a guild's voice session is torn down with the
	// IDs of the users heard during it, letting the owner clear per-guild
	// response state and those speakers' dialogs.
	OnLeave func(guildID string, speakers []string)
}

// Manager owns at most one voice transport per guild and composes the
// receive, segmentation and playback paths.
type Manager struct {
	cfg ManagerConfig
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*guildSession
}

type guildSession struct {
	guildID   string
	channelID string
	mode      Mode
	vc        *discordgo.VoiceConnection
	seg       *Segmenter
	cancel    context.CancelFunc

	ssrcMu sync.RWMutex
	ssrc   map[uint32]string
}

// speakerIDs returns the distinct user IDs that were mapped to an SSRC during
// the session's lifetime.
func (gs *guildSession) speakerIDs() []string {
	gs.ssrcMu.RLock()
	defer gs.ssrcMu.RUnlock()

	seen := make(map[string]bool, len(gs.ssrc))
	ids := make([]string, 0, len(gs.ssrc))
	for _, id := range gs.ssrc {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		log:      slog.Default().With("component", "voice"),
		sessions: make(map[string]*guildSession),
	}
}

// Join connects the bot to a voice channel. An existing session for the guild
// is torn down first, so a guild never holds two transports.
func (m *Manager) Join(ctx context.Context, guildID, channelID string, mode Mode) error {
	m.Leave(guildID)

	vc, err := m.cfg.Discord.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return fmt.Errorf("voice: join channel %s: %w", channelID, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	gs := &guildSession{
		guildID:   guildID,
		channelID: channelID,
		mode:      mode,
		vc:        vc,
		cancel:    cancel,
		ssrc:      make(map[uint32]string),
	}

	if mode == ModeListen {
		gs.seg = NewSegmenter(SegmenterConfig{
			STT:    m.cfg.STT,
			Stream: m.cfg.Stream,
			OnUtterance: func(userID, text string) {
				m.cfg.Responder.HandleUtterance(sessCtx, Utterance{
					GuildID: guildID,
					UserID:  userID,
					Text:    text,
				})
			},
		})

		vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
			gs.ssrcMu.Lock()
			gs.ssrc[uint32(vs.SSRC)] = vs.UserID
			gs.ssrcMu.Unlock()
		})

		go m.recvLoop(gs)
	}

	m.mu.Lock()
	m.sessions[guildID] = gs
	m.mu.Unlock()

	m.log.Info("joined voice channel", "guild_id", guildID, "channel_id", channelID, "mode", mode)
	return nil
}

// recvLoop demultiplexes incoming packets by SSRC and feeds the segmenter.
// It exits when the transport's receive channel closes.
func (m *Manager) recvLoop(gs *guildSession) {
	botID := m.selfID()
	for pkt := range gs.vc.OpusRecv {
		gs.ssrcMu.RLock()
		userID := gs.ssrc[pkt.SSRC]
		gs.ssrcMu.RUnlock()

		// Packets before the speaking update arrives have no user mapping
		// yet; the bot's own playback is never transcribed.
		if userID == "" || userID == botID {
			continue
		}
		gs.seg.HandlePacket(userID, pkt.Opus)
	}
	m.handleTransportLoss(gs)
}

// handleTransportLoss runs the single supervised reconnect: if the session is
// still tracked (i.e. the loss was not a deliberate Leave), wait and rejoin
// once. A second failure gives up and tears the session down.
func (m *Manager) handleTransportLoss(gs *guildSession) {
	m.mu.Lock()
	tracked := m.sessions[gs.guildID] == gs
	m.mu.Unlock()
	if !tracked {
		return
	}

	m.log.Warn("voice transport lost, attempting one reconnect",
		"guild_id", gs.guildID, "channel_id", gs.channelID)
	time.Sleep(reconnectDelay)

	m.mu.Lock()
	tracked = m.sessions[gs.guildID] == gs
	m.mu.Unlock()
	if !tracked {
		return
	}

	mode, guildID, channelID := gs.mode, gs.guildID, gs.channelID
	m.Leave(guildID)
	if err := m.Join(context.Background(), guildID, channelID, mode); err != nil {
		m.log.Error("voice reconnect failed, giving up", "guild_id", guildID, "err", err)
	}
}

// Leave tears down the guild's voice session, if any: transcription captures
// are aborted, the transport disconnected and per-guild state cleared via the
// OnLeave hook.
func (m *Manager) Leave(guildID string) {
	m.mu.Lock()
	gs, ok := m.sessions[guildID]
	if ok {
		delete(m.sessions, guildID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	gs.cancel()
	if gs.seg != nil {
		gs.seg.Close()
	}
	if err := gs.vc.Disconnect(); err != nil {
		m.log.Warn("voice disconnect", "guild_id", guildID, "err", err)
	}
	if m.cfg.OnLeave != nil {
		m.cfg.OnLeave(guildID, gs.speakerIDs())
	}
	m.log.Info("left voice channel", "guild_id", guildID)
}

// LeaveAll tears down every session. Used on shutdown.
func (m *Manager) LeaveAll() {
	m.mu.Lock()
	guilds := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		guilds = append(guilds, id)
	}
	m.mu.Unlock()

	for _, id := range guilds {
		m.Leave(id)
	}
}

// SessionCount reports how many guilds currently hold a voice transport.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Connected reports whether the guild has a voice session and its mode.
func (m *Manager) Connected(guildID string) (Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gs, ok := m.sessions[guildID]
	if !ok {
		return "", false
	}
	return gs.mode, true
}

// Speak synthesizes text and plays it in the guild's voice channel. The work
// runs on the global synthesis queue; the returned channel settles when
// playback finishes.
func (m *Manager) Speak(ctx context.Context, guildID, text string) <-chan error {
	return m.cfg.TTSQueue.Enqueue(func() error {
		m.mu.Lock()
		gs, ok := m.sessions[guildID]
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("voice: guild %s has no voice session", guildID)
		}

		audio, err := m.cfg.Synthesize(ctx, text)
		if err != nil {
			return fmt.Errorf("voice: synthesize: %w", err)
		}
		pcm, err := decodeMP3(audio)
		if err != nil {
			return err
		}
		frames, err := opusFrames(pcm)
		if err != nil {
			return err
		}

		if err := gs.vc.Speaking(true); err != nil {
			return fmt.Errorf("voice: speaking on: %w", err)
		}
		defer func() {
			if err := gs.vc.Speaking(false); err != nil {
				m.log.Warn("speaking off", "guild_id", guildID, "err", err)
			}
		}()

		return playFrames(ctx, gs.vc.OpusSend, frames)
	}, 0)
}

func (m *Manager) selfID() string {
	if m.cfg.Discord != nil && m.cfg.Discord.State != nil && m.cfg.Discord.State.User != nil {
		return m.cfg.Discord.State.User.ID
	}
	return ""
}
