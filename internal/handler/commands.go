package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sqrilizz/BixlandAI/internal/queue"
	"github.com/Sqrilizz/BixlandAI/internal/voice"
)

// commandAliases maps Russian command names onto their canonical form.
var commandAliases = map[string]string{
	"помощь":   "help",
	"пинг":     "ping",
	"зайди":    "join",
	"зайди-ай": "join-ai",
	"выйди":    "leave",
	"скажи":    "speak",
	"статус":   "status",
	"стата":    "stats",
	"очередь":  "queue",
}

// musicCommands are legacy commands the bot acknowledges but no longer
// implements.
var musicCommands = map[string]bool{
	"play": true, "pause": true, "resume": true, "skip": true,
	"играй": true, "пауза": true, "продолжи": true, "дальше": true,
}

const helpText = `**Команды:**
` + "`!help`" + ` (` + "`!помощь`" + `) — этот список
` + "`!ping`" + ` (` + "`!пинг`" + `) — проверка, что я жив
` + "`!join`" + ` (` + "`!зайди`" + `) — зайти в твой голосовой канал
` + "`!join-ai`" + ` (` + "`!зайди-ай`" + `) — зайти и слушать голосовые команды
` + "`!leave`" + ` (` + "`!выйди`" + `) — выйти из голосового канала
` + "`!speak <текст>`" + ` (` + "`!скажи`" + `) — озвучить текст
` + "`!status`" + ` (` + "`!статус`" + `) — состояние бота
` + "`!stats`" + ` (` + "`!стата`" + `) — статистика сообщений
` + "`!queue`" + ` (` + "`!очередь`" + `) — состояние очередей задач`

// handleCommand dispatches a prefixed chat command.
func (h *Handler) handleCommand(ctx context.Context, msg Incoming) {
	body := strings.TrimPrefix(msg.Content, h.cfg.CommandPrefix)
	name, args, _ := strings.Cut(strings.TrimSpace(body), " ")
	name = strings.ToLower(name)
	if canonical, ok := commandAliases[name]; ok {
		name = canonical
	}
	args = strings.TrimSpace(args)

	var reply string
	switch {
	case name == "help":
		reply = helpText
	case name == "ping":
		reply = "Понг! Я тут."
	case name == "join":
		reply = h.cmdJoin(ctx, msg, voice.ModePassive)
	case name == "join-ai":
		reply = h.cmdJoin(ctx, msg, voice.ModeListen)
	case name == "leave":
		reply = h.cmdLeave(msg)
	case name == "speak":
		reply = h.cmdSpeak(ctx, msg, args)
	case name == "status":
		reply = h.cmdStatus(msg)
	case name == "stats":
		reply = h.cmdStats()
	case name == "queue":
		reply = h.cmdQueue()
	case musicCommands[name]:
		reply = "Музыкальные команды больше не поддерживаются."
	default:
		return
	}

	if reply == "" {
		return
	}
	if err := h.cfg.Messenger.SendMessage(msg.ChannelID, reply); err != nil {
		h.log.Warn("command reply failed", "command", name, "err", err)
	}
}

func (h *Handler) cmdJoin(ctx context.Context, msg Incoming, mode voice.Mode) string {
	if h.cfg.Voice == nil {
		return "Голосовой режим отключён."
	}
	channelID := h.cfg.Messenger.VoiceChannelOf(msg.GuildID, msg.AuthorID)
	if channelID == "" {
		return "Сначала зайди в голосовой канал."
	}
	if err := h.cfg.Voice.Join(ctx, msg.GuildID, channelID, mode); err != nil {
		h.log.Error("voice join failed", "guild_id", msg.GuildID, "err", err)
		return "Не получилось подключиться к каналу."
	}
	if mode == voice.ModeListen {
		return "Зашёл и слушаю. Позови меня по имени."
	}
	return "Зашёл в канал."
}

func (h *Handler) cmdLeave(msg Incoming) string {
	if h.cfg.Voice == nil {
		return "Голосовой режим отключён."
	}
	if _, ok := h.cfg.Voice.Connected(msg.GuildID); !ok {
		return "Я и так не в голосовом канале."
	}
	h.cfg.Voice.Leave(msg.GuildID)
	return "Вышел из канала."
}

func (h *Handler) cmdSpeak(ctx context.Context, msg Incoming, text string) string {
	if h.cfg.Voice == nil {
		return "Голосовой режим отключён."
	}
	if text == "" {
		return "Напиши, что сказать: `!speak <текст>`."
	}
	if _, ok := h.cfg.Voice.Connected(msg.GuildID); !ok {
		return "Сначала позови меня в голосовой канал: `!join`."
	}
	if err := <-h.cfg.Voice.Speak(ctx, msg.GuildID, text); err != nil {
		h.log.Error("speak command failed", "guild_id", msg.GuildID, "err", err)
		return "Не получилось озвучить."
	}
	return ""
}

func (h *Handler) cmdStatus(msg Incoming) string {
	var b strings.Builder
	b.WriteString("**Статус:**\n")
	fmt.Fprintf(&b, "Осталось ответов сегодня: %d\n", h.cfg.Limiter.Remaining())

	if h.cfg.Voice == nil {
		b.WriteString("Голос: отключён\n")
	} else if mode, ok := h.cfg.Voice.Connected(msg.GuildID); ok {
		fmt.Fprintf(&b, "Голос: подключён (режим %s)\n", mode)
	} else {
		b.WriteString("Голос: не подключён\n")
	}

	st := h.cfg.Coordinator.Stats()
	fmt.Fprintf(&b, "Активных ответов: %d (текст %d, голос %d)", st.Total, st.Text, st.Voice)
	return b.String()
}

func (h *Handler) cmdStats() string {
	var b strings.Builder
	b.WriteString("**Статистика:**\n")
	fmt.Fprintf(&b, "Сообщений в памяти: %d\n", h.cfg.Memory.TotalMessages())

	hours := h.cfg.Memory.HourlyActivity()
	peak, peakAgo := 0, 0
	for i, hc := range hours {
		if hc.Count > peak {
			peak = hc.Count
			peakAgo = len(hours) - 1 - i
		}
	}
	if peak > 0 {
		fmt.Fprintf(&b, "Пик активности: %d сообщений (%d ч назад)", peak, peakAgo)
	} else {
		b.WriteString("За последние сутки тихо.")
	}
	return b.String()
}

func (h *Handler) cmdQueue() string {
	var b strings.Builder
	b.WriteString("**Очереди:**\n")
	for _, st := range []queue.Stats{h.cfg.TextQueue.Stats(), h.cfg.VoiceQueue.Stats()} {
		fmt.Fprintf(&b, "%s: в ожидании %d, выполняется %d, выполнено %d, ошибок %d\n",
			st.Name, st.Queued, st.Running, st.Processed, st.Failed)
	}
	return strings.TrimRight(b.String(), "\n")
}
