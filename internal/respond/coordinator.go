// Package respond arbitrates response ownership per guild.
//
// At most one response (text or voice) may be in flight for a guild at any
// time. Event handlers ask CanRespond before queueing work, claim the slot
// with StartResponse once a worker actually begins, and release it with
// EndResponse when delivery finishes or fails.
package respond

import (
	"log/slog"
	"sync"
	"time"
)

// Kind labels the delivery channel of a response.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

type active struct {
	kind      Kind
	userID    string
	startedAt time.Time
}

// Coordinator tracks the single in-flight response per guild.
// All methods are safe for concurrent use.
type Coordinator struct {
	mu      sync.Mutex
	byGuild map[string]active
	now     func() time.Time
	log     *slog.Logger
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		byGuild: make(map[string]active),
		now:     time.Now,
		log:     slog.Default().With("component", "respond"),
	}
}

// CanRespond reports whether a response of the given kind may start for the
// guild. It returns true when the guild is idle or when the same user already
// owns the slot (their newer message refreshes the claim rather than being
// swallowed).
func (c *Coordinator) CanRespond(guildID string, kind Kind, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.byGuild[guildID]
	if !ok {
		return true
	}
	return cur.userID == userID
}

// StartResponse claims the guild slot. An existing claim by another response
// is overwritten (last writer wins) with a warning, matching the check in
// CanRespond being advisory rather than a reservation.
func (c *Coordinator) StartResponse(guildID string, kind Kind, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.byGuild[guildID]; ok && (cur.kind != kind || cur.userID != userID) {
		c.log.Warn("overriding in-flight response",
			"guild_id", guildID,
			"old_kind", cur.kind, "old_user", cur.userID,
			"new_kind", kind, "new_user", userID)
	}
	c.byGuild[guildID] = active{kind: kind, userID: userID, startedAt: c.now()}
}

// EndResponse releases the guild slot, but only if the current claim matches
// kind. A stale EndResponse from an overridden response is a no-op so it
// cannot release a slot it no longer owns of a different kind.
func (c *Coordinator) EndResponse(guildID string, kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.byGuild[guildID]; ok && cur.kind == kind {
		delete(c.byGuild, guildID)
	}
}

// ClearGuild drops any claim for the guild regardless of kind. Used on voice
// teardown and shutdown.
func (c *Coordinator) ClearGuild(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byGuild, guildID)
}

// Stats counts in-flight responses by kind.
type Stats struct {
	Total int
	Text  int
	Voice int
}

// Stats returns a snapshot of in-flight responses.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Total: len(c.byGuild)}
	for _, a := range c.byGuild {
		switch a.kind {
		case KindText:
			st.Text++
		case KindVoice:
			st.Voice++
		}
	}
	return st
}
