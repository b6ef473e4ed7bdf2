// Package memory holds the bot's short-term conversational memory.
//
// RollingStore keeps bounded per-user and per-channel message rings plus a
// 24-hour activity histogram, all in process memory. Long-term user facts
// live in the postgres subpackage.
package memory

import (
	"sync"
	"time"
)

const (
	userRingSize    = 10
	channelRingSize = 20
	allRingSize     = 100
)

// Message is one remembered chat line.
type Message struct {
	AuthorID  string
	Username  string
	ChannelID string
	Content   string
	At        time.Time
}

// HourCount is one bucket of the rotated activity histogram.
type HourCount struct {
	// Hour is the wall-clock hour (0-23) this bucket counts.
	Hour int
	// Count is how many messages arrived during that hour.
	Count int
}

// RollingStore is the in-memory rolling message store.
// All methods are safe for concurrent use.
type RollingStore struct {
	mu        sync.Mutex
	byUser    map[string][]Message
	byChannel map[string][]Message
	all       []Message
	byHour    [24]int
	total     uint64
	now       func() time.Time
}

// NewRollingStore returns an empty store using the system clock.
func NewRollingStore() *RollingStore {
	return &RollingStore{
		byUser:    make(map[string][]Message),
		byChannel: make(map[string][]Message),
		now:       time.Now,
	}
}

// AddMessage records one message in the user ring, channel ring, global ring
// and the hourly histogram. Oldest entries are evicted once a ring is full.
func (s *RollingStore) AddMessage(authorID, username, channelID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		AuthorID:  authorID,
		Username:  username,
		ChannelID: channelID,
		Content:   content,
		At:        s.now(),
	}

	s.byUser[authorID] = appendBounded(s.byUser[authorID], msg, userRingSize)
	s.byChannel[channelID] = appendBounded(s.byChannel[channelID], msg, channelRingSize)
	s.all = appendBounded(s.all, msg, allRingSize)
	s.byHour[msg.At.Hour()]++
	s.total++
}

func appendBounded(ring []Message, msg Message, limit int) []Message {
	ring = append(ring, msg)
	if len(ring) > limit {
		// Copy into a fresh slice so the evicted head can be collected.
		trimmed := make([]Message, limit)
		copy(trimmed, ring[len(ring)-limit:])
		return trimmed
	}
	return ring
}

// UserContext returns up to n most recent messages by the user, oldest first.
func (s *RollingStore) UserContext(userID string, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.byUser[userID], n)
}

// ChannelContext returns up to n most recent messages in the channel, oldest
// first.
func (s *RollingStore) ChannelContext(channelID string, n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.byChannel[channelID], n)
}

// AllMessages returns a copy of the global ring, oldest first.
func (s *RollingStore) AllMessages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tail(s.all, len(s.all))
}

func tail(msgs []Message, n int) []Message {
	if n > len(msgs) {
		n = len(msgs)
	}
	out := make([]Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

// HourlyActivity returns the 24 histogram buckets rotated so that index 23 is
// the current hour and index 0 is the same hour yesterday.
func (s *RollingStore) HourlyActivity() []HourCount {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.now().Hour()
	out := make([]HourCount, 24)
	for i := range out {
		h := (cur - 23 + i + 24) % 24
		out[i] = HourCount{Hour: h, Count: s.byHour[h]}
	}
	return out
}

// TotalMessages returns how many messages were recorded since the last reset.
func (s *RollingStore) TotalMessages() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ResetDailyStats zeroes the hourly histogram and the daily total. Message
// rings are left untouched.
func (s *RollingStore) ResetDailyStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHour = [24]int{}
	s.total = 0
}
