// Package ratelimit enforces the bot-wide daily message budget.
//
// The counter covers every generated reply across all guilds and resets at
// local midnight in the configured timezone (Moscow by default, independent
// of host timezone). The reset is driven by a coarse polling loop rather
// than a precise timer, so the count may survive up to one poll interval
// past midnight.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const pollInterval = time.Minute

// Limiter is a daily global message counter. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	count     int
	dailyMax  int
	loc       *time.Location
	nextReset time.Time
	now       func() time.Time
	log       *slog.Logger

	// onReset hooks run after each midnight reset, outside the lock.
	onReset []func()
}

// OnReset registers fn to run after each midnight reset. Not safe to call
// concurrently with Run; register during wiring.
func (l *Limiter) OnReset(fn func()) {
	l.onReset = append(l.onReset, fn)
}

// New creates a limiter allowing dailyMax sends per day in the given
// timezone. A nil loc falls back to UTC.
func New(dailyMax int, loc *time.Location) *Limiter {
	if loc == nil {
		loc = time.UTC
	}
	l := &Limiter{
		dailyMax: dailyMax,
		loc:      loc,
		now:      time.Now,
		log:      slog.Default().With("component", "ratelimit"),
	}
	l.nextReset = l.midnightAfter(l.now())
	return l
}

// midnightAfter returns the next local midnight strictly after t.
func (l *Limiter) midnightAfter(t time.Time) time.Time {
	local := t.In(l.loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, l.loc)
}

// CanSend reports whether the daily budget still has room.
func (l *Limiter) CanSend() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count < l.dailyMax
}

// Increment counts one sent message. It never clamps: callers gate with
// CanSend first, and a rare overshoot from concurrent sends is acceptable.
func (l *Limiter) Increment() {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
}

// Remaining returns how many sends are left today, never below zero.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.dailyMax - l.count; r > 0 {
		return r
	}
	return 0
}

// Count returns the number of sends recorded today.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Run polls the clock and zeroes the counter once wall time passes the next
// midnight boundary. It blocks until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(l.now())
		}
	}
}

// tick performs one poll step: if t is at or past the scheduled boundary the
// counter resets and the next boundary is computed from t.
func (l *Limiter) tick(t time.Time) {
	l.mu.Lock()
	if t.Before(l.nextReset) {
		l.mu.Unlock()
		return
	}
	l.log.Info("daily counter reset", "sent", l.count, "max", l.dailyMax)
	l.count = 0
	l.nextReset = l.midnightAfter(t)
	l.mu.Unlock()

	for _, fn := range l.onReset {
		fn()
	}
}
