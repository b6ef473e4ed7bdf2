package memory

import (
	"fmt"
	"testing"
	"time"
)

func storeAt(t *testing.T, at time.Time) *RollingStore {
	t.Helper()
	s := NewRollingStore()
	s.now = func() time.Time { return at }
	return s
}

func TestUserRingBound(t *testing.T) {
	t.Parallel()

	s := storeAt(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	for i := 0; i < 15; i++ {
		s.AddMessage("u1", "vasya", "c1", fmt.Sprintf("msg-%d", i))
	}

	got := s.UserContext("u1", 100)
	if len(got) != 10 {
		t.Fatalf("user ring len = %d, want 10", len(got))
	}
	if got[0].Content != "msg-5" || got[9].Content != "msg-14" {
		t.Errorf("ring window = [%s .. %s], want [msg-5 .. msg-14]",
			got[0].Content, got[9].Content)
	}
}

func TestChannelAndGlobalRingBounds(t *testing.T) {
	t.Parallel()

	s := storeAt(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	for i := 0; i < 150; i++ {
		s.AddMessage(fmt.Sprintf("u%d", i%30), "user", "c1", fmt.Sprintf("m%d", i))
	}

	if got := len(s.ChannelContext("c1", 100)); got != 20 {
		t.Errorf("channel ring len = %d, want 20", got)
	}
	all := s.AllMessages()
	if len(all) != 100 {
		t.Fatalf("global ring len = %d, want 100", len(all))
	}
	if all[0].Content != "m50" || all[99].Content != "m149" {
		t.Errorf("global window = [%s .. %s], want [m50 .. m149]",
			all[0].Content, all[99].Content)
	}
}

func TestContextWindowSmallerThanRing(t *testing.T) {
	t.Parallel()

	s := storeAt(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	for i := 0; i < 8; i++ {
		s.AddMessage("u1", "vasya", "c1", fmt.Sprintf("m%d", i))
	}

	got := s.UserContext("u1", 5)
	if len(got) != 5 || got[0].Content != "m3" || got[4].Content != "m7" {
		t.Errorf("window = %v, want last 5 oldest-first", got)
	}
}

func TestHourlyActivityRotation(t *testing.T) {
	t.Parallel()

	s := NewRollingStore()
	hour := 3
	s.now = func() time.Time {
		return time.Date(2026, 8, 1, hour, 30, 0, 0, time.UTC)
	}

	// One message at 01:30, two at 03:30.
	hour = 1
	s.AddMessage("u1", "vasya", "c1", "early")
	hour = 3
	s.AddMessage("u1", "vasya", "c1", "now-a")
	s.AddMessage("u2", "petya", "c1", "now-b")

	buckets := s.HourlyActivity()
	if len(buckets) != 24 {
		t.Fatalf("bucket count = %d, want 24", len(buckets))
	}
	last := buckets[23]
	if last.Hour != 3 || last.Count != 2 {
		t.Errorf("bucket[23] = %+v, want hour 3 count 2", last)
	}
	// Hour 1 is two steps back from the current hour.
	if b := buckets[21]; b.Hour != 1 || b.Count != 1 {
		t.Errorf("bucket[21] = %+v, want hour 1 count 1", b)
	}
	if b := buckets[0]; b.Hour != 4 || b.Count != 0 {
		t.Errorf("bucket[0] = %+v, want hour 4 count 0", b)
	}
}

func TestResetDailyStats(t *testing.T) {
	t.Parallel()

	s := storeAt(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	s.AddMessage("u1", "vasya", "c1", "hello")
	s.ResetDailyStats()

	if s.TotalMessages() != 0 {
		t.Error("total not reset")
	}
	for _, b := range s.HourlyActivity() {
		if b.Count != 0 {
			t.Fatalf("bucket %d not reset: %d", b.Hour, b.Count)
		}
	}
	// Rings survive the reset.
	if len(s.UserContext("u1", 10)) != 1 {
		t.Error("user ring was cleared by stats reset")
	}
}
