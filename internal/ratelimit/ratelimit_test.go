package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(clock *fakeClock, opts ...Option) *Limiter {
	base := []Option{WithClock(clock.Now), WithLocation(time.UTC)}
	return New(append(base, opts...)...)
}

func TestAllow_PerMinuteCap(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock)
	id := models.Identity("budi")

	for i := 0; i < DefaultPerMinute; i++ {
		if d := l.Allow(id); !d.Allowed {
			t.Fatalf("request %d rejected early: %+v", i+1, d)
		}
		clock.Advance(time.Second)
	}

	d := l.Allow(id)
	if d.Allowed {
		t.Fatal("expected 31st request within a minute to be rejected")
	}
	if d.Reason != ReasonPerMinute {
		t.Errorf("expected reason %q, got %q", ReasonPerMinute, d.Reason)
	}
	if d.Message == "" {
		t.Error("expected a user-facing message on rejection")
	}

	// The first stamp was at +0s; at exactly +60s it is no longer strictly inside the window.
	clock.Advance(30 * time.Second)
	if d := l.Allow(id); !d.Allowed {
		t.Fatalf("expected request to be accepted after the oldest stamp left the window, got %+v", d)
	}
}

func TestAllow_RejectionDoesNotConsume(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock, WithPerMinute(2))
	id := models.Identity("sari")

	l.Allow(id)
	l.Allow(id)
	for i := 0; i < 5; i++ {
		if d := l.Allow(id); d.Allowed {
			t.Fatal("expected rejection")
		}
	}
	s := l.Stats(id)
	if s.MinuteCount != 2 || s.DailyCount != 2 {
		t.Errorf("rejected requests consumed quota: %+v", s)
	}
}

func TestAllow_DailyCapAndRollover(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 0, 0, 1, 0, time.UTC))
	l := newTestLimiter(clock)
	id := models.Identity("andi")

	for i := 0; i < DefaultPerDay; i++ {
		if d := l.Allow(id); !d.Allowed {
			t.Fatalf("request %d rejected early: %+v", i+1, d)
		}
		clock.Advance(3 * time.Second)
	}

	d := l.Allow(id)
	if d.Allowed || d.Reason != ReasonDaily {
		t.Fatalf("expected daily rejection for request 501, got %+v", d)
	}

	// Still the same day a few hours later.
	clock.Advance(5 * time.Hour)
	if d := l.Allow(id); d.Allowed {
		t.Fatal("daily counter reset before the date changed")
	}

	clock.Advance(24 * time.Hour)
	if d := l.Allow(id); !d.Allowed {
		t.Fatalf("expected acceptance after day rollover, got %+v", d)
	}
	if s := l.Stats(id); s.DailyCount != 1 {
		t.Errorf("expected daily count 1 after rollover, got %d", s.DailyCount)
	}
}

func TestAllow_IdentitiesAreIndependent(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock, WithPerMinute(1))

	if !l.Allow("a").Allowed {
		t.Fatal("expected first request for a to pass")
	}
	if l.Allow("a").Allowed {
		t.Fatal("expected second request for a to fail")
	}
	if !l.Allow("b").Allowed {
		t.Fatal("identity b was affected by identity a")
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock)

	s := l.Stats("nobody")
	if s.DailyLimit != DefaultPerDay || s.MinuteLimit != DefaultPerMinute || s.DailyCount != 0 {
		t.Errorf("unexpected stats for unknown identity: %+v", s)
	}

	l.Allow("x")
	l.Allow("x")
	clock.Advance(2 * time.Minute)
	l.Allow("x")

	s = l.Stats("x")
	if s.DailyCount != 3 {
		t.Errorf("expected daily count 3, got %d", s.DailyCount)
	}
	if s.MinuteCount != 1 {
		t.Errorf("expected minute count 1, got %d", s.MinuteCount)
	}
}

func TestIdleEviction(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock, WithIdleTTL(time.Hour), WithGCInterval(time.Minute))

	l.Allow("old")
	clock.Advance(2 * time.Hour)
	l.Allow("new")

	if n := l.Tracked(); n != 1 {
		t.Errorf("expected idle identity to be evicted, tracked=%d", n)
	}
}

func TestReset(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock, WithPerMinute(1))
	l.Allow("x")
	l.Reset("x")
	if !l.Allow("x").Allowed {
		t.Error("expected request to pass after reset")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 12, 30, 10, 0, 0, 0, time.UTC))
	l := newTestLimiter(clock, WithPerMinute(50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared").Allowed {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 50 {
		t.Errorf("expected exactly 50 accepted requests, got %d", accepted)
	}
}
