// Package ratelimit enforces per-identity message quotas for Kiko.
//
// Each identity gets a trailing sixty-second window and a daily counter that
// resets when the calendar date changes. Idle identities are evicted lazily so
// the map does not grow without bound on long-running processes.
package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

// Default limits and housekeeping intervals.
const (
	DefaultPerMinute  = 30
	DefaultPerDay     = 500
	DefaultIdleTTL    = 72 * time.Hour
	DefaultGCInterval = 10 * time.Minute

	window = time.Minute
)

// Reason identifies which quota rejected a request.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonPerMinute Reason = "per_minute"
	ReasonDaily     Reason = "daily"
)

const (
	perMinuteMessage = "Kamu mengirim pesan terlalu cepat. Tunggu sebentar ya! 😊"
	dailyMessageFmt  = "Kamu sudah mencapai batas harian (%d pesan). Coba lagi besok ya! 🌙"
)

// Decision is the outcome of Allow.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Message is the user-facing explanation, empty when Allowed.
	Message string
}

// Stats is a snapshot of an identity's usage.
type Stats struct {
	DailyCount  int `json:"daily_count"`
	DailyLimit  int `json:"daily_limit"`
	MinuteCount int `json:"minute_count"`
	MinuteLimit int `json:"minute_limit"`
}

// Opts holds configuration for a Limiter.
type Opts struct {
	PerMinute  int
	PerDay     int
	IdleTTL    time.Duration
	GCInterval time.Duration
	Location   *time.Location
	Clock      func() time.Time
	Logger     *slog.Logger
}

// Option configures a Limiter.
type Option func(*Opts)

// WithPerMinute sets the number of requests accepted in any trailing minute.
func WithPerMinute(n int) Option {
	return func(o *Opts) { o.PerMinute = n }
}

// WithPerDay sets the number of requests accepted per calendar day.
func WithPerDay(n int) Option {
	return func(o *Opts) { o.PerDay = n }
}

// WithIdleTTL sets how long an identity may stay inactive before eviction.
func WithIdleTTL(d time.Duration) Option {
	return func(o *Opts) { o.IdleTTL = d }
}

// WithGCInterval sets how often idle identities are swept.
func WithGCInterval(d time.Duration) Option {
	return func(o *Opts) { o.GCInterval = d }
}

// WithLocation sets the time zone used to decide calendar-day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

type usage struct {
	stamps     []time.Time
	daily      int
	day        string
	lastActive time.Time
}

// Limiter tracks usage for every identity behind a single mutex.
type Limiter struct {
	mu     sync.Mutex
	usage  map[models.Identity]*usage
	lastGC time.Time
	opts   Opts
	logger *slog.Logger
}

// New creates a Limiter with the given options.
func New(opts ...Option) *Limiter {
	cfg := Opts{
		PerMinute:  DefaultPerMinute,
		PerDay:     DefaultPerDay,
		IdleTTL:    DefaultIdleTTL,
		GCInterval: DefaultGCInterval,
		Location:   time.Local,
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = DefaultPerMinute
	}
	if cfg.PerDay <= 0 {
		cfg.PerDay = DefaultPerDay
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		usage:  make(map[models.Identity]*usage),
		lastGC: cfg.Clock(),
		opts:   cfg,
		logger: logger.With("component", "ratelimit.Limiter"),
	}
}

// Allow checks both quotas for id and, only if both pass, records the request.
// A rejected request does not consume quota.
func (l *Limiter) Allow(id models.Identity) Decision {
	now := l.opts.Clock()
	today := l.dayKey(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usage[id]
	if !ok {
		u = &usage{day: today}
		l.usage[id] = u
	}
	if u.day != today {
		u.daily = 0
		u.day = today
	}
	u.stamps = prune(u.stamps, now)
	u.lastActive = now

	if len(u.stamps) >= l.opts.PerMinute {
		l.logger.Debug("Limiter.Allow: per-minute cap reached", "identity", id, "count", len(u.stamps))
		return Decision{Reason: ReasonPerMinute, Message: perMinuteMessage}
	}
	if u.daily >= l.opts.PerDay {
		l.logger.Debug("Limiter.Allow: daily cap reached", "identity", id, "count", u.daily)
		return Decision{Reason: ReasonDaily, Message: fmt.Sprintf(dailyMessageFmt, l.opts.PerDay)}
	}

	u.stamps = append(u.stamps, now)
	u.daily++

	if l.opts.GCInterval > 0 && now.Sub(l.lastGC) >= l.opts.GCInterval {
		l.gcLocked(now)
		l.lastGC = now
	}
	return Decision{Allowed: true}
}

// Stats reports current usage for id without recording a request.
func (l *Limiter) Stats(id models.Identity) Stats {
	now := l.opts.Clock()
	s := Stats{DailyLimit: l.opts.PerDay, MinuteLimit: l.opts.PerMinute}

	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.usage[id]
	if !ok {
		return s
	}
	if u.day == l.dayKey(now) {
		s.DailyCount = u.daily
	}
	for _, ts := range u.stamps {
		if ts.After(now.Add(-window)) {
			s.MinuteCount++
		}
	}
	return s
}

// Tracked returns the number of identities currently held in memory.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.usage)
}

// Reset forgets all usage for id.
func (l *Limiter) Reset(id models.Identity) {
	l.mu.Lock()
	delete(l.usage, id)
	l.mu.Unlock()
	l.logger.Debug("Limiter.Reset: usage cleared", "identity", id)
}

func (l *Limiter) dayKey(t time.Time) string {
	return t.In(l.opts.Location).Format("2006-01-02")
}

// prune keeps only timestamps strictly after now-window. Timestamps are
// appended in order so the first one inside the window marks the cut.
func prune(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

// gcLocked evicts identities idle for longer than IdleTTL. Must be called
// with l.mu held.
func (l *Limiter) gcLocked(now time.Time) {
	if l.opts.IdleTTL <= 0 {
		return
	}
	evicted := 0
	for id, u := range l.usage {
		if now.Sub(u.lastActive) > l.opts.IdleTTL {
			delete(l.usage, id)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.Debug("Limiter.gc: evicted idle identities", "evicted", evicted, "active", len(l.usage))
	}
}
