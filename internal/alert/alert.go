// Package alert persists security events and forwards the serious ones to
// external channels, suppressing repeats per identity and event type.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/store"
)

// Severity ranks security events for alerting.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// SeverityOf maps an event type to its alert severity.
func SeverityOf(t models.SecurityEventType) Severity {
	switch t {
	case models.EventHarmfulContent:
		return SeverityCritical
	case models.EventPromptInjection, models.EventUnsafeLLMOutput:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Alert is the payload delivered to senders.
type Alert struct {
	Type      models.SecurityEventType `json:"type"`
	Severity  string                   `json:"severity"`
	Identity  models.Identity          `json:"identity"`
	Details   string                   `json:"details,omitempty"`
	EventID   string                   `json:"event_id,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// Sender is an alert delivery channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// DefaultDedupWindow suppresses repeat alerts for the same identity and type.
const DefaultDedupWindow = 5 * time.Minute

// Opts configures a Manager.
type Opts struct {
	Log         store.SecurityLogStore
	Senders     []Sender
	DedupWindow time.Duration
	MinSeverity Severity
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Option mutates Opts.
type Option func(*Opts)

// WithLogStore persists every event to the security log.
func WithLogStore(s store.SecurityLogStore) Option {
	return func(o *Opts) { o.Log = s }
}

// WithSender adds a delivery channel.
func WithSender(s Sender) Option {
	return func(o *Opts) {
		if s != nil {
			o.Senders = append(o.Senders, s)
		}
	}
}

// WithDedupWindow sets the repeat suppression window.
// Non-positive values keep DefaultDedupWindow.
func WithDedupWindow(d time.Duration) Option {
	return func(o *Opts) { o.DedupWindow = d }
}

// WithMinSeverity sets the lowest severity that is forwarded to senders.
func WithMinSeverity(s Severity) Option {
	return func(o *Opts) { o.MinSeverity = s }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// Manager is the security-event sink used by the pipeline.
type Manager struct {
	mu     sync.Mutex
	dedup  map[string]time.Time
	wg     sync.WaitGroup
	opts   Opts
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	o := Opts{
		DedupWindow: DefaultDedupWindow,
		MinSeverity: SeverityWarning,
		Clock:       time.Now,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	return &Manager{
		dedup:  make(map[string]time.Time),
		opts:   o,
		logger: o.Logger.With("component", "alert.Manager"),
	}
}

// RecordSecurityEvent persists ev and dispatches an alert when its severity
// qualifies. Only the persistence error is returned; delivery is async.
func (m *Manager) RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	var err error
	if m.opts.Log != nil {
		err = m.opts.Log.RecordSecurityEvent(ctx, ev)
	}

	sev := SeverityOf(ev.Type)
	if sev < m.opts.MinSeverity || len(m.opts.Senders) == 0 {
		return err
	}
	if !m.claim(ev.Identity, ev.Type) {
		m.logger.Debug("Manager.RecordSecurityEvent: alert deduplicated", "identity", ev.Identity, "type", ev.Type)
		return err
	}

	a := Alert{
		Type:      ev.Type,
		Severity:  sev.String(),
		Identity:  ev.Identity,
		Details:   ev.Details,
		EventID:   ev.ID,
		Timestamp: ev.Timestamp,
	}
	for _, s := range m.opts.Senders {
		m.wg.Add(1)
		go func(s Sender) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.Send(sendCtx, a); err != nil {
				m.logger.Error("Manager.RecordSecurityEvent: failed to send alert", "sender", s.Name(), "type", a.Type, "error", err)
			}
		}(s)
	}
	return err
}

// claim reports whether an alert for (id, typ) may be sent now and records it.
func (m *Manager) claim(id models.Identity, typ models.SecurityEventType) bool {
	key := string(typ) + "|" + string(id)
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.dedup[key]; ok && now.Sub(last) < m.opts.DedupWindow {
		return false
	}
	m.dedup[key] = now
	return true
}

// PruneDedup removes expired dedup entries.
func (m *Manager) PruneDedup() int {
	now := m.opts.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, ts := range m.dedup {
		if now.Sub(ts) >= m.opts.DedupWindow {
			delete(m.dedup, key)
			n++
		}
	}
	return n
}

// Run prunes the dedup table until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.DedupWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.PruneDedup(); n > 0 {
				m.logger.Debug("Manager.Run: pruned dedup entries", "count", n)
			}
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// HasSenders reports whether any alert channel is configured.
func (m *Manager) HasSenders() bool {
	return len(m.opts.Senders) > 0
}
