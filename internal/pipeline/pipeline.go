// Package pipeline sequences Kiko's inbound safety screens and the output
// sanitizer, and reports every security-relevant decision to an event sink.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Kiko/internal/guard"
	"github.com/BTreeMap/Kiko/internal/metrics"
	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/ratelimit"
)

// Limiter is the per-identity quota check.
type Limiter interface {
	Allow(id models.Identity) ratelimit.Decision
}

// EventSink receives security events. Failures are logged and never change
// the verdict.
type EventSink interface {
	RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev *models.SecurityEvent) error

// RecordSecurityEvent implements EventSink.
func (f SinkFunc) RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	return f(ctx, ev)
}

// Opts configures a Pipeline.
type Opts struct {
	MaxInputLength int
	Sink           EventSink
	Moderator      *guard.ContentModerator
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Clock          func() time.Time
}

// Option mutates Opts.
type Option func(*Opts)

// WithMaxInputLength sets the length cap in characters.
func WithMaxInputLength(n int) Option {
	return func(o *Opts) { o.MaxInputLength = n }
}

// WithSink sets the security-event sink.
func WithSink(s EventSink) Option {
	return func(o *Opts) { o.Sink = s }
}

// WithModerator replaces the default content moderator.
func WithModerator(m *guard.ContentModerator) Option {
	return func(o *Opts) { o.Moderator = m }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Opts) { o.Logger = l }
}

// WithClock sets the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// SecurityPipeline runs rate limit, length, injection and moderation checks
// in that order, stopping at the first block, then redacts PII.
type SecurityPipeline struct {
	limiter   Limiter
	injection *guard.InjectionDetector
	moderator *guard.ContentModerator
	pii       *guard.PiiGuard
	output    *guard.OutputSanitizer
	opts      Opts
	logger    *slog.Logger
}

// New creates a SecurityPipeline around limiter.
func New(limiter Limiter, opts ...Option) *SecurityPipeline {
	o := Opts{
		MaxInputLength: models.DefaultMaxInputLength,
		Logger:         slog.Default(),
		Clock:          time.Now,
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
	if o.Moderator == nil {
		o.Moderator = guard.NewContentModerator(guard.WithModeratorLogger(o.Logger))
	}
	return &SecurityPipeline{
		limiter:   limiter,
		injection: guard.NewInjectionDetector(o.Logger),
		moderator: o.Moderator,
		pii:       guard.NewPiiGuard(),
		output:    guard.NewOutputSanitizer(o.Logger),
		opts:      o,
		logger:    o.Logger.With("component", "pipeline.SecurityPipeline"),
	}
}

// ScreenInput screens one inbound message for id. A blocked verdict never
// carries the input text.
func (p *SecurityPipeline) ScreenInput(ctx context.Context, text string, id models.Identity) models.SecurityVerdict {
	if d := p.limiter.Allow(id); !d.Allowed {
		return p.block(ctx, id, models.BlockRateLimit, models.EventRateLimit, string(d.Reason), d.Message)
	}

	if r := guard.ValidateLength(text, p.opts.MaxInputLength); !r.Valid {
		return p.block(ctx, id, models.BlockLengthExceeded, models.EventLengthExceeded, "", r.Reason)
	}

	if r := p.injection.Detect(text); r.Detected {
		return p.block(ctx, id, models.BlockInjection, models.EventPromptInjection, r.Pattern, r.Response)
	}

	mod := p.moderator.Moderate(text)
	if !mod.Safe {
		return p.block(ctx, id, models.BlockHarmful, models.EventHarmfulContent, string(mod.Category), mod.Response)
	}

	verdict := models.SecurityVerdict{
		Allowed:       true,
		SanitizedText: text,
		Disclaimer:    mod.Disclaimer,
	}
	if kinds := p.pii.Detect(text); len(kinds) > 0 {
		verdict.PIIFound = kinds
		verdict.SanitizedText = p.pii.Redact(text)
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
			p.opts.Metrics.PIIDetected(names[i])
		}
		p.logger.Info("SecurityPipeline.ScreenInput: PII redacted", "identity", id, "types", names)
		p.emit(ctx, id, models.EventPIIDetected, "Types: "+strings.Join(names, ", "))
	}

	p.opts.Metrics.Screened("allowed")
	return verdict
}

// ScreenOutput sanitizes a model reply produced for id.
func (p *SecurityPipeline) ScreenOutput(ctx context.Context, text string, id models.Identity) guard.OutputResult {
	r := p.output.Sanitize(text)
	if !r.Safe {
		p.opts.Metrics.UnsafeOutput()
		p.emit(ctx, id, models.EventUnsafeLLMOutput, "Output sanitized")
	}
	return r
}

// Redact masks PII in text that reaches a reply without going through
// ScreenInput's redaction, such as fragments the intent engine echoes back.
func (p *SecurityPipeline) Redact(text string) string {
	return p.pii.Redact(text)
}

func (p *SecurityPipeline) block(ctx context.Context, id models.Identity, reason models.BlockReason, ev models.SecurityEventType, detail, response string) models.SecurityVerdict {
	p.logger.Warn("SecurityPipeline.ScreenInput: blocked", "identity", id, "reason", reason, "detail", detail)
	p.opts.Metrics.Screened("blocked")
	p.opts.Metrics.Blocked(string(reason))
	p.emit(ctx, id, ev, detail)
	return models.SecurityVerdict{
		BlockReason: reason,
		Response:    response,
		Detail:      detail,
	}
}

func (p *SecurityPipeline) emit(ctx context.Context, id models.Identity, typ models.SecurityEventType, details string) {
	if p.opts.Sink == nil {
		return
	}
	ev := &models.SecurityEvent{
		Identity:  id,
		Type:      typ,
		Details:   details,
		Timestamp: p.opts.Clock(),
	}
	if err := p.opts.Sink.RecordSecurityEvent(ctx, ev); err != nil {
		p.logger.Error("SecurityPipeline.emit: failed to record security event", "identity", id, "type", typ, "error", err)
	}
}
