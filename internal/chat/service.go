// Package chat runs one conversational turn: screen the message, answer it
// from the rule engine or the language model, and record the exchange.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/Kiko/internal/guard"
	"github.com/BTreeMap/Kiko/internal/metrics"
	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/store"
)

// FallbackReply is sent when no rule matches and the model cannot answer.
const FallbackReply = "Maaf, saya belum bisa menjawab pertanyaan tersebut. Silakan hubungi staf RS untuk informasi lebih lanjut."

// Screener is the security pipeline.
type Screener interface {
	ScreenInput(ctx context.Context, text string, id models.Identity) models.SecurityVerdict
	ScreenOutput(ctx context.Context, text string, id models.Identity) guard.OutputResult
}

// Matcher is the rule-based intent engine.
type Matcher interface {
	Match(ctx context.Context, text string, state models.ConversationState) (*models.IntentReply, models.ConversationState)
}

// Generator produces free-form replies.
type Generator interface {
	Reply(ctx context.Context, userText string) (string, error)
}

// Opts configures a Service.
type Opts struct {
	LLM     Generator
	History store.ChatHistoryStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Option mutates Opts.
type Option func(*Opts)

// WithLLM enables the model path for unmatched messages.
func WithLLM(g Generator) Option { return func(o *Opts) { o.LLM = g } }

// WithHistory records every answered turn.
func WithHistory(h store.ChatHistoryStore) Option { return func(o *Opts) { o.History = h } }

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Opts) { o.Metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Opts) { o.Logger = l } }

// WithClock sets the time source used to stamp saved state.
func WithClock(now func() time.Time) Option { return func(o *Opts) { o.Clock = now } }

// Service handles chat turns from every channel.
type Service struct {
	screener Screener
	engine   Matcher
	states   store.StateStore
	locks    *identityLocks
	opts     Opts
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(screener Screener, engine Matcher, states store.StateStore, opts ...Option) *Service {
	o := Opts{Logger: slog.Default(), Clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return &Service{
		screener: screener,
		engine:   engine,
		states:   states,
		locks:    newIdentityLocks(),
		opts:     o,
		logger:   o.Logger.With("component", "chat.Service"),
	}
}

// Handle answers text from id. Blocked messages get intent
// security_blocked and leave the conversation state untouched.
func (s *Service) Handle(ctx context.Context, id models.Identity, text string) (models.IntentReply, error) {
	if err := id.Validate(); err != nil {
		return models.IntentReply{}, err
	}
	release := s.locks.lock(id)
	defer release()

	s.logger.Debug("Service.Handle: message received", "identity", id, "chars", len([]rune(text)), "preview", preview(text))

	verdict := s.screener.ScreenInput(ctx, text, id)
	if !verdict.Allowed {
		reply := models.IntentReply{Intent: models.IntentSecurityBlocked, Reply: verdict.Response}
		s.opts.Metrics.Reply(string(reply.Intent))
		return reply, nil
	}

	state, err := s.states.GetState(ctx, id)
	if err != nil {
		s.logger.Error("Service.Handle: failed to load conversation state", "identity", id, "error", err)
		state = models.ConversationState{Identity: id}
	}

	// Rules see the screened original text; the model and the history see the redacted one.
	ruleReply, next := s.engine.Match(ctx, text, state)
	// A re-armed pending intent is saved too, so its timestamp and TTL restart.
	if next.Pending != models.PendingNone || state.Pending != models.PendingNone {
		s.saveState(ctx, next)
	}

	var reply models.IntentReply
	if ruleReply != nil {
		reply = ruleReply.WithDisclaimer(verdict.Disclaimer)
	} else {
		reply = s.generate(ctx, id, verdict)
	}

	s.record(ctx, id, verdict.SanitizedText, reply)
	s.opts.Metrics.Reply(string(reply.Intent))
	s.logger.Info("Service.Handle: replied", "identity", id, "intent", reply.Intent)
	return reply, nil
}

func (s *Service) generate(ctx context.Context, id models.Identity, verdict models.SecurityVerdict) models.IntentReply {
	fallback := models.IntentReply{Intent: models.IntentFallback, Reply: FallbackReply}
	if s.opts.LLM == nil {
		return fallback
	}
	out, err := s.opts.LLM.Reply(ctx, verdict.SanitizedText)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("Service.generate: model unavailable, using fallback", "identity", id, "error", err)
		}
		return fallback
	}
	checked := s.screener.ScreenOutput(ctx, out, id)
	return models.IntentReply{Intent: models.IntentLLM, Reply: checked.Text}.WithDisclaimer(verdict.Disclaimer)
}

func (s *Service) saveState(ctx context.Context, st models.ConversationState) {
	st.UpdatedAt = s.opts.Clock()
	var err error
	if st.Pending == models.PendingNone {
		err = s.states.ClearState(ctx, st.Identity)
	} else {
		err = s.states.SaveState(ctx, st)
	}
	if err != nil {
		s.logger.Error("Service.saveState: failed to persist conversation state", "identity", st.Identity, "pending", st.Pending, "error", err)
	}
}

func (s *Service) record(ctx context.Context, id models.Identity, message string, reply models.IntentReply) {
	if s.opts.History == nil {
		return
	}
	rec := &models.ChatRecord{Identity: id, Message: message, Response: reply.Reply, Intent: reply.Intent}
	if err := s.opts.History.AppendChat(ctx, rec); err != nil {
		s.logger.Error("Service.record: failed to append chat history", "identity", id, "error", err)
	}
}

// preview truncates text to 50 runes for debug logs.
func preview(text string) string {
	r := []rune(text)
	if len(r) <= 50 {
		return text
	}
	return string(r[:50]) + "..."
}
