package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/store"
)

// OutboxKindText is the outbox kind suffix for plain-text replies.
const OutboxKindText = "text"

// DefaultChannel names the channel when none is configured.
const DefaultChannel = "whatsapp"

// DefaultWorkers is how many inbound messages are answered concurrently.
const DefaultWorkers = 4

// errorReply is sent when a turn fails outright.
const errorReply = "⚠️ Maaf, terjadi gangguan saat memproses pesan Anda. Silakan coba lagi beberapa saat lagi."

// ChatHandler answers one chat turn.
type ChatHandler interface {
	Handle(ctx context.Context, id models.Identity, text string) (models.IntentReply, error)
}

// textPayload is the outbox payload for OutboxKindText.
type textPayload struct {
	Body string `json:"body"`
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithDedup drops inbound messages whose channel message ID was already seen.
func WithDedup(d store.DedupRepo) HandlerOption {
	return func(rh *ResponseHandler) { rh.dedup = d }
}

// WithOutbox queues replies in the outbox instead of sending them inline.
func WithOutbox(o store.OutboxRepo) HandlerOption {
	return func(rh *ResponseHandler) { rh.outbox = o }
}

// WithChannel names the channel so queued replies go back out through it.
func WithChannel(name string) HandlerOption {
	return func(rh *ResponseHandler) {
		if name != "" {
			rh.channel = name
		}
	}
}

// OutboxKind is the outbox kind for text replies on channel.
func OutboxKind(channel string) string {
	return channel + ":" + OutboxKindText
}

// WithWorkers sets how many messages are handled concurrently.
func WithWorkers(n int) HandlerOption {
	return func(rh *ResponseHandler) {
		if n > 0 {
			rh.workers = n
		}
	}
}

// ResponseHandler answers inbound channel messages through the chat service.
// The sender's canonical phone number is the chat identity.
type ResponseHandler struct {
	msgService Service
	chat       ChatHandler
	channel    string
	dedup      store.DedupRepo
	outbox     store.OutboxRepo
	workers    int
	wg         sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler for one channel.
func NewResponseHandler(msgService Service, chat ChatHandler, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{msgService: msgService, chat: chat, channel: DefaultChannel, workers: DefaultWorkers}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessResponse answers one inbound message.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: invalid sender", "error", err, "from", msg.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	if rh.dedup != nil && msg.MessageID != "" {
		fresh, err := rh.dedup.RecordInbound(ctx, msg.MessageID, canonicalFrom)
		if err != nil {
			slog.Error("ResponseHandler.ProcessResponse: dedup check failed, processing anyway", "error", err, "message_id", msg.MessageID)
		} else if !fresh {
			slog.Debug("ResponseHandler.ProcessResponse: duplicate message dropped", "message_id", msg.MessageID, "from", canonicalFrom)
			return nil
		}
	}

	reply, err := rh.chat.Handle(ctx, models.Identity(canonicalFrom), msg.Body)
	if err != nil {
		slog.Error("ResponseHandler.ProcessResponse: chat turn failed", "error", err, "from", canonicalFrom)
		if sendErr := rh.deliver(ctx, canonicalFrom, errorReply, msg.MessageID); sendErr != nil {
			slog.Error("ResponseHandler.ProcessResponse: failed to send error message", "error", sendErr, "from", canonicalFrom)
		}
		return fmt.Errorf("chat turn failed: %w", err)
	}

	if err := rh.deliver(ctx, canonicalFrom, reply.Reply, msg.MessageID); err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}

	if rh.dedup != nil && msg.MessageID != "" {
		if err := rh.dedup.MarkProcessed(ctx, msg.MessageID); err != nil {
			slog.Warn("ResponseHandler.ProcessResponse: failed to mark processed", "error", err, "message_id", msg.MessageID)
		}
	}
	slog.Info("ResponseHandler.ProcessResponse: replied", "from", canonicalFrom, "intent", reply.Intent)
	return nil
}

// deliver queues body in the outbox, or sends it inline without one.
// The outbox dedupe key ties the reply to the inbound message so a
// redelivered message never produces two replies.
func (rh *ResponseHandler) deliver(ctx context.Context, to, body, messageID string) error {
	if rh.outbox == nil {
		return rh.msgService.SendMessage(ctx, to, body)
	}
	payload, err := json.Marshal(textPayload{Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode reply: %w", err)
	}
	dedupeKey := ""
	if messageID != "" {
		dedupeKey = "reply:" + messageID
	}
	if _, err := rh.outbox.EnqueueOutboxMessage(ctx, to, OutboxKind(rh.channel), string(payload), dedupeKey); err != nil {
		return fmt.Errorf("failed to enqueue reply: %w", err)
	}
	return nil
}

// Start consumes the service's inbound and receipt channels until ctx is
// cancelled or the service is stopped.
func (rh *ResponseHandler) Start(ctx context.Context) {
	sem := make(chan struct{}, rh.workers)

	rh.wg.Add(2)
	go func() {
		defer rh.wg.Done()
		for {
			select {
			case msg, ok := <-rh.msgService.Inbound():
				if !ok {
					slog.Debug("ResponseHandler.Start: inbound channel closed")
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				rh.wg.Add(1)
				go func(m models.InboundMessage) {
					defer rh.wg.Done()
					defer func() { <-sem }()
					if err := rh.ProcessResponse(ctx, m); err != nil {
						slog.Error("ResponseHandler.Start: failed to process message", "error", err, "from", m.From)
					}
				}(msg)
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer rh.wg.Done()
		for {
			select {
			case r, ok := <-rh.msgService.Receipts():
				if !ok {
					return
				}
				slog.Debug("ResponseHandler.Start: receipt", "to", r.To, "status", r.Status)
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("ResponseHandler.Start: processing inbound messages", "workers", rh.workers)
}

// Wait blocks until Start's goroutines and in-flight messages finish.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

// OutboxSendFunc delivers queued replies through the service registered for
// the message's channel.
func OutboxSendFunc(services map[string]Service) store.OutboxSendFunc {
	return func(ctx context.Context, m store.OutboxMessage) error {
		channel, kind, ok := strings.Cut(m.Kind, ":")
		if !ok || kind != OutboxKindText {
			return fmt.Errorf("unsupported outbox kind %q", m.Kind)
		}
		svc, ok := services[channel]
		if !ok {
			return fmt.Errorf("no service for channel %q", channel)
		}
		var p textPayload
		if err := json.Unmarshal([]byte(m.PayloadJSON), &p); err != nil {
			return fmt.Errorf("failed to decode outbox payload: %w", err)
		}
		return svc.SendMessage(ctx, m.Recipient, p.Body)
	}
}
