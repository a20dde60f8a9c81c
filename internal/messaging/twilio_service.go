package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/twiliowhatsapp"
)

// SignatureValidator checks an inbound webhook signature.
type SignatureValidator interface {
	Validate(params map[string]string, signature string) bool
}

// TwilioService implements Service on top of the Twilio REST API. Inbound
// messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	eventChannels
	client    twiliowhatsapp.TwilioWhatsAppSender
	validator SignatureValidator
	insecure  bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidator rejects webhooks whose X-Twilio-Signature does not verify.
func WithSignatureValidator(v SignatureValidator) TwilioOption {
	return func(s *TwilioService) { s.validator = v }
}

// WithInsecureWebhook accepts unsigned webhooks when no validator is set.
// Without it, a service with no validator rejects every webhook.
func WithInsecureWebhook() TwilioOption {
	return func(s *TwilioService) { s.insecure = true }
}

// NewTwilioService creates a TwilioService around a real or mock client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		eventChannels: newEventChannels("TwilioService"),
		client:        client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient returns the digits-only form of recipient.
// Twilio's "whatsapp:+62..." addresses canonicalize to the same identity as
// the WhatsApp channel uses.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizePhone(recipient)
	if err == nil && canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, err
}

// Start is a no-op: inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.close()
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits
// them on the Inbound channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.TwilioWebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	switch {
	case s.validator != nil:
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(params, r.Header.Get(twiliowhatsapp.SignatureHeader)) {
			slog.Warn("TwilioService.TwilioWebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	case !s.insecure:
		slog.Warn("TwilioService.TwilioWebhookHandler: no signature validator configured, rejecting", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.TwilioWebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.emitInbound(models.InboundMessage{
		MessageID: r.PostForm.Get("MessageSid"),
		From:      from,
		Body:      body,
		Time:      time.Now().Unix(),
	})

	// An empty TwiML response; the reply goes out through the REST API.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}
