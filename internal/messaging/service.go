// Package messaging connects Kiko to phone-number based chat channels.
//
// Each channel implements Service. The ResponseHandler consumes inbound
// messages from a Service, runs them through the chat service and queues
// the reply for delivery.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

// Channel defaults shared by the implementations.
const (
	// DefaultChannelBufferSize is the buffer size for receipt and inbound channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit may block before the event is dropped.
	DefaultChannelTimeout = 1 * time.Second
	// minPhoneDigits is the shortest number accepted as a recipient.
	minPhoneDigits = 6
)

// ErrServiceStopped is returned when sending on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a phone number and returns
	// its canonical digits-only form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of delivery events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Inbound returns a channel of messages received from users.
	Inbound() <-chan models.InboundMessage
}

// CanonicalizePhone strips every non-digit, so "whatsapp:+62 811-1" and
// "62811 1" map to the same identity.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}
