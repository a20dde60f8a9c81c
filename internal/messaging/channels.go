package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

// eventChannels holds the receipt and inbound channels of a Service and
// makes emitting after Stop a no-op instead of a panic.
type eventChannels struct {
	name     string
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
	mu       sync.RWMutex
	stopped  bool
}

func newEventChannels(name string) eventChannels {
	return eventChannels{
		name:     name,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// Receipts returns the channel of delivery events.
func (c *eventChannels) Receipts() <-chan models.Receipt {
	return c.receipts
}

// Inbound returns the channel of messages received from users.
func (c *eventChannels) Inbound() <-chan models.InboundMessage {
	return c.inbound
}

func (c *eventChannels) isStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}

// close marks the channels stopped and closes them. The write lock waits for
// in-flight emits, which hold the read lock.
func (c *eventChannels) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	close(c.receipts)
	close(c.inbound)
	return true
}

func (c *eventChannels) emitReceipt(r models.Receipt) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return
	}
	select {
	case c.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+": receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}

func (c *eventChannels) emitInbound(m models.InboundMessage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		slog.Warn(c.name+": dropping inbound message, service stopped", "from", m.From)
		return
	}
	select {
	case c.inbound <- m:
		slog.Debug(c.name+": inbound message forwarded", "from", m.From, "body_length", len(m.Body))
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(c.name+": inbound channel blocked, dropping message", "from", m.From, "timeout", DefaultChannelTimeout)
	}
}
