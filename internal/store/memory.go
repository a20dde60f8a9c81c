package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

// InMemoryStore keeps everything in process memory. It backs tests and
// deployments without a database; nothing survives a restart.
type InMemoryStore struct {
	mu           sync.RWMutex
	appointments []models.Appointment
	chats        []models.ChatRecord
	events       []models.SecurityEvent
	states       map[models.Identity]models.ConversationState
	dedup        map[string]*DedupRecord
	outbox       map[string]*OutboxMessage
	outboxOrder  []string
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states: make(map[models.Identity]models.ConversationState),
		dedup:  make(map[string]*DedupRecord),
		outbox: make(map[string]*OutboxMessage),
	}
}

func (s *InMemoryStore) RecordAppointment(ctx context.Context, a *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	s.appointments = append(s.appointments, *a)
	return nil
}

func (s *InMemoryStore) ListAppointments(ctx context.Context, id models.Identity, limit int) ([]models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit)
	var out []models.Appointment
	for i := len(s.appointments) - 1; i >= 0 && len(out) < limit; i-- {
		if id == "" || s.appointments[i].Identity == id {
			out = append(out, s.appointments[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) AppendChat(ctx context.Context, r *models.ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.chats = append(s.chats, *r)
	return nil
}

func (s *InMemoryStore) ChatHistory(ctx context.Context, id models.Identity, limit int) ([]models.ChatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit)
	var out []models.ChatRecord
	for i := len(s.chats) - 1; i >= 0 && len(out) < limit; i-- {
		if s.chats[i].Identity == id {
			out = append(out, s.chats[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.events = append(s.events, *ev)
	return nil
}

func (s *InMemoryStore) SecurityEvents(ctx context.Context, id models.Identity, limit int) ([]models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampLimit(limit)
	var out []models.SecurityEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if id == "" || s.events[i].Identity == id {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) GetState(ctx context.Context, id models.Identity) (models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[id]; ok {
		return st, nil
	}
	return models.ConversationState{Identity: id}, nil
}

func (s *InMemoryStore) SaveState(ctx context.Context, st models.ConversationState) error {
	if err := st.Identity.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	s.states[st.Identity] = st
	return nil
}

func (s *InMemoryStore) ClearState(ctx context.Context, id models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.dedup[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) PurgeDedupBefore(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.dedup {
		if r.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(ctx context.Context, recipient, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, id := range s.outboxOrder {
			m := s.outbox[id]
			if m.DedupeKey == dedupeKey && !m.Status.terminal() {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := &OutboxMessage{
		ID:          newID(),
		Recipient:   recipient,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox[m.ID] = m
	s.outboxOrder = append(s.outboxOrder, m.ID)
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxMessage
	for _, id := range s.outboxOrder {
		if len(out) >= limit {
			break
		}
		m := s.outbox[id]
		if m.Status != OutboxStatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
	})
}

func (s *InMemoryStore) FailOutboxMessage(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		next := nextAttemptAt
		m.NextAttemptAt = &next
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) AbandonOutboxMessage(ctx context.Context, id, errMsg string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusFailed
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetOutboxMessage(ctx context.Context, id string) (*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.outbox[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) updateOutbox(id string, fn func(m *OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return models.ErrNotFound
	}
	fn(m)
	m.UpdatedAt = time.Now()
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
