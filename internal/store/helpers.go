package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/Kiko/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const outboxColumns = `id, recipient, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.Recipient, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

func scanAppointment(row rowScanner) (models.Appointment, error) {
	var a models.Appointment
	var identity, apptTime sql.NullString
	if err := row.Scan(&a.ID, &identity, &a.PatientName, &a.Contact, &a.DoctorRef, &a.Date, &apptTime, &a.CreatedAt); err != nil {
		return a, fmt.Errorf("scan appointment failed: %w", err)
	}
	a.Identity = models.Identity(identity.String)
	a.Time = apptTime.String
	return a, nil
}

func scanChatRecord(row rowScanner) (models.ChatRecord, error) {
	var r models.ChatRecord
	var intent sql.NullString
	if err := row.Scan(&r.ID, &r.Identity, &r.Message, &r.Response, &intent, &r.Timestamp); err != nil {
		return r, fmt.Errorf("scan chat record failed: %w", err)
	}
	r.Intent = models.Intent(intent.String)
	return r, nil
}

func scanSecurityEvent(row rowScanner) (models.SecurityEvent, error) {
	var ev models.SecurityEvent
	var details sql.NullString
	if err := row.Scan(&ev.ID, &ev.Identity, &ev.Type, &details, &ev.Timestamp); err != nil {
		return ev, fmt.Errorf("scan security event failed: %w", err)
	}
	ev.Details = details.String
	return ev, nil
}

// encodeState serializes the state blob kept in conversation_state.
func encodeState(st models.ConversationState) (string, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal conversation state failed: %w", err)
	}
	return string(b), nil
}

func decodeState(id models.Identity, data string) (models.ConversationState, error) {
	var st models.ConversationState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return models.ConversationState{Identity: id}, fmt.Errorf("unmarshal conversation state failed: %w", err)
	}
	st.Identity = id
	return st, nil
}
