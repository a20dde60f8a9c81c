package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/Kiko/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the single-node relational backend.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; serializing through one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordAppointment(ctx context.Context, a *models.Appointment) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, identity, patient_name, contact, doctor_id, appt_date, appt_time, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nilIfEmpty(string(a.Identity)), a.PatientName, a.Contact, a.DoctorRef, a.Date, nilIfEmpty(a.Time), a.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore RecordAppointment failed", "error", err, "doctor", a.DoctorRef)
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	slog.Debug("SQLiteStore RecordAppointment succeeded", "id", a.ID, "doctor", a.DoctorRef)
	return nil
}

func (s *SQLiteStore) ListAppointments(ctx context.Context, id models.Identity, limit int) ([]models.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, patient_name, contact, doctor_id, appt_date, appt_time, created_at FROM appointments
		 WHERE (? = '' OR identity = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(id), string(id), clampLimit(limit),
	)
	if err != nil {
		slog.Error("SQLiteStore ListAppointments query failed", "error", err)
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendChat(ctx context.Context, r *models.ChatRecord) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (id, identity, message, response, intent, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Identity), r.Message, r.Response, nilIfEmpty(string(r.Intent)), r.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore AppendChat failed", "error", err, "identity", r.Identity)
		return fmt.Errorf("failed to insert chat record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ChatHistory(ctx context.Context, id models.Identity, limit int) ([]models.ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, message, response, intent, created_at FROM chat_history
		 WHERE identity = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(id), clampLimit(limit),
	)
	if err != nil {
		slog.Error("SQLiteStore ChatHistory query failed", "error", err)
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var out []models.ChatRecord
	for rows.Next() {
		r, err := scanChatRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_log (id, identity, event_type, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Identity), string(ev.Type), nilIfEmpty(ev.Details), ev.Timestamp,
	)
	if err != nil {
		slog.Error("SQLiteStore RecordSecurityEvent failed", "error", err, "type", ev.Type)
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SecurityEvents(ctx context.Context, id models.Identity, limit int) ([]models.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, event_type, details, created_at FROM security_log
		 WHERE (? = '' OR identity = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		string(id), string(id), clampLimit(limit),
	)
	if err != nil {
		slog.Error("SQLiteStore SecurityEvents query failed", "error", err)
		return nil, fmt.Errorf("failed to query security log: %w", err)
	}
	defer rows.Close()

	var out []models.SecurityEvent
	for rows.Next() {
		ev, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetState(ctx context.Context, id models.Identity) (models.ConversationState, error) {
	st := models.ConversationState{Identity: id}
	var pending string
	err := s.db.QueryRowContext(ctx,
		`SELECT pending, updated_at FROM conversation_state WHERE identity = ?`, string(id),
	).Scan(&pending, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetState failed", "error", err, "identity", id)
		return st, fmt.Errorf("failed to load conversation state: %w", err)
	}
	st.Pending = models.PendingIntent(pending)
	return st, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, st models.ConversationState) error {
	if err := st.Identity.Validate(); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_state (identity, pending, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET pending = excluded.pending, updated_at = excluded.updated_at`,
		string(st.Identity), string(st.Pending), st.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveState failed", "error", err, "identity", st.Identity)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearState(ctx context.Context, id models.Identity) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_state WHERE identity = ?`, string(id)); err != nil {
		slog.Error("SQLiteStore ClearState failed", "error", err, "identity", id)
		return fmt.Errorf("failed to clear conversation state: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
