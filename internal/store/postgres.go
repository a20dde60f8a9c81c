package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/Kiko/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the multi-instance relational backend.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RecordAppointment(ctx context.Context, a *models.Appointment) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO appointments (id, identity, patient_name, contact, doctor_id, appt_date, appt_time, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, nilIfEmpty(string(a.Identity)), a.PatientName, a.Contact, a.DoctorRef, a.Date, nilIfEmpty(a.Time), a.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore RecordAppointment failed", "error", err, "doctor", a.DoctorRef)
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	slog.Debug("PostgresStore RecordAppointment succeeded", "id", a.ID, "doctor", a.DoctorRef)
	return nil
}

func (s *PostgresStore) ListAppointments(ctx context.Context, id models.Identity, limit int) ([]models.Appointment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, patient_name, contact, doctor_id, appt_date, appt_time, created_at FROM appointments
		 WHERE ($1 = '' OR identity = $1) ORDER BY created_at DESC, id DESC LIMIT $2`,
		string(id), clampLimit(limit),
	)
	if err != nil {
		slog.Error("PostgresStore ListAppointments query failed", "error", err)
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

func (s *PostgresStore) AppendChat(ctx context.Context, r *models.ChatRecord) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_history (id, identity, message, response, intent, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, string(r.Identity), r.Message, r.Response, nilIfEmpty(string(r.Intent)), r.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore AppendChat failed", "error", err, "identity", r.Identity)
		return fmt.Errorf("failed to insert chat record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChatHistory(ctx context.Context, id models.Identity, limit int) ([]models.ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, message, response, intent, created_at FROM chat_history
		 WHERE identity = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		string(id), clampLimit(limit),
	)
	if err != nil {
		slog.Error("PostgresStore ChatHistory query failed", "error", err)
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

func (s *PostgresStore) RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_log (id, identity, event_type, details, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, string(ev.Identity), string(ev.Type), nilIfEmpty(ev.Details), ev.Timestamp,
	)
	if err != nil {
		slog.Error("PostgresStore RecordSecurityEvent failed", "error", err, "type", ev.Type)
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

func (s *PostgresStore) SecurityEvents(ctx context.Context, id models.Identity, limit int) ([]models.SecurityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, event_type, details, created_at FROM security_log
		 WHERE ($1 = '' OR identity = $1) ORDER BY created_at DESC, id DESC LIMIT $2`,
		string(id), clampLimit(limit),
	)
	if err != nil {
		slog.Error("PostgresStore SecurityEvents query failed", "error", err)
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

func (s *PostgresStore) GetState(ctx context.Context, id models.Identity) (models.ConversationState, error) {
	st := models.ConversationState{Identity: id}
	var pending string
	err := s.db.QueryRowContext(ctx,
		`SELECT pending, updated_at FROM conversation_state WHERE identity = $1`, string(id),
	).Scan(&pending, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetState failed", "error", err, "identity", id)
		return st, fmt.Errorf("failed to load conversation state: %w", err)
	}
	st.Pending = models.PendingIntent(pending)
	return st, nil
}

func (s *PostgresStore) SaveState(ctx context.Context, st models.ConversationState) error {
	if err := st.Identity.Validate(); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_state (identity, pending, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (identity) DO UPDATE SET pending = EXCLUDED.pending, updated_at = EXCLUDED.updated_at`,
		string(st.Identity), string(st.Pending), st.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveState failed", "error", err, "identity", st.Identity)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearState(ctx context.Context, id models.Identity) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_state WHERE identity = $1`, string(id)); err != nil {
		slog.Error("PostgresStore ClearState failed", "error", err, "identity", id)
		return fmt.Errorf("failed to clear conversation state: %w", err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
