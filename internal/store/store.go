// Package store provides storage backends for Kiko.
//
// It persists appointments, chat history, the security log, per-identity
// conversation state, inbound message deduplication records, and the outbox
// of channel replies. Backends: in-memory, SQLite, PostgreSQL, and Redis for
// conversation state only.
package store

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/BTreeMap/Kiko/internal/models"
)

// Default and maximum page sizes for list queries.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// AppointmentStore persists bookings.
type AppointmentStore interface {
	RecordAppointment(ctx context.Context, a *models.Appointment) error
	ListAppointments(ctx context.Context, id models.Identity, limit int) ([]models.Appointment, error)
}

// ChatHistoryStore persists chat turns.
type ChatHistoryStore interface {
	AppendChat(ctx context.Context, r *models.ChatRecord) error
	ChatHistory(ctx context.Context, id models.Identity, limit int) ([]models.ChatRecord, error)
}

// SecurityLogStore persists security events. An empty identity lists events
// for every identity.
type SecurityLogStore interface {
	RecordSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error
	SecurityEvents(ctx context.Context, id models.Identity, limit int) ([]models.SecurityEvent, error)
}

// StateStore persists the conversation state between turns. GetState returns
// an empty state for identities it has never seen.
type StateStore interface {
	GetState(ctx context.Context, id models.Identity) (models.ConversationState, error)
	SaveState(ctx context.Context, st models.ConversationState) error
	ClearState(ctx context.Context, id models.Identity) error
}

// Store is the full relational backend.
type Store interface {
	AppointmentStore
	ChatHistoryStore
	SecurityLogStore
	StateStore
	DedupRepo
	OutboxRepo
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option mutates Opts.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Driver names returned by DetectDSNType.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DetectDSNType reports whether dsn addresses PostgreSQL or SQLite.
// URLs with a postgres scheme and key=value strings naming a host or dbname
// are PostgreSQL; anything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open opens the relational store dsn addresses.
func Open(dsn string) (Store, error) {
	if DetectDSNType(dsn) == DriverPostgres {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// newID returns a lexicographically sortable record ID.
func newID() string {
	return ulid.Make().String()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
