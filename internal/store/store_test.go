package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

func TestDetectDSNType(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user:pw@localhost/kiko?sslmode=disable", DriverPostgres},
		{"postgresql://localhost/kiko", DriverPostgres},
		{"host=localhost dbname=kiko sslmode=disable", DriverPostgres},
		{"/var/lib/kiko/kiko.db", DriverSQLite},
		{"file:kiko.db?cache=shared", DriverSQLite},
		{"kiko.db", DriverSQLite},
	}
	for _, tt := range tests {
		if got := DetectDSNType(tt.dsn); got != tt.want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestInMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewInMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "nested", "kiko.db")))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore_RequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Fatal("expected error without DSN")
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(WithPostgresDSN(connStr))
		if err != nil {
			t.Skipf("Postgres not available: %v", err)
		}
		truncateAll(t, s.db)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func truncateAll(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, table := range []string{"appointments", "chat_history", "security_log", "conversation_state", "inbound_dedup", "outbox_messages"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("appointments", func(t *testing.T) { testAppointments(t, newStore(t)) })
	t.Run("chat history", func(t *testing.T) { testChatHistory(t, newStore(t)) })
	t.Run("security log", func(t *testing.T) { testSecurityLog(t, newStore(t)) })
	t.Run("conversation state", func(t *testing.T) { testConversationState(t, newStore(t)) })
	t.Run("dedup", func(t *testing.T) { testDedup(t, newStore(t)) })
	t.Run("outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
}

func testAppointments(t *testing.T, s Store) {
	ctx := context.Background()
	a := &models.Appointment{
		Identity:    "web_1",
		PatientName: "Andi",
		Contact:     "08123456789",
		DoctorRef:   "081298765432",
		Date:        "30 Desember",
		Time:        "10:00",
	}
	if err := s.RecordAppointment(ctx, a); err != nil {
		t.Fatalf("RecordAppointment: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatalf("ID and CreatedAt not assigned: %+v", a)
	}
	if err := s.RecordAppointment(ctx, &models.Appointment{PatientName: "Sari", Contact: "0811", DoctorRef: "0822", Date: "1 Januari"}); err != nil {
		t.Fatalf("RecordAppointment: %v", err)
	}

	all, err := s.ListAppointments(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(all) != 2 || all[0].PatientName != "Sari" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	mine, err := s.ListAppointments(ctx, "web_1", 10)
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != a.ID || mine[0].Date != "30 Desember" || mine[0].Time != "10:00" || mine[0].DoctorRef != "081298765432" {
		t.Errorf("unexpected appointment %+v", mine)
	}
}

func testChatHistory(t *testing.T, s Store) {
	ctx := context.Background()
	for i, msg := range []string{"halo", "jadwal dokter", "terima kasih"} {
		r := &models.ChatRecord{Identity: "u1", Message: msg, Response: "ok", Intent: models.Intent("i" + string(rune('0'+i)))}
		if err := s.AppendChat(ctx, r); err != nil {
			t.Fatalf("AppendChat: %v", err)
		}
	}
	if err := s.AppendChat(ctx, &models.ChatRecord{Identity: "u2", Message: "lain", Response: "ok"}); err != nil {
		t.Fatalf("AppendChat: %v", err)
	}

	hist, err := s.ChatHistory(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ChatHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].Message != "terima kasih" || hist[1].Message != "jadwal dokter" {
		t.Errorf("unexpected history %+v", hist)
	}
	if hist[0].Intent != "i2" {
		t.Errorf("intent = %q", hist[0].Intent)
	}
}

func testSecurityLog(t *testing.T, s Store) {
	ctx := context.Background()
	events := []models.SecurityEvent{
		{Identity: "u1", Type: models.EventRateLimit, Details: "per_minute"},
		{Identity: "u2", Type: models.EventPromptInjection, Details: "system_prompt_request"},
		{Identity: "u1", Type: models.EventPIIDetected, Details: "Types: email"},
	}
	for i := range events {
		if err := s.RecordSecurityEvent(ctx, &events[i]); err != nil {
			t.Fatalf("RecordSecurityEvent: %v", err)
		}
	}

	all, err := s.SecurityEvents(ctx, "", 0)
	if err != nil {
		t.Fatalf("SecurityEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	u1, err := s.SecurityEvents(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("SecurityEvents: %v", err)
	}
	if len(u1) != 2 || u1[0].Type != models.EventPIIDetected || u1[1].Details != "per_minute" {
		t.Errorf("unexpected events %+v", u1)
	}
}

func testConversationState(t *testing.T, s Store) {
	ctx := context.Background()
	st, err := s.GetState(ctx, "u1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.Identity != "u1" || st.Pending != models.PendingNone {
		t.Fatalf("expected empty state, got %+v", st)
	}

	if err := s.SaveState(ctx, models.ConversationState{Identity: "u1", Pending: models.PendingBooking}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := s.SaveState(ctx, models.ConversationState{Identity: "u1", Pending: models.PendingCounseling}); err != nil {
		t.Fatalf("SaveState overwrite: %v", err)
	}
	st, _ = s.GetState(ctx, "u1")
	if st.Pending != models.PendingCounseling || st.UpdatedAt.IsZero() {
		t.Errorf("unexpected state %+v", st)
	}

	if err := s.ClearState(ctx, "u1"); err != nil {
		t.Fatalf("ClearState: %v", err)
	}
	st, _ = s.GetState(ctx, "u1")
	if st.Pending != models.PendingNone {
		t.Errorf("state not cleared: %+v", st)
	}

	if err := s.SaveState(ctx, models.ConversationState{}); !errors.Is(err, models.ErrEmptyIdentity) {
		t.Errorf("expected ErrEmptyIdentity, got %v", err)
	}
}

func testDedup(t *testing.T, s Store) {
	ctx := context.Background()
	first, err := s.RecordInbound(ctx, "msg-1", "6281234")
	if err != nil || !first {
		t.Fatalf("first RecordInbound = %v, %v", first, err)
	}
	again, err := s.RecordInbound(ctx, "msg-1", "6281234")
	if err != nil || again {
		t.Fatalf("duplicate RecordInbound = %v, %v", again, err)
	}
	if dup, _ := s.IsDuplicate(ctx, "msg-1"); !dup {
		t.Error("IsDuplicate = false for recorded message")
	}
	if dup, _ := s.IsDuplicate(ctx, "msg-2"); dup {
		t.Error("IsDuplicate = true for unknown message")
	}
	if err := s.MarkProcessed(ctx, "msg-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	n, err := s.PurgeDedupBefore(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeDedupBefore = %d, %v", n, err)
	}
	if dup, _ := s.IsDuplicate(ctx, "msg-1"); dup {
		t.Error("purged record still reported as duplicate")
	}
}

func testOutbox(t *testing.T, s Store) {
	ctx := context.Background()
	id, err := s.EnqueueOutboxMessage(ctx, "6281234", "text", `{"body":"halo"}`, "reply:msg-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	same, err := s.EnqueueOutboxMessage(ctx, "6281234", "text", `{"body":"halo"}`, "reply:msg-1")
	if err != nil || same != id {
		t.Fatalf("dedupe enqueue = %q, %v; want %q", same, err, id)
	}

	now := time.Now()
	claimed, err := s.ClaimDueOutboxMessages(ctx, now, 10)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id || claimed[0].Status != OutboxStatusSending || claimed[0].Recipient != "6281234" {
		t.Fatalf("unexpected claim %+v", claimed)
	}
	if again, _ := s.ClaimDueOutboxMessages(ctx, now, 10); len(again) != 0 {
		t.Fatalf("message claimed twice: %+v", again)
	}

	retryAt := now.Add(time.Minute)
	if err := s.FailOutboxMessage(ctx, id, "boom", retryAt); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if due, _ := s.ClaimDueOutboxMessages(ctx, now, 10); len(due) != 0 {
		t.Fatalf("message claimed before retry time: %+v", due)
	}
	due, err := s.ClaimDueOutboxMessages(ctx, retryAt.Add(time.Second), 10)
	if err != nil || len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "boom" {
		t.Fatalf("retry claim = %+v, %v", due, err)
	}

	if err := s.MarkOutboxMessageSent(ctx, id); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	m, err := s.GetOutboxMessage(ctx, id)
	if err != nil || m.Status != OutboxStatusSent {
		t.Fatalf("GetOutboxMessage = %+v, %v", m, err)
	}

	fresh, _ := s.EnqueueOutboxMessage(ctx, "6281234", "text", `{}`, "reply:msg-1")
	if fresh == id {
		t.Error("sent message should not dedupe a new enqueue")
	}
	if err := s.AbandonOutboxMessage(ctx, fresh, "gone"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if m, _ := s.GetOutboxMessage(ctx, fresh); m == nil || m.Status != OutboxStatusFailed {
		t.Errorf("abandoned message = %+v", m)
	}

	if _, err := s.GetOutboxMessage(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRequeueStaleSendingMessages(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	id, _ := s.EnqueueOutboxMessage(ctx, "r", "text", "{}", "")
	old := time.Now().Add(-time.Hour)
	if _, err := s.ClaimDueOutboxMessages(ctx, old, 1); err != nil {
		t.Fatal(err)
	}
	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Requeue = %d, %v", n, err)
	}
	m, _ := s.GetOutboxMessage(ctx, id)
	if m.Status != OutboxStatusQueued || m.LockedAt != nil {
		t.Errorf("unexpected message %+v", m)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "kiko.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", st)
	}
}
