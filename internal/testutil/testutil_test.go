package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/store"
)

func TestCreateJSONRequest(t *testing.T) {
	req := CreateJSONRequest(t, http.MethodPost, "/api/chat", `{"message":"halo"}`)
	if req.Method != http.MethodPost || req.URL.Path != "/api/chat" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != `{"message":"halo"}` {
		t.Errorf("body = %q", body)
	}
}

func TestAssertJSONStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","message":"Janji temu berhasil dibuat"}`)
	resp := AssertJSONStatus(t, rr, string(models.APIStatusOK))
	if resp.Message != "Janji temu berhasil dibuat" {
		t.Errorf("Message = %q", resp.Message)
	}
}

func TestSeedSecurityEvents(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedSecurityEvents(t, st, "web_x", models.EventPromptInjection, models.EventRateLimit)

	events, err := st.SecurityEvents(context.Background(), "web_x", 10)
	if err != nil {
		t.Fatalf("SecurityEvents: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestNewSQLiteStore(t *testing.T) {
	st, dsn := NewSQLiteStore(t)
	if dsn == "" {
		t.Fatal("empty dsn")
	}
	SeedSecurityEvents(t, st, "628111234567", models.EventHarmfulContent)
	events, err := st.SecurityEvents(context.Background(), "", 10)
	if err != nil || len(events) != 1 {
		t.Errorf("SecurityEvents = %v, %v", events, err)
	}
}
