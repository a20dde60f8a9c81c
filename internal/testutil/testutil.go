// Package testutil provides common test utilities and helpers for Kiko tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/BTreeMap/Kiko/internal/models"
	"github.com/BTreeMap/Kiko/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONStatus decodes an APIResponse envelope and validates its status field.
func AssertJSONStatus(t *testing.T, rr *httptest.ResponseRecorder, expected string) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	if resp.Status != expected {
		t.Errorf("expected status %q, got %q (%s)", expected, resp.Status, resp.Message)
	}
	return resp
}

// CreateJSONRequest creates an HTTP request with a raw JSON body.
func CreateJSONRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewSQLiteStore opens a SQLite store in a per-test temp directory and
// closes it when the test ends. It returns the store and its DSN.
func NewSQLiteStore(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "kiko.db")
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, dsn
}

// SeedSecurityEvents records one event per entry of types for identity.
func SeedSecurityEvents(t *testing.T, s store.SecurityLogStore, identity models.Identity, types ...models.SecurityEventType) {
	t.Helper()
	for _, typ := range types {
		ev := &models.SecurityEvent{Identity: identity, Type: typ, Details: "seeded " + string(typ)}
		if err := s.RecordSecurityEvent(context.Background(), ev); err != nil {
			t.Fatalf("failed to seed security event: %v", err)
		}
	}
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v\n%s", err, data)
	}
}
