package store

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/Kiko/internal/models"
)

func TestRedisStateStore(t *testing.T) {
	// Requires a running Redis server.
	url := getenvOrSkip(t, "REDIS_URL")
	ctx := context.Background()
	s, err := NewRedisStateStore(ctx, url, time.Minute, nil)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()

	id := models.Identity("test_" + newID())
	defer s.ClearState(ctx, id)

	st, err := s.GetState(ctx, id)
	if err != nil || st.Pending != models.PendingNone || st.Identity != id {
		t.Fatalf("GetState on unknown identity = %+v, %v", st, err)
	}
	if err := s.SaveState(ctx, models.ConversationState{Identity: id, Pending: models.PendingBooking}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	st, err = s.GetState(ctx, id)
	if err != nil || st.Pending != models.PendingBooking {
		t.Fatalf("GetState = %+v, %v", st, err)
	}
	ttl, err := s.client.TTL(ctx, s.key(id)).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, %v", ttl, err)
	}

	if err := s.SaveState(ctx, models.ConversationState{Identity: id}); err != nil {
		t.Fatalf("SaveState clear: %v", err)
	}
	if n, _ := s.client.Exists(ctx, s.key(id)).Result(); n != 0 {
		t.Error("empty pending intent should delete the key")
	}
}

func TestNewRedisStateStore_BadURL(t *testing.T) {
	if _, err := NewRedisStateStore(context.Background(), "://nope", 0, nil); err == nil {
		t.Fatal("expected parse error")
	}
}
