package turnorder

import (
	"context"
	"testing"

	"docpipe/internal/models"
	"docpipe/internal/session"
)

func userMsg(id, text string) models.Message {
	return models.Message{ID: id, Role: models.RoleUser, Content: models.TextContent(text)}
}

func assistantMsg(text string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: models.TextContent(text)}
}

func TestTouchPrefersExplicitID(t *testing.T) {
	store := session.NewMemoryStore()
	tracker := NewTracker(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}

	anchor, err := tracker.Touch(context.Background(), key, []models.Message{userMsg("", "hi")}, "msg-7")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if anchor != "msg-7" {
		t.Fatalf("expected explicit id, got %q", anchor)
	}
	snap, err := store.Snapshot(context.Background(), key)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Order) != 1 || snap.Order[0] != "msg-7" {
		t.Fatalf("explicit id not recorded: %v", snap.Order)
	}
}

func TestTouchPositionalFallback(t *testing.T) {
	store := session.NewMemoryStore()
	tracker := NewTracker(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}
	ctx := context.Background()

	anchor, err := tracker.Touch(ctx, key, []models.Message{userMsg("", "first")}, "")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if anchor != "turn:0" {
		t.Fatalf("expected turn:0, got %q", anchor)
	}

	history := []models.Message{
		userMsg("", "first"),
		assistantMsg("reply"),
		userMsg("", "second"),
	}
	anchor, err = tracker.Touch(ctx, key, history, "")
	if err != nil {
		t.Fatalf("touch second: %v", err)
	}
	if anchor != "turn:1" {
		t.Fatalf("expected turn:1, got %q", anchor)
	}
}

func TestTouchReusesCachedAnchorForPosition(t *testing.T) {
	store := session.NewMemoryStore()
	tracker := NewTracker(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}
	ctx := context.Background()

	if err := store.AppendAnchor(ctx, key, "msg-1"); err != nil {
		t.Fatalf("seed anchor: %v", err)
	}
	anchor, err := tracker.Touch(ctx, key, []models.Message{userMsg("", "first")}, "")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if anchor != "msg-1" {
		t.Fatalf("expected cached anchor for position 0, got %q", anchor)
	}
}

func TestObserveAdoptsCompleteExplicitOrder(t *testing.T) {
	store := session.NewMemoryStore()
	tracker := NewTracker(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}
	ctx := context.Background()

	for _, a := range []string{"turn:0", "turn:1"} {
		if err := store.AppendAnchor(ctx, key, a); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	history := []models.Message{
		userMsg("m1", "first"),
		assistantMsg("reply"),
		userMsg("m2", "second"),
	}
	if err := tracker.Observe(ctx, key, history); err != nil {
		t.Fatalf("observe: %v", err)
	}
	snap, err := store.Snapshot(ctx, key)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Order) != 2 || snap.Order[0] != "m1" || snap.Order[1] != "m2" {
		t.Fatalf("explicit order not adopted: %v", snap.Order)
	}
}

func TestObserveIgnoresPartialIDs(t *testing.T) {
	store := session.NewMemoryStore()
	tracker := NewTracker(store)
	key := models.SessionKey{UserID: "u1", ChatID: "c1"}
	ctx := context.Background()

	if err := store.AppendAnchor(ctx, key, "turn:0"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	history := []models.Message{
		userMsg("m1", "first"),
		userMsg("", "second"),
	}
	if err := tracker.Observe(ctx, key, history); err != nil {
		t.Fatalf("observe: %v", err)
	}
	snap, err := store.Snapshot(ctx, key)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Order) != 1 || snap.Order[0] != "turn:0" {
		t.Fatalf("partial ids must not replace order: %v", snap.Order)
	}
}
