// Package turnorder maintains the per-session ordering of user turns that
// maps cached artifacts back to the turn they were attached to.
package turnorder

import (
	"context"
	"fmt"

	"docpipe/internal/models"
	"docpipe/internal/session"
)

// PositionalAnchor names the k-th user turn when the host supplied no
// explicit id for it. The same index is re-derived on every replay, so the
// association stays stable as long as the host never reorders user turns.
func PositionalAnchor(k int) string {
	return fmt.Sprintf("turn:%d", k)
}

type Tracker struct {
	store session.Store
}

func NewTracker(store session.Store) *Tracker {
	return &Tracker{store: store}
}

// Touch resolves the anchor of the current turn and records it. Precedence:
// the host's explicit message id when present, otherwise the anchor already
// cached for this position, otherwise a fresh positional anchor.
func (t *Tracker) Touch(ctx context.Context, key models.SessionKey, messages []models.Message, currentID string) (string, error) {
	if currentID != "" {
		if err := t.store.AppendAnchor(ctx, key, currentID); err != nil {
			return "", err
		}
		return currentID, nil
	}

	k := userTurnCount(messages) - 1
	if k < 0 {
		k = 0
	}
	snap, err := t.store.Snapshot(ctx, key)
	if err != nil {
		return "", err
	}
	if k < len(snap.Order) {
		return snap.Order[k], nil
	}
	anchor := PositionalAnchor(k)
	if err := t.store.AppendAnchor(ctx, key, anchor); err != nil {
		return "", err
	}
	return anchor, nil
}

// Observe runs after each request. When the host supplied explicit ids for
// every user turn, that complete list is authoritative and replaces the
// cached order wholesale; the store flags shrinks. Partial ids are ignored
// because mixing them with positional anchors would scramble associations.
func (t *Tracker) Observe(ctx context.Context, key models.SessionKey, messages []models.Message) error {
	explicit := explicitOrder(messages)
	if explicit == nil {
		return nil
	}
	return t.store.AdoptOrder(ctx, key, explicit)
}

// explicitOrder returns the ids of all user turns, or nil unless every user
// turn carries one.
func explicitOrder(messages []models.Message) []string {
	var ids []string
	for _, m := range messages {
		if !m.IsUser() {
			continue
		}
		if m.ID == "" {
			return nil
		}
		ids = append(ids, m.ID)
	}
	return ids
}

func userTurnCount(messages []models.Message) int {
	n := 0
	for _, m := range messages {
		if m.IsUser() {
			n++
		}
	}
	return n
}
