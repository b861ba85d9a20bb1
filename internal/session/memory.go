package session

import (
	"context"
	"sync"
	"time"

	"docpipe/internal/logger"
	"docpipe/internal/models"
)

// sessionState is the mutable state of one conversation. All fields are
// guarded by mu.
type sessionState struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	artifacts map[string]models.Artifact
	order     []string
	lastUsed  time.Time
}

func newSessionState() *sessionState {
	return &sessionState{
		seen:      make(map[string]struct{}),
		artifacts: make(map[string]models.Artifact),
	}
}

// MemoryStore keeps session state in process memory. Sessions live for the
// process lifetime unless the janitor is started with an idle bound.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[models.SessionKey]*sessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[models.SessionKey]*sessionState),
	}
}

func (s *MemoryStore) ensure(key models.SessionKey) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[key]
	if !ok {
		state = newSessionState()
		s.sessions[key] = state
	}
	state.lastUsed = time.Now()
	return state
}

func (s *MemoryStore) RegisterIfNew(_ context.Context, key models.SessionKey, fileID string) (bool, error) {
	state := s.ensure(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, ok := state.seen[fileID]; ok {
		return false, nil
	}
	state.seen[fileID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key models.SessionKey, fileID string) error {
	state := s.ensure(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	// An artifact means extraction completed; the reservation stands.
	if _, ok := state.artifacts[fileID]; ok {
		return nil
	}
	delete(state.seen, fileID)
	return nil
}

func (s *MemoryStore) PutArtifact(_ context.Context, key models.SessionKey, artifact models.Artifact) error {
	state := s.ensure(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	state.seen[artifact.FileID] = struct{}{}
	state.artifacts[artifact.FileID] = artifact
	return nil
}

func (s *MemoryStore) AppendAnchor(_ context.Context, key models.SessionKey, anchor string) error {
	if anchor == "" {
		return nil
	}
	state := s.ensure(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	for _, a := range state.order {
		if a == anchor {
			return nil
		}
	}
	state.order = append(state.order, anchor)
	return nil
}

func (s *MemoryStore) AdoptOrder(_ context.Context, key models.SessionKey, anchors []string) error {
	if len(anchors) == 0 {
		return nil
	}
	state := s.ensure(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	if len(anchors) < len(state.order) {
		logger.Warn().
			Str("session", key.String()).
			Int("cached", len(state.order)).
			Int("incoming", len(anchors)).
			Msg("turn order shrank; host edited or truncated history")
	}
	state.order = append([]string(nil), anchors...)
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, key models.SessionKey) (Snapshot, error) {
	state := s.ensure(key)
	state.mu.Lock()
	defer state.mu.Unlock()

	snap := Snapshot{
		Artifacts: make(map[string]models.Artifact, len(state.artifacts)),
		Order:     append([]string(nil), state.order...),
	}
	for id, a := range state.artifacts {
		snap.Artifacts[id] = a
	}
	return snap, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// StartJanitor evicts sessions idle for longer than idle. The cache keeps
// everything forever when the janitor is not started.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		return
	}
	go s.janitorLoop(ctx, interval, idle)
}

func (s *MemoryStore) janitorLoop(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle(idle)
		}
	}
}

func (s *MemoryStore) evictIdle(idle time.Duration) {
	cutoff := time.Now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, state := range s.sessions {
		if state.lastUsed.Before(cutoff) {
			delete(s.sessions, key)
			logger.Info().Str("session", key.String()).Msg("evicted idle session")
		}
	}
}
