// Package session holds the per-conversation document cache and turn order
// state shared by every request of a (user, chat) pair.
package session

import (
	"context"

	"docpipe/internal/models"
)

// Snapshot is a consistent read of one session, taken under the session's
// lock so a half-written batch is never observed.
type Snapshot struct {
	// Artifacts maps file_id to its cached extraction result.
	Artifacts map[string]models.Artifact
	// Order lists the anchors of user turns in the order they were seen.
	Order []string
}

// Store is the session registry. Mutating operations on the same key are
// serialized by the implementation; none of them block outside the redis
// round-trip.
type Store interface {
	// RegisterIfNew atomically reserves fileID for this session and reports
	// whether it was previously unseen. A true result hands exclusive
	// extraction ownership to the caller.
	RegisterIfNew(ctx context.Context, key models.SessionKey, fileID string) (bool, error)

	// Release drops a reservation that never produced an artifact, so a
	// failed file stays retryable. Reservations backed by an artifact are
	// kept.
	Release(ctx context.Context, key models.SessionKey, fileID string) error

	// PutArtifact stores the extraction result. Artifacts are written at
	// most once per file per session and replaced only wholesale.
	PutArtifact(ctx context.Context, key models.SessionKey, artifact models.Artifact) error

	// AppendAnchor records a new turn anchor unless it is already present.
	AppendAnchor(ctx context.Context, key models.SessionKey, anchor string) error

	// AdoptOrder replaces the turn order wholesale with the authoritative
	// list derived from explicit host ids. A shrink relative to the cached
	// order is flagged, never silent.
	AdoptOrder(ctx context.Context, key models.SessionKey, anchors []string) error

	// Snapshot returns the artifacts and turn order for rehydration.
	Snapshot(ctx context.Context, key models.SessionKey) (Snapshot, error)

	Close() error
}
