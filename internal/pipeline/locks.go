package pipeline

import (
	"sync"

	"docpipe/internal/models"
)

// keyedLocks serializes the whole mutating span of a request per session,
// so overlapping submissions for one conversation never interleave their
// detect/extract/track sequences.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[models.SessionKey]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[models.SessionKey]*lockEntry)}
}

func (k *keyedLocks) acquire(key models.SessionKey) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
