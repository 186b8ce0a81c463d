package sync

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/njoerd114/mediarelay/internal/model"
)

// SourceLocks serialises passes per source so a scheduled pass and a manual
// backfill for the same source never interleave their read-modify-write of
// the ledger. Passes for different sources do not contend.
type SourceLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewSourceLocks creates an empty lock table.
func NewSourceLocks() *SourceLocks {
	return &SourceLocks{sems: make(map[string]*semaphore.Weighted)}
}

// Lock blocks until the source is free or ctx is done. The returned function
// releases the lock.
func (l *SourceLocks) Lock(ctx context.Context, provider model.Provider, sourceID string) (func(), error) {
	key := string(provider) + "/" + sourceID

	l.mu.Lock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}
	l.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", key, err)
	}
	return func() { sem.Release(1) }, nil
}
