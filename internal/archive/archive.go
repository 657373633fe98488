// Package archive keeps the set of content identifiers that were already
// downloaded, so the same media is never fetched twice.
package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Store persists archive entries.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Append(ctx context.Context, contentID string) error
}

// Ledger is the in-memory archive backed by a Store. It is safe for
// concurrent use.
type Ledger struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	store Store
}

// Open loads the ledger from store. On a load failure the returned ledger is
// empty but usable, and the error is returned for the caller to report.
func Open(ctx context.Context, store Store) (*Ledger, error) {
	l := &Ledger{
		ids:   make(map[string]struct{}),
		store: store,
	}

	if store == nil {
		return l, nil
	}

	ids, err := store.Load(ctx)
	if err != nil {
		return l, fmt.Errorf("failed to load archive: %w", err)
	}

	for _, id := range ids {
		if id = normalize(id); id != "" {
			l.ids[id] = struct{}{}
		}
	}

	return l, nil
}

// Contains reports whether contentID was archived.
func (l *Ledger) Contains(contentID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.ids[normalize(contentID)]

	return ok
}

// Add archives contentID. The entry is kept in memory even when persisting it
// fails; the persistence error is returned.
func (l *Ledger) Add(ctx context.Context, contentID string) error {
	contentID = normalize(contentID)
	if contentID == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[contentID]; ok {
		return nil
	}

	l.ids[contentID] = struct{}{}

	if l.store == nil {
		return nil
	}

	// persisted under the lock so entries reach the store in insertion order
	if err := l.store.Append(ctx, contentID); err != nil {
		return fmt.Errorf("failed to persist archive entry %q: %w", contentID, err)
	}

	return nil
}

// Len returns the number of archived identifiers.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.ids)
}

// normalize collapses whitespace so "youtube  abc" and "youtube abc" match.
func normalize(id string) string {
	return strings.Join(strings.Fields(id), " ")
}
