package memory

import (
	"context"
	"sync"

	"github.com/phrazzld/grimoire/internal/store"
)

// CursorStore is an in-memory implementation of store.CursorStore.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]int64
}

// NewCursorStore creates an empty in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]int64),
	}
}

// Ensure CursorStore implements store.CursorStore
var _ store.CursorStore = (*CursorStore)(nil)

// SaveCursor implements store.CursorStore.SaveCursor.
func (s *CursorStore) SaveCursor(_ context.Context, subscriberName string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Cursors only move forward; a stale acknowledgement is a no-op.
	if current, ok := s.cursors[subscriberName]; ok && current >= position {
		return nil
	}
	s.cursors[subscriberName] = position
	return nil
}

// GetCursor implements store.CursorStore.GetCursor.
func (s *CursorStore) GetCursor(_ context.Context, subscriberName string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	position, ok := s.cursors[subscriberName]
	if !ok {
		return 0, store.ErrCursorNotFound
	}
	return position, nil
}
