package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

// SnapshotStore is an in-memory implementation of store.SnapshotStore.
// Multiple snapshots per stream are retained until pruned.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]domain.Snapshot
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string][]domain.Snapshot),
	}
}

// Ensure SnapshotStore implements store.SnapshotStore
var _ store.SnapshotStore = (*SnapshotStore)(nil)

// SaveSnapshot implements store.SnapshotStore.SaveSnapshot.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, snapshot *domain.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(snapshot.StreamID, snapshot.StreamType)
	existing := s.snapshots[key]

	// Same-version save overwrites the stored state.
	for i, snap := range existing {
		if snap.Version == snapshot.Version {
			existing[i] = *snapshot
			return nil
		}
	}

	existing = append(existing, *snapshot)
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Version < existing[j].Version
	})
	s.snapshots[key] = existing
	return nil
}

// GetLatestSnapshot implements store.SnapshotStore.GetLatestSnapshot.
func (s *SnapshotStore) GetLatestSnapshot(
	_ context.Context,
	streamID, streamType string,
) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := s.snapshots[streamKey(streamID, streamType)]
	if len(existing) == 0 {
		return nil, store.ErrSnapshotNotFound
	}

	latest := existing[len(existing)-1]
	return &latest, nil
}

// PruneSnapshots implements store.SnapshotStore.PruneSnapshots.
func (s *SnapshotStore) PruneSnapshots(
	_ context.Context,
	streamID, streamType string,
	keep int,
) error {
	if keep <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(streamID, streamType)
	existing := s.snapshots[key]
	if len(existing) > keep {
		s.snapshots[key] = existing[len(existing)-keep:]
	}
	return nil
}
