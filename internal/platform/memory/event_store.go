package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

// EventStore is an in-memory implementation of store.EventStore.
// Appends are serialized by a single mutex; the global position counter is
// a dedicated atomic sequence so the arbitration point stays explicit.
type EventStore struct {
	mu       sync.RWMutex
	position atomic.Int64
	streams  map[string][]domain.Event
	all      []domain.Event
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		streams: make(map[string][]domain.Event),
	}
}

// Ensure EventStore implements store.EventStore
var _ store.EventStore = (*EventStore)(nil)

func streamKey(streamID, streamType string) string {
	return streamType + "/" + streamID
}

// Append implements store.EventStore.Append.
func (s *EventStore) Append(
	ctx context.Context,
	streamID, streamType string,
	expectedVersion *int64,
	drafts []domain.EventDraft,
) (*store.AppendResult, error) {
	if err := domain.ValidateBatch(streamID, streamType, drafts); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(streamID, streamType)
	stream := s.streams[key]

	currentVersion := int64(len(stream))
	if expectedVersion != nil && *expectedVersion != currentVersion {
		return nil, &store.VersionConflictError{
			StreamID:   streamID,
			StreamType: streamType,
			Expected:   *expectedVersion,
			Actual:     currentVersion,
		}
	}

	now := time.Now().UTC()
	committed := make([]domain.Event, 0, len(drafts))
	for i, draft := range drafts {
		event := domain.Event{
			ID:         uuid.New(),
			StreamID:   streamID,
			StreamType: streamType,
			Version:    currentVersion + int64(i) + 1,
			Type:       draft.Type,
			Payload:    draft.Payload,
			Metadata:   draft.Metadata,
			OccurredAt: now,
			Position:   s.position.Add(1),
		}
		committed = append(committed, event)
	}

	s.streams[key] = append(stream, committed...)
	s.all = append(s.all, committed...)

	return &store.AppendResult{
		CurrentVersion: currentVersion + int64(len(committed)),
		LastPosition:   committed[len(committed)-1].Position,
		Events:         committed,
	}, nil
}

// GetStreamEvents implements store.EventStore.GetStreamEvents.
func (s *EventStore) GetStreamEvents(
	_ context.Context,
	streamID, streamType string,
	fromVersion int64,
	limit int,
) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamKey(streamID, streamType)]
	out := make([]domain.Event, 0)
	for _, e := range stream {
		if e.Version <= fromVersion {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetAllEvents implements store.EventStore.GetAllEvents.
func (s *EventStore) GetAllEvents(
	_ context.Context,
	fromPosition int64,
	limit int,
) ([]domain.Event, error) {
	return s.scanAll(fromPosition, limit, "")
}

// GetEventsByStreamType implements store.EventStore.GetEventsByStreamType.
func (s *EventStore) GetEventsByStreamType(
	_ context.Context,
	streamType string,
	fromPosition int64,
	limit int,
) ([]domain.Event, error) {
	return s.scanAll(fromPosition, limit, streamType)
}

func (s *EventStore) scanAll(fromPosition int64, limit int, streamType string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Event, 0)
	for _, e := range s.all {
		if e.Position <= fromPosition {
			continue
		}
		if streamType != "" && e.StreamType != streamType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CurrentVersion implements store.EventStore.CurrentVersion.
func (s *EventStore) CurrentVersion(_ context.Context, streamID, streamType string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.streams[streamKey(streamID, streamType)])), nil
}

// HighestPosition implements store.EventStore.HighestPosition.
func (s *EventStore) HighestPosition(_ context.Context) (int64, error) {
	return s.position.Load(), nil
}
