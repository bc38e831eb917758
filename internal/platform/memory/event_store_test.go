package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

func drafts(types ...string) []domain.EventDraft {
	out := make([]domain.EventDraft, len(types))
	for i, typ := range types {
		out[i] = domain.EventDraft{
			Type:    typ,
			Payload: json.RawMessage(fmt.Sprintf(`{"seq": %d}`, i)),
		}
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

func TestEventStore_Append_NewStream(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	result, err := s.Append(ctx, "deck-1", "Deck", int64Ptr(0),
		drafts("DeckCreated", "CardAdded", "CardAdded"))
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, int64(3), result.CurrentVersion)
	assert.Len(t, result.Events, 3)

	// Versions are contiguous from 1
	for i, e := range result.Events {
		assert.Equal(t, int64(i+1), e.Version)
		assert.Equal(t, "deck-1", e.StreamID)
		assert.Equal(t, "Deck", e.StreamType)
		assert.NotEqual(t, "", e.ID.String())
		assert.False(t, e.OccurredAt.IsZero())
	}

	// Positions are strictly increasing
	for i := 1; i < len(result.Events); i++ {
		assert.Greater(t, result.Events[i].Position, result.Events[i-1].Position)
	}
	assert.Equal(t, result.Events[2].Position, result.LastPosition)
}

func TestEventStore_Append_VersionConflict(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	_, err := s.Append(ctx, "deck-1", "Deck", int64Ptr(0), drafts("DeckCreated"))
	require.NoError(t, err)

	// Stale expectation
	_, err = s.Append(ctx, "deck-1", "Deck", int64Ptr(0), drafts("CardAdded"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	var conflict *store.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(0), conflict.Expected)
	assert.Equal(t, int64(1), conflict.Actual)

	// A conflicted append commits nothing
	events, err := s.GetStreamEvents(ctx, "deck-1", "Deck", 0, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventStore_Append_NoVersionCheck(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	// nil expected version skips the concurrency check entirely
	_, err := s.Append(ctx, "deck-1", "Deck", nil, drafts("DeckCreated"))
	require.NoError(t, err)

	result, err := s.Append(ctx, "deck-1", "Deck", nil, drafts("CardAdded"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.CurrentVersion)
}

func TestEventStore_Append_Validation(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	tests := []struct {
		name       string
		streamID   string
		streamType string
		batch      []domain.EventDraft
	}{
		{"empty stream ID", "", "Deck", drafts("DeckCreated")},
		{"empty stream type", "deck-1", "", drafts("DeckCreated")},
		{"empty batch", "deck-1", "Deck", nil},
		{"draft without type", "deck-1", "Deck", []domain.EventDraft{{Type: ""}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Append(ctx, tc.streamID, tc.streamType, nil, tc.batch)
			require.Error(t, err)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}

	// Nothing was committed
	pos, err := s.HighestPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestEventStore_StreamIsolation(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	// Same stream ID under two types is two independent streams
	_, err := s.Append(ctx, "id-1", "Deck", int64Ptr(0), drafts("DeckCreated"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "id-1", "Learner", int64Ptr(0), drafts("LearnerRegistered"))
	require.NoError(t, err)

	deckVersion, err := s.CurrentVersion(ctx, "id-1", "Deck")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deckVersion)

	learnerVersion, err := s.CurrentVersion(ctx, "id-1", "Learner")
	require.NoError(t, err)
	assert.Equal(t, int64(1), learnerVersion)
}

func TestEventStore_GetStreamEvents_Pagination(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	_, err := s.Append(ctx, "deck-1", "Deck", int64Ptr(0),
		drafts("DeckCreated", "CardAdded", "CardAdded", "CardRemoved", "CardAdded"))
	require.NoError(t, err)

	// From the middle with a limit
	events, err := s.GetStreamEvents(ctx, "deck-1", "Deck", 2, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].Version)
	assert.Equal(t, int64(4), events[1].Version)

	// Past the end
	events, err = s.GetStreamEvents(ctx, "deck-1", "Deck", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Unknown stream is an empty slice, not an error
	events, err = s.GetStreamEvents(ctx, "ghost", "Deck", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStore_GlobalFeed(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	_, err := s.Append(ctx, "deck-1", "Deck", int64Ptr(0), drafts("DeckCreated"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "learner-1", "Learner", int64Ptr(0), drafts("LearnerRegistered"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "deck-1", "Deck", int64Ptr(1), drafts("CardAdded"))
	require.NoError(t, err)

	all, err := s.GetAllEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Global order interleaves streams by position
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Position, all[i-1].Position)
	}

	// Resume after a known position
	tail, err := s.GetAllEvents(ctx, all[0].Position, 0)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	// Typed feed filters without disturbing order
	decks, err := s.GetEventsByStreamType(ctx, "Deck", 0, 0)
	require.NoError(t, err)
	require.Len(t, decks, 2)
	assert.Equal(t, "DeckCreated", decks[0].Type)
	assert.Equal(t, "CardAdded", decks[1].Type)
}

func TestEventStore_ConcurrentAppends(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			streamID := fmt.Sprintf("deck-%d", g)
			for i := 0; i < perGoroutine; i++ {
				_, err := s.Append(ctx, streamID, "Deck", nil, drafts("CardAdded"))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	all, err := s.GetAllEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, goroutines*perGoroutine)

	// Every position is unique and the feed is strictly ordered
	seen := make(map[int64]bool, len(all))
	for i, e := range all {
		assert.False(t, seen[e.Position], "duplicate position %d", e.Position)
		seen[e.Position] = true
		if i > 0 {
			assert.Greater(t, e.Position, all[i-1].Position)
		}
	}

	// Per-stream versions stayed contiguous
	for g := 0; g < goroutines; g++ {
		events, err := s.GetStreamEvents(ctx, fmt.Sprintf("deck-%d", g), "Deck", 0, 0)
		require.NoError(t, err)
		require.Len(t, events, perGoroutine)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Version)
		}
	}
}

func TestEventStore_ConcurrentExpectedVersion_OneWinner(t *testing.T) {
	t.Parallel()

	s := NewEventStore()
	ctx := context.Background()

	_, err := s.Append(ctx, "deck-1", "Deck", int64Ptr(0),
		drafts("DeckCreated", "CardAdded", "CardAdded"))
	require.NoError(t, err)

	// Two writers race with the same expectation; exactly one may win
	const racers = 2
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Append(ctx, "deck-1", "Deck", int64Ptr(3), drafts("CardRemoved"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, store.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, winners)

	version, err := s.CurrentVersion(ctx, "deck-1", "Deck")
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
}
