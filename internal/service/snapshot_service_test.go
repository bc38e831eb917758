package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/platform/memory"
	"github.com/phrazzld/grimoire/internal/store"
)

// vocabState is a tiny aggregate used to exercise rehydration: a learner's
// vocabulary count folded from WordLearned events.
type vocabState struct {
	Words int `json:"words"`
}

func applyVocab(state vocabState, events []domain.Event) vocabState {
	for _, e := range events {
		if e.Type == "WordLearned" {
			state.Words++
		}
	}
	return state
}

func seedVocabStream(t *testing.T, svc EventService, streamID string, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		_, err := svc.Append(ctx, streamID, "LearnerProfile", nil,
			[]domain.EventDraft{{
				Type:    "WordLearned",
				Payload: json.RawMessage(fmt.Sprintf(`{"word": "w%d"}`, i)),
			}})
		require.NoError(t, err)
	}
}

func TestSnapshotService_SaveAndLoad(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	snapshots := memory.NewSnapshotStore()
	eventSvc := NewEventService(events, nil, nil, nil)
	snapSvc := NewSnapshotService(snapshots, events, 0, nil)
	ctx := context.Background()

	seedVocabStream(t, eventSvc, "learner-1", 5)

	state, err := json.Marshal(vocabState{Words: 5})
	require.NoError(t, err)
	snap, err := domain.NewSnapshot("learner-1", "LearnerProfile", 5, state)
	require.NoError(t, err)
	require.NoError(t, snapSvc.SaveSnapshot(ctx, snap))

	loaded, err := snapSvc.GetLatestSnapshot(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Equal(t, int64(5), loaded.Version)
	assert.JSONEq(t, string(state), string(loaded.State))
}

func TestSnapshotService_RejectsFutureVersion(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	eventSvc := NewEventService(events, nil, nil, nil)
	snapSvc := NewSnapshotService(memory.NewSnapshotStore(), events, 0, nil)
	ctx := context.Background()

	seedVocabStream(t, eventSvc, "learner-1", 3)

	snap, err := domain.NewSnapshot("learner-1", "LearnerProfile", 9, []byte(`{"words":9}`))
	require.NoError(t, err)

	err = snapSvc.SaveSnapshot(ctx, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrValidation)
}

// Rehydrating from a snapshot plus the event suffix must land on the same
// state as replaying the full stream.
func TestSnapshotService_RehydrationEquivalence(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	eventSvc := NewEventService(events, nil, nil, nil)
	snapSvc := NewSnapshotService(memory.NewSnapshotStore(), events, 0, nil)
	ctx := context.Background()

	seedVocabStream(t, eventSvc, "learner-1", 7)

	// Snapshot at version 7, then the stream grows past it
	state, err := json.Marshal(vocabState{Words: 7})
	require.NoError(t, err)
	snap, err := domain.NewSnapshot("learner-1", "LearnerProfile", 7, state)
	require.NoError(t, err)
	require.NoError(t, snapSvc.SaveSnapshot(ctx, snap))

	seedVocabStream(t, eventSvc, "learner-1", 4)

	// Full replay
	full, err := eventSvc.GetEvents(ctx, "learner-1", "LearnerProfile", 0, 0)
	require.NoError(t, err)
	fromScratch := applyVocab(vocabState{}, full)

	// Snapshot plus suffix
	loaded, suffix, err := snapSvc.LoadForRehydration(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(7), loaded.Version)
	require.Len(t, suffix, 4)

	var fromSnapshot vocabState
	require.NoError(t, json.Unmarshal(loaded.State, &fromSnapshot))
	fromSnapshot = applyVocab(fromSnapshot, suffix)

	assert.Equal(t, fromScratch, fromSnapshot)
	assert.Equal(t, 11, fromSnapshot.Words)
}

func TestSnapshotService_RehydrationWithoutSnapshot(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	eventSvc := NewEventService(events, nil, nil, nil)
	snapSvc := NewSnapshotService(memory.NewSnapshotStore(), events, 0, nil)
	ctx := context.Background()

	seedVocabStream(t, eventSvc, "learner-1", 3)

	snap, suffix, err := snapSvc.LoadForRehydration(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Len(t, suffix, 3)
}

func TestSnapshotService_RetentionPrunes(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	snapshots := memory.NewSnapshotStore()
	eventSvc := NewEventService(events, nil, nil, nil)
	snapSvc := NewSnapshotService(snapshots, events, 2, nil)
	ctx := context.Background()

	seedVocabStream(t, eventSvc, "learner-1", 6)

	for _, v := range []int64{2, 4, 6} {
		snap, err := domain.NewSnapshot("learner-1", "LearnerProfile", v,
			[]byte(fmt.Sprintf(`{"words":%d}`, v)))
		require.NoError(t, err)
		require.NoError(t, snapSvc.SaveSnapshot(ctx, snap))
	}

	// The latest snapshot is always retained
	latest, err := snapSvc.GetLatestSnapshot(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Equal(t, int64(6), latest.Version)
}
