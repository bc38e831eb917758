package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/platform/memory"
	"github.com/phrazzld/grimoire/internal/store"
)

// recordingNotifier captures post-commit notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	positions []int64
}

func (n *recordingNotifier) Notify(lastPosition int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.positions = append(n.positions, lastPosition)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.positions)
}

func draft(eventType string) []domain.EventDraft {
	return []domain.EventDraft{
		{Type: eventType, Payload: json.RawMessage(`{"ok":true}`)},
	}
}

func expectVersion(v int64) *int64 { return &v }

func TestNewEventService_NilStore(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		NewEventService(nil, nil, nil, nil)
	})
}

func TestEventService_Append_NewStream(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	svc := NewEventService(memory.NewEventStore(), notifier, nil, nil)
	ctx := context.Background()

	result, err := svc.Append(ctx, "lesson-1", "Lesson", expectVersion(0),
		[]domain.EventDraft{
			{Type: "LessonDrafted"},
			{Type: "ExerciseAdded"},
			{Type: "LessonPublished"},
		})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.CurrentVersion)

	events, err := svc.GetEvents(ctx, "lesson-1", "Lesson", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Version)
	}

	// One notification per commit, carrying the batch's last position
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, result.LastPosition, notifier.positions[0])
}

func TestEventService_Append_ConflictDoesNotNotify(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	svc := NewEventService(memory.NewEventStore(), notifier, nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "lesson-1", "Lesson", expectVersion(0), draft("LessonDrafted"))
	require.NoError(t, err)

	_, err = svc.Append(ctx, "lesson-1", "Lesson", expectVersion(0), draft("ExerciseAdded"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	assert.Equal(t, 1, notifier.count())
}

func TestEventService_ConcurrentAppend_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	svc := NewEventService(memory.NewEventStore(), nil, nil, nil)
	ctx := context.Background()

	// Two services read the same stream at version 3 and race to extend it
	_, err := svc.Append(ctx, "learner-1", "Learner", expectVersion(0),
		[]domain.EventDraft{
			{Type: "LearnerRegistered"},
			{Type: "CourseEnrolled"},
			{Type: "LessonCompleted"},
		})
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Append(ctx, "learner-1", "Learner", expectVersion(3),
				draft("LessonCompleted"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, e := range errs {
		if e == nil {
			winners++
		} else {
			assert.ErrorIs(t, e, store.ErrVersionConflict)
		}
	}
	assert.Equal(t, 1, winners)

	version, err := svc.CurrentVersion(ctx, "learner-1", "Learner")
	require.NoError(t, err)
	assert.Equal(t, int64(4), version)
}

func TestEventService_GetAllEvents_Ordering(t *testing.T) {
	t.Parallel()

	svc := NewEventService(memory.NewEventStore(), nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Append(ctx, "a", "Deck", nil, draft("DeckCreated"))
	require.NoError(t, err)
	_, err = svc.Append(ctx, "b", "Deck", nil, draft("DeckCreated"))
	require.NoError(t, err)
	_, err = svc.Append(ctx, "a", "Deck", nil, draft("CardAdded"))
	require.NoError(t, err)

	all, err := svc.GetAllEvents(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Position, all[i-1].Position)
	}

	// Resuming after the first position skips exactly one event
	tail, err := svc.GetAllEvents(ctx, all[0].Position, 0)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}
