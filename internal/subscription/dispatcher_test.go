package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/platform/memory"
	"github.com/phrazzld/grimoire/internal/store"
)

func testConfig() DispatcherConfig {
	return DispatcherConfig{
		BufferSize:   8,
		BatchSize:    16,
		PollInterval: 20 * time.Millisecond,
	}
}

func appendEvents(t *testing.T, s store.EventStore, streamID, streamType string, types ...string) []domain.Event {
	t.Helper()
	drafts := make([]domain.EventDraft, len(types))
	for i, typ := range types {
		drafts[i] = domain.EventDraft{
			Type:    typ,
			Payload: json.RawMessage(`{}`),
		}
	}
	result, err := s.Append(context.Background(), streamID, streamType, nil, drafts)
	require.NoError(t, err)
	return result.Events
}

// collect receives up to n events or fails the test on timeout.
func collect(t *testing.T, sub *Subscription, n int) []domain.Event {
	t.Helper()
	out := make([]domain.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				t.Fatalf("channel closed after %d of %d events (err: %v)", len(out), n, sub.Err())
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestDispatcher_ReplayFromPosition(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	appendEvents(t, events, "deck-1", "Deck", "DeckCreated", "CardAdded", "CardAdded")

	sub, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	defer sub.Cancel()

	got := collect(t, sub, 3)
	assert.Equal(t, "DeckCreated", got[0].Type)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Position, got[i-1].Position)
	}
}

func TestDispatcher_ResumeSkipsDeliveredPrefix(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	var boundary int64
	for i := 0; i < 10; i++ {
		committed := appendEvents(t, events, fmt.Sprintf("deck-%d", i), "Deck", "DeckCreated")
		if i == 4 {
			boundary = committed[0].Position
		}
	}

	// A consumer that saw everything up to the boundary reconnects there
	sub, err := d.SubscribeToAll(context.Background(), Options{FromPosition: boundary})
	require.NoError(t, err)
	defer sub.Cancel()

	got := collect(t, sub, 5)
	for _, e := range got {
		assert.Greater(t, e.Position, boundary)
	}
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Position, got[i-1].Position)
	}
}

func TestDispatcher_LiveDelivery(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	sub, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	defer sub.Cancel()

	committed := appendEvents(t, events, "deck-1", "Deck", "DeckCreated")
	d.Notify(committed[0].Position)

	got := collect(t, sub, 1)
	assert.Equal(t, "DeckCreated", got[0].Type)
	assert.Equal(t, committed[0].Position, got[0].Position)
}

func TestDispatcher_PollFallbackWithoutNotify(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	sub, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	defer sub.Cancel()

	// No Notify call; the poll ticker must pick the commit up
	appendEvents(t, events, "deck-1", "Deck", "DeckCreated")

	got := collect(t, sub, 1)
	assert.Equal(t, "DeckCreated", got[0].Type)
}

func TestDispatcher_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	cfg := testConfig()
	cfg.BufferSize = 1
	d := NewDispatcher(events, nil, cfg, nil, nil)
	defer d.Stop()

	slow, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	defer slow.Cancel()

	fast, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	defer fast.Cancel()

	// The slow subscriber never reads; its tiny buffer fills immediately.
	// The fast subscriber must still receive everything.
	for i := 0; i < 20; i++ {
		appendEvents(t, events, "deck-1", "Deck", "CardAdded")
	}
	d.Notify(0)

	got := collect(t, fast, 20)
	assert.Len(t, got, 20)
}

func TestDispatcher_IndependentCancellation(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	first, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	second, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)
	defer second.Cancel()

	first.Cancel()
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled subscription did not terminate")
	}
	assert.NoError(t, first.Err())

	// The surviving subscription keeps delivering
	appendEvents(t, events, "deck-1", "Deck", "DeckCreated")
	d.Notify(0)
	got := collect(t, second, 1)
	assert.Equal(t, "DeckCreated", got[0].Type)
}

func TestDispatcher_TypedSubscription(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	appendEvents(t, events, "deck-1", "Deck", "DeckCreated")
	appendEvents(t, events, "learner-1", "Learner", "LearnerRegistered")
	appendEvents(t, events, "deck-1", "Deck", "CardAdded")

	sub, err := d.SubscribeToStream(context.Background(), "Deck", Options{
		FromPosition:    -1,
		IncludeExisting: true,
	})
	require.NoError(t, err)
	defer sub.Cancel()

	got := collect(t, sub, 2)
	assert.Equal(t, "DeckCreated", got[0].Type)
	assert.Equal(t, "CardAdded", got[1].Type)
	for _, e := range got {
		assert.Equal(t, "Deck", e.StreamType)
	}
}

func TestDispatcher_TypedSubscription_TailOnly(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	appendEvents(t, events, "deck-1", "Deck", "DeckCreated", "CardAdded")

	// IncludeExisting=false starts at the current end of the log
	sub, err := d.SubscribeToStream(context.Background(), "Deck", Options{FromPosition: -1})
	require.NoError(t, err)
	defer sub.Cancel()

	appendEvents(t, events, "deck-1", "Deck", "CardRemoved")
	d.Notify(0)

	got := collect(t, sub, 1)
	assert.Equal(t, "CardRemoved", got[0].Type)
}

func TestDispatcher_TypedSubscription_NamedResumeFromCursor(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	cursors := memory.NewCursorStore()
	d := NewDispatcher(events, cursors, testConfig(), nil, nil)
	defer d.Stop()

	committed := appendEvents(t, events, "deck-1", "Deck",
		"DeckCreated", "CardAdded", "CardAdded", "CardRemoved")

	// The consumer acknowledged through the second event, then went away;
	// more commits landed in the meantime.
	require.NoError(t, cursors.SaveCursor(context.Background(),
		"deck-projector", committed[1].Position))
	appendEvents(t, events, "deck-1", "Deck", "CardRelabeled")

	// IncludeExisting is false here, but the stored cursor must win over
	// the start-at-head default or the events committed while the consumer
	// was away would never be delivered.
	sub, err := d.SubscribeToStream(context.Background(), "Deck", Options{
		FromPosition: -1,
		Name:         "deck-projector",
	})
	require.NoError(t, err)
	defer sub.Cancel()

	got := collect(t, sub, 3)
	assert.Equal(t, "CardAdded", got[0].Type)
	assert.Equal(t, committed[2].Position, got[0].Position)
	assert.Equal(t, "CardRemoved", got[1].Type)
	assert.Equal(t, "CardRelabeled", got[2].Type)
}

func TestDispatcher_TypedSubscription_FromVersion(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	appendEvents(t, events, "deck-1", "Deck",
		"DeckCreated", "CardAdded", "CardAdded", "CardRemoved")

	sub, err := d.SubscribeToStream(context.Background(), "Deck", Options{
		FromPosition:    0,
		FromVersion:     2,
		IncludeExisting: true,
	})
	require.NoError(t, err)
	defer sub.Cancel()

	got := collect(t, sub, 2)
	assert.Equal(t, int64(3), got[0].Version)
	assert.Equal(t, int64(4), got[1].Version)
}

func TestDispatcher_NamedSubscriberCursor(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	cursors := memory.NewCursorStore()
	d := NewDispatcher(events, cursors, testConfig(), nil, nil)
	defer d.Stop()

	committed := appendEvents(t, events, "deck-1", "Deck",
		"DeckCreated", "CardAdded", "CardAdded")

	sub, err := d.SubscribeToAll(context.Background(), Options{
		FromPosition: -1,
		Name:         "projector",
	})
	require.NoError(t, err)

	got := collect(t, sub, 3)
	lastDelivered := got[2].Position
	assert.Equal(t, committed[2].Position, lastDelivered)

	// The dispatcher persisted the cursor on the subscriber's behalf
	require.Eventually(t, func() bool {
		pos, err := cursors.GetCursor(context.Background(), "projector")
		return err == nil && pos == lastDelivered
	}, 2*time.Second, 10*time.Millisecond)
	sub.Cancel()

	// A reconnect with no explicit position resumes past everything seen
	appendEvents(t, events, "deck-1", "Deck", "CardRemoved")

	resumed, err := d.SubscribeToAll(context.Background(), Options{
		FromPosition: -1,
		Name:         "projector",
	})
	require.NoError(t, err)
	defer resumed.Cancel()

	tail := collect(t, resumed, 1)
	assert.Equal(t, "CardRemoved", tail[0].Type)
	assert.Greater(t, tail[0].Position, lastDelivered)
}

func TestDispatcher_StopClosesSubscriptions(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)

	sub, err := d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.NoError(t, err)

	d.Stop()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close on dispatcher stop")
	}

	// Subscribing after Stop is refused
	_, err = d.SubscribeToAll(context.Background(), Options{FromPosition: 0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscriptionBroken)
}

func TestDispatcher_CallerContextCancelsSubscription(t *testing.T) {
	t.Parallel()

	events := memory.NewEventStore()
	d := NewDispatcher(events, nil, testConfig(), nil, nil)
	defer d.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := d.SubscribeToAll(ctx, Options{FromPosition: 0})
	require.NoError(t, err)

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close on caller context cancellation")
	}
}
