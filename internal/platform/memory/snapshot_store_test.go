package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

func mustSnapshot(t *testing.T, streamID string, version int64, state string) *domain.Snapshot {
	t.Helper()
	snap, err := domain.NewSnapshot(streamID, "LearnerProfile", version, []byte(state))
	require.NoError(t, err)
	return snap
}

func TestSnapshotStore_SaveAndGetLatest(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, mustSnapshot(t, "learner-1", 10, `{"level":"A1"}`)))
	require.NoError(t, s.SaveSnapshot(ctx, mustSnapshot(t, "learner-1", 30, `{"level":"A2"}`)))
	require.NoError(t, s.SaveSnapshot(ctx, mustSnapshot(t, "learner-1", 20, `{"level":"A1+"}`)))

	latest, err := s.GetLatestSnapshot(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Equal(t, int64(30), latest.Version)
	assert.JSONEq(t, `{"level":"A2"}`, string(latest.State))
}

func TestSnapshotStore_SameVersionOverwrites(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, mustSnapshot(t, "learner-1", 10, `{"words":5}`)))
	require.NoError(t, s.SaveSnapshot(ctx, mustSnapshot(t, "learner-1", 10, `{"words":6}`)))

	latest, err := s.GetLatestSnapshot(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Equal(t, int64(10), latest.Version)
	assert.JSONEq(t, `{"words":6}`, string(latest.State))
}

func TestSnapshotStore_NotFound(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()

	_, err := s.GetLatestSnapshot(context.Background(), "nobody", "LearnerProfile")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrSnapshotNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSnapshotStore_Prune(t *testing.T) {
	t.Parallel()

	s := NewSnapshotStore()
	ctx := context.Background()

	for _, v := range []int64{10, 20, 30, 40} {
		require.NoError(t, s.SaveSnapshot(ctx, mustSnapshot(t, "learner-1", v, `{"v":1}`)))
	}

	require.NoError(t, s.PruneSnapshots(ctx, "learner-1", "LearnerProfile", 2))

	// The newest snapshot survives pruning
	latest, err := s.GetLatestSnapshot(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Equal(t, int64(40), latest.Version)

	// keep <= 0 disables pruning
	require.NoError(t, s.PruneSnapshots(ctx, "learner-1", "LearnerProfile", 0))
	latest, err = s.GetLatestSnapshot(ctx, "learner-1", "LearnerProfile")
	require.NoError(t, err)
	assert.Equal(t, int64(40), latest.Version)
}

func TestCursorStore_ForwardOnly(t *testing.T) {
	t.Parallel()

	s := NewCursorStore()
	ctx := context.Background()

	_, err := s.GetCursor(ctx, "projector-1")
	assert.ErrorIs(t, err, store.ErrCursorNotFound)

	require.NoError(t, s.SaveCursor(ctx, "projector-1", 100))
	pos, err := s.GetCursor(ctx, "projector-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos)

	// A stale acknowledgement never moves the cursor backwards
	require.NoError(t, s.SaveCursor(ctx, "projector-1", 40))
	pos, err = s.GetCursor(ctx, "projector-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos)

	require.NoError(t, s.SaveCursor(ctx, "projector-1", 250))
	pos, err = s.GetCursor(ctx, "projector-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), pos)

	// Subscribers are independent
	require.NoError(t, s.SaveCursor(ctx, "mailer", 7))
	pos, err = s.GetCursor(ctx, "mailer")
	require.NoError(t, err)
	assert.Equal(t, int64(7), pos)
}
