package store

import (
	"context"

	"github.com/phrazzld/grimoire/internal/domain"
)

// AppendResult reports the outcome of a successful append.
type AppendResult struct {
	// CurrentVersion is the stream's version after the batch was committed.
	CurrentVersion int64

	// LastPosition is the global position of the final event in the batch.
	LastPosition int64

	// Events are the committed events, with identities, versions and
	// positions assigned. Ordered as submitted.
	Events []domain.Event
}

// EventStore defines the persistence contract for the append-only event log.
// Version: 1.0
type EventStore interface {
	// Append atomically commits a batch of drafts to the given stream.
	// If expectedVersion is non-nil it must equal the stream's currently
	// committed version, or the append fails with a *VersionConflictError
	// and nothing is written. Committed events receive contiguous versions
	// current+1..current+n and strictly increasing global positions.
	Append(
		ctx context.Context,
		streamID, streamType string,
		expectedVersion *int64,
		drafts []domain.EventDraft,
	) (*AppendResult, error)

	// GetStreamEvents returns committed events of one stream in ascending
	// version order, starting after fromVersion. An unknown stream yields an
	// empty result, representing version 0. limit <= 0 means no limit.
	GetStreamEvents(
		ctx context.Context,
		streamID, streamType string,
		fromVersion int64,
		limit int,
	) ([]domain.Event, error)

	// GetAllEvents returns committed events across all streams in ascending
	// global position order, starting after fromPosition. limit <= 0 means
	// no limit.
	GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.Event, error)

	// GetEventsByStreamType returns committed events whose stream type
	// matches, in ascending global position order, starting after
	// fromPosition. Used by typed subscriptions.
	GetEventsByStreamType(
		ctx context.Context,
		streamType string,
		fromPosition int64,
		limit int,
	) ([]domain.Event, error)

	// CurrentVersion returns the stream's committed version, or 0 for an
	// unknown stream.
	CurrentVersion(ctx context.Context, streamID, streamType string) (int64, error)

	// HighestPosition returns the highest committed global position, or 0
	// for an empty log.
	HighestPosition(ctx context.Context) (int64, error)
}

// SnapshotStore defines the persistence contract for aggregate snapshots.
// Version: 1.0
type SnapshotStore interface {
	// SaveSnapshot stores a snapshot. Saving the same (stream, version)
	// twice overwrites the stored state.
	SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error

	// GetLatestSnapshot returns the highest-version snapshot for the stream.
	// Returns ErrSnapshotNotFound if the stream has no snapshot.
	GetLatestSnapshot(ctx context.Context, streamID, streamType string) (*domain.Snapshot, error)

	// PruneSnapshots deletes all but the keep newest snapshots of a stream.
	// Always safe: the event log remains authoritative.
	PruneSnapshots(ctx context.Context, streamID, streamType string, keep int) error
}

// CursorStore persists subscription cursors on behalf of named subscribers,
// so a disconnected consumer can resume exactly where it left off.
// Version: 1.0
type CursorStore interface {
	// SaveCursor records the last acknowledged global position for a subscriber.
	SaveCursor(ctx context.Context, subscriberName string, position int64) error

	// GetCursor returns the last acknowledged position for a subscriber.
	// Returns ErrCursorNotFound if the subscriber has never acknowledged.
	GetCursor(ctx context.Context, subscriberName string) (int64, error)
}
