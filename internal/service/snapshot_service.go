package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

// SnapshotService manages aggregate snapshots. Snapshot cadence (how often
// writers snapshot) is caller policy; the service only persists, serves,
// and optionally prunes them.
// Version: 1.0
type SnapshotService interface {
	// SaveSnapshot stores a snapshot and applies the configured retention.
	// The snapshot version must not exceed the stream's committed version.
	SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error

	// GetLatestSnapshot returns the highest-version snapshot for the
	// stream, or store.ErrSnapshotNotFound.
	GetLatestSnapshot(ctx context.Context, streamID, streamType string) (*domain.Snapshot, error)

	// LoadForRehydration returns the latest snapshot (nil when the stream
	// has none) plus all events after the snapshot's version, so that
	// snapshot state + replay reproduces a full replay from version 1.
	LoadForRehydration(
		ctx context.Context,
		streamID, streamType string,
	) (*domain.Snapshot, []domain.Event, error)
}

type snapshotService struct {
	snapshots store.SnapshotStore
	events    store.EventStore

	// keep is how many newest snapshots to retain per stream; 0 keeps all.
	keep   int
	logger *slog.Logger
}

// NewSnapshotService creates the snapshot manager.
func NewSnapshotService(
	snapshots store.SnapshotStore,
	events store.EventStore,
	keep int,
	log *slog.Logger,
) SnapshotService {
	if snapshots == nil {
		panic("snapshot store cannot be nil")
	}
	if events == nil {
		panic("events store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	return &snapshotService{
		snapshots: snapshots,
		events:    events,
		keep:      keep,
		logger:    log.With(slog.String("component", "snapshot_service")),
	}
}

func (s *snapshotService) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	currentVersion, err := s.events.CurrentVersion(ctx, snapshot.StreamID, snapshot.StreamType)
	if err != nil {
		return err
	}
	if snapshot.Version > currentVersion {
		return fmt.Errorf(
			"%w: snapshot version %d exceeds stream version %d",
			store.ErrValidation,
			snapshot.Version,
			currentVersion,
		)
	}

	if err := s.snapshots.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}

	if s.keep > 0 {
		if err := s.snapshots.PruneSnapshots(ctx, snapshot.StreamID, snapshot.StreamType, s.keep); err != nil {
			// Retention is best-effort; the log stays authoritative.
			s.logger.Warn("failed to prune snapshots",
				"stream_id", snapshot.StreamID,
				"stream_type", snapshot.StreamType,
				"error", err)
		}
	}

	return nil
}

func (s *snapshotService) GetLatestSnapshot(
	ctx context.Context,
	streamID, streamType string,
) (*domain.Snapshot, error) {
	return s.snapshots.GetLatestSnapshot(ctx, streamID, streamType)
}

func (s *snapshotService) LoadForRehydration(
	ctx context.Context,
	streamID, streamType string,
) (*domain.Snapshot, []domain.Event, error) {
	snapshot, err := s.snapshots.GetLatestSnapshot(ctx, streamID, streamType)
	if err != nil && !store.IsNotFoundError(err) {
		return nil, nil, err
	}

	fromVersion := int64(0)
	if snapshot != nil {
		fromVersion = snapshot.Version
	}

	events, err := s.events.GetStreamEvents(ctx, streamID, streamType, fromVersion, 0)
	if err != nil {
		return nil, nil, err
	}

	return snapshot, events, nil
}
