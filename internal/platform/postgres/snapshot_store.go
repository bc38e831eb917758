package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

// PostgresSnapshotStore implements the store.SnapshotStore interface
// using a PostgreSQL database as the storage backend.
type PostgresSnapshotStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresSnapshotStore creates a new PostgreSQL implementation of the
// SnapshotStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller. If logger is nil,
// a default logger will be used.
func NewPostgresSnapshotStore(db store.DBTX, logger *slog.Logger) *PostgresSnapshotStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresSnapshotStore{
		db:     db,
		logger: logger.With(slog.String("component", "snapshot_store")),
	}
}

// Ensure PostgresSnapshotStore implements store.SnapshotStore interface
var _ store.SnapshotStore = (*PostgresSnapshotStore)(nil)

// SaveSnapshot implements store.SnapshotStore.SaveSnapshot.
// Saving the same (stream, version) twice overwrites the stored state.
func (s *PostgresSnapshotStore) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (stream_id, stream_type, version, state_blob, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stream_id, stream_type, version)
		DO UPDATE SET state_blob = EXCLUDED.state_blob, created_at = EXCLUDED.created_at
	`,
		snapshot.StreamID,
		snapshot.StreamType,
		snapshot.Version,
		snapshot.State,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", MapError(err))
	}

	s.logger.Debug("saved snapshot",
		"stream_id", snapshot.StreamID,
		"stream_type", snapshot.StreamType,
		"version", snapshot.Version,
		"size", len(snapshot.State))

	return nil
}

// GetLatestSnapshot implements store.SnapshotStore.GetLatestSnapshot.
// Returns store.ErrSnapshotNotFound if the stream has no snapshot.
func (s *PostgresSnapshotStore) GetLatestSnapshot(
	ctx context.Context,
	streamID, streamType string,
) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT stream_id, stream_type, version, state_blob, created_at
		FROM snapshots
		WHERE stream_id = $1 AND stream_type = $2
		ORDER BY version DESC
		LIMIT 1
	`, streamID, streamType).Scan(
		&snapshot.StreamID,
		&snapshot.StreamType,
		&snapshot.Version,
		&snapshot.State,
		&snapshot.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", MapError(err))
	}

	return &snapshot, nil
}

// PruneSnapshots implements store.SnapshotStore.PruneSnapshots.
func (s *PostgresSnapshotStore) PruneSnapshots(
	ctx context.Context,
	streamID, streamType string,
	keep int,
) error {
	if keep <= 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE stream_id = $1 AND stream_type = $2 AND version NOT IN (
			SELECT version FROM snapshots
			WHERE stream_id = $1 AND stream_type = $2
			ORDER BY version DESC
			LIMIT $3
		)
	`, streamID, streamType, keep)
	if err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", MapError(err))
	}

	return nil
}
