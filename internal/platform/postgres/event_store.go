package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/store"
)

// positionLockKey is the advisory lock key serializing global position
// assignment with commit. Holding it until commit keeps the visibility
// order of the global feed identical to position order.
const positionLockKey = 0x4752494D // "GRIM"

// PostgresEventStore implements the store.EventStore interface
// using a PostgreSQL database as the storage backend.
type PostgresEventStore struct {
	db       *sql.DB
	logger   *slog.Logger
	position atomic.Int64
}

// NewPostgresEventStore creates a new PostgreSQL implementation of the
// EventStore interface. It accepts a database connection that should be
// initialized and managed by the caller. If logger is nil, a default
// logger will be used. Call Init before first use to recover the global
// position counter.
func NewPostgresEventStore(db *sql.DB, logger *slog.Logger) *PostgresEventStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresEventStore{
		db:     db,
		logger: logger.With(slog.String("component", "event_store")),
	}
}

// Ensure PostgresEventStore implements store.EventStore interface
var _ store.EventStore = (*PostgresEventStore)(nil)

// Init recovers the global position counter from the highest stored
// position. Must be called once at startup, before any append.
func (s *PostgresEventStore) Init(ctx context.Context) error {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM events`,
	).Scan(&max)
	if err != nil {
		return fmt.Errorf("failed to recover position counter: %w", MapError(err))
	}

	s.position.Store(max)
	s.logger.Info("recovered global position counter", "position", max)
	return nil
}

// Append implements store.EventStore.Append.
// The whole batch commits atomically: the stream_versions row is locked,
// the expected version is checked, events are inserted with contiguous
// versions and counter-assigned positions, and the version row advances.
// A losing concurrent writer observes a *store.VersionConflictError and
// nothing is written.
func (s *PostgresEventStore) Append(
	ctx context.Context,
	streamID, streamType string,
	expectedVersion *int64,
	drafts []domain.EventDraft,
) (*store.AppendResult, error) {
	if err := domain.ValidateBatch(streamID, streamType, drafts); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}

	var result *store.AppendResult
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize global position assignment across all streams for the
		// remainder of this transaction.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, positionLockKey); err != nil {
			return MapError(err)
		}

		currentVersion, err := lockStreamVersion(ctx, tx, streamID, streamType)
		if err != nil {
			return err
		}

		if expectedVersion != nil && *expectedVersion != currentVersion {
			return &store.VersionConflictError{
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

			if err := insertEvent(ctx, tx, event); err != nil {
				return err
			}
			committed = append(committed, event)
		}

		newVersion := currentVersion + int64(len(committed))
		if err := upsertStreamVersion(ctx, tx, streamID, streamType, newVersion); err != nil {
			return err
		}

		result = &store.AppendResult{
			CurrentVersion: newVersion,
			LastPosition:   committed[len(committed)-1].Position,
			Events:         committed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("appended events",
		"stream_id", streamID,
		"stream_type", streamType,
		"current_version", result.CurrentVersion,
		"last_position", result.LastPosition,
		"count", len(result.Events))

	return result, nil
}

// lockStreamVersion reads the stream's committed version under a row lock,
// serializing concurrent appends to the same stream. Unknown streams are
// version 0 and take no lock; the unique version index backstops the first
// writers racing to create a stream.
func lockStreamVersion(ctx context.Context, tx *sql.Tx, streamID, streamType string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx, `
		SELECT version FROM stream_versions
		WHERE stream_id = $1 AND stream_type = $2
		FOR UPDATE
	`, streamID, streamType).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, MapError(err)
	}
	return version, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event domain.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal event metadata: %v", store.ErrValidation, err)
	}

	payload := event.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, stream_id, stream_type, version, event_type,
			payload, metadata, occurred_at, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		event.ID,
		event.StreamID,
		event.StreamType,
		event.Version,
		event.Type,
		[]byte(payload),
		metadata,
		event.OccurredAt,
		event.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", MapError(err))
	}
	return nil
}

func upsertStreamVersion(ctx context.Context, tx *sql.Tx, streamID, streamType string, version int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stream_versions (stream_id, stream_type, version, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id, stream_type)
		DO UPDATE SET version = EXCLUDED.version, updated_at = EXCLUDED.updated_at
	`, streamID, streamType, version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance stream version: %w", MapError(err))
	}
	return nil
}

const eventColumns = `event_id, stream_id, stream_type, version, event_type,
	payload, metadata, occurred_at, position`

// GetStreamEvents implements store.EventStore.GetStreamEvents.
func (s *PostgresEventStore) GetStreamEvents(
	ctx context.Context,
	streamID, streamType string,
	fromVersion int64,
	limit int,
) ([]domain.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE stream_id = $1 AND stream_type = $2 AND version > $3
		ORDER BY version ASC
	`, eventColumns)
	args := []any{streamID, streamType, fromVersion}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// GetAllEvents implements store.EventStore.GetAllEvents.
func (s *PostgresEventStore) GetAllEvents(
	ctx context.Context,
	fromPosition int64,
	limit int,
) ([]domain.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE position > $1
		ORDER BY position ASC
	`, eventColumns)
	args := []any{fromPosition}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// GetEventsByStreamType implements store.EventStore.GetEventsByStreamType.
func (s *PostgresEventStore) GetEventsByStreamType(
	ctx context.Context,
	streamType string,
	fromPosition int64,
	limit int,
) ([]domain.Event, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM events
		WHERE stream_type = $1 AND position > $2
		ORDER BY position ASC
	`, eventColumns)
	args := []any{streamType, fromPosition}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	return s.queryEvents(ctx, query, args...)
}

func (s *PostgresEventStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			event    domain.Event
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.StreamID,
			&event.StreamType,
			&event.Version,
			&event.Type,
			&payload,
			&metadata,
			&event.OccurredAt,
			&event.Position,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", MapError(err))
		}

		event.Payload = json.RawMessage(payload)
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", MapError(err))
	}

	return events, nil
}

// CurrentVersion implements store.EventStore.CurrentVersion.
func (s *PostgresEventStore) CurrentVersion(ctx context.Context, streamID, streamType string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM stream_versions
		WHERE stream_id = $1 AND stream_type = $2
	`, streamID, streamType).Scan(&version)
	if err == sql.ErrNoRows {
		// Unknown stream is version 0, not an error.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stream version: %w", MapError(err))
	}
	return version, nil
}

// HighestPosition implements store.EventStore.HighestPosition.
func (s *PostgresEventStore) HighestPosition(ctx context.Context) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM events`,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read highest position: %w", MapError(err))
	}
	return max, nil
}
