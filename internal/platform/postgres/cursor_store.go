package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/grimoire/internal/store"
)

// PostgresCursorStore implements the store.CursorStore interface
// using a PostgreSQL database as the storage backend.
type PostgresCursorStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresCursorStore creates a new PostgreSQL implementation of the
// CursorStore interface. If logger is nil, a default logger will be used.
func NewPostgresCursorStore(db store.DBTX, logger *slog.Logger) *PostgresCursorStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresCursorStore{
		db:     db,
		logger: logger.With(slog.String("component", "cursor_store")),
	}
}

// Ensure PostgresCursorStore implements store.CursorStore interface
var _ store.CursorStore = (*PostgresCursorStore)(nil)

// SaveCursor implements store.CursorStore.SaveCursor.
// Cursors only move forward; a stale acknowledgement is a no-op.
func (s *PostgresCursorStore) SaveCursor(ctx context.Context, subscriberName string, position int64) error {
	if subscriberName == "" {
		return fmt.Errorf("%w: subscriber name cannot be empty", store.ErrValidation)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_cursors (subscriber_name, last_acknowledged_position, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_name)
		DO UPDATE SET
			last_acknowledged_position = GREATEST(
				subscription_cursors.last_acknowledged_position,
				EXCLUDED.last_acknowledged_position),
			updated_at = EXCLUDED.updated_at
	`, subscriberName, position, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", MapError(err))
	}

	return nil
}

// GetCursor implements store.CursorStore.GetCursor.
// Returns store.ErrCursorNotFound if the subscriber has never acknowledged.
func (s *PostgresCursorStore) GetCursor(ctx context.Context, subscriberName string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_acknowledged_position FROM subscription_cursors
		WHERE subscriber_name = $1
	`, subscriberName).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, store.ErrCursorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", MapError(err))
	}

	return position, nil
}
