package domain

import (
	"errors"
	"time"
)

// Snapshot-specific validation errors
var (
	// ErrSnapshotVersionInvalid is returned when a snapshot version is not positive.
	ErrSnapshotVersionInvalid = errors.New("snapshot version must be positive")

	// ErrSnapshotStateEmpty is returned when a snapshot carries no state.
	ErrSnapshotStateEmpty = errors.New("snapshot state cannot be empty")
)

// Snapshot is a materialized aggregate state at a known stream version.
// Rehydration loads the latest snapshot and replays only events with
// Version > Snapshot.Version; the event log remains authoritative, so
// pruning older snapshots is always safe.
type Snapshot struct {
	StreamID   string    `json:"stream_id"`
	StreamType string    `json:"stream_type"`
	Version    int64     `json:"version"`
	State      []byte    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewSnapshot creates a Snapshot for the given stream at the given version.
// Returns an error if validation fails.
func NewSnapshot(streamID, streamType string, version int64, state []byte) (*Snapshot, error) {
	s := &Snapshot{
		StreamID:   streamID,
		StreamType: streamType,
		Version:    version,
		State:      state,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that the snapshot is well-formed.
func (s *Snapshot) Validate() error {
	if s.StreamID == "" {
		return ErrEventStreamIDEmpty
	}
	if s.StreamType == "" {
		return ErrEventStreamTypeEmpty
	}
	if s.Version < 1 {
		return ErrSnapshotVersionInvalid
	}
	if len(s.State) == 0 {
		return ErrSnapshotStateEmpty
	}
	return nil
}
