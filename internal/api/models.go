package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/grimoire/internal/domain"
)

// AppendRequest is the request body for appending events to a stream.
type AppendRequest struct {
	// ExpectedVersion enables the optimistic concurrency check. Omitted or
	// null means "no check"; 0 means the stream must be new.
	ExpectedVersion *int64 `json:"expected_version" validate:"omitempty,gte=0"`

	Events []EventDraftRequest `json:"events" validate:"required,min=1,dive"`
}

// EventDraftRequest is one event in an append batch.
type EventDraftRequest struct {
	Type     string          `json:"type"     validate:"required"`
	Payload  json.RawMessage `json:"payload"`
	Metadata MetadataRequest `json:"metadata"`
}

// MetadataRequest carries the caller-supplied event metadata.
type MetadataRequest struct {
	CorrelationID uuid.UUID         `json:"correlation_id,omitempty"`
	CausationID   uuid.UUID         `json:"causation_id,omitempty"`
	ActorID       uuid.UUID         `json:"actor_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitempty"`
	TraceContext  map[string]string `json:"trace_context,omitempty"`
}

// toDomain converts the request batch into domain drafts.
func (r AppendRequest) toDomain() []domain.EventDraft {
	drafts := make([]domain.EventDraft, len(r.Events))
	for i, e := range r.Events {
		drafts[i] = domain.EventDraft{
			Type:    e.Type,
			Payload: e.Payload,
			Metadata: domain.EventMetadata{
				CorrelationID: e.Metadata.CorrelationID,
				CausationID:   e.Metadata.CausationID,
				ActorID:       e.Metadata.ActorID,
				Timestamp:     e.Metadata.Timestamp,
				TraceContext:  e.Metadata.TraceContext,
			},
		}
	}
	return drafts
}

// AppendResponse reports a successful append.
type AppendResponse struct {
	CurrentVersion int64 `json:"current_version"`
	LastPosition   int64 `json:"last_position"`
}

// EventResponse is the wire representation of a committed event.
type EventResponse struct {
	ID         uuid.UUID       `json:"id"`
	StreamID   string          `json:"stream_id"`
	StreamType string          `json:"stream_type"`
	Version    int64           `json:"version"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   MetadataRequest `json:"metadata"`
	OccurredAt time.Time       `json:"occurred_at"`
	Position   int64           `json:"position"`
}

// EventsResponse wraps an ordered page of events.
type EventsResponse struct {
	Events []EventResponse `json:"events"`
}

func eventToResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		StreamID:   e.StreamID,
		StreamType: e.StreamType,
		Version:    e.Version,
		Type:       e.Type,
		Payload:    e.Payload,
		Metadata: MetadataRequest{
			CorrelationID: e.Metadata.CorrelationID,
			CausationID:   e.Metadata.CausationID,
			ActorID:       e.Metadata.ActorID,
			Timestamp:     e.Metadata.Timestamp,
			TraceContext:  e.Metadata.TraceContext,
		},
		OccurredAt: e.OccurredAt,
		Position:   e.Position,
	}
}

func eventsToResponse(events []domain.Event) EventsResponse {
	out := EventsResponse{Events: make([]EventResponse, len(events))}
	for i, e := range events {
		out.Events[i] = eventToResponse(e)
	}
	return out
}

// SaveSnapshotRequest is the request body for storing a snapshot.
type SaveSnapshotRequest struct {
	Version int64  `json:"version" validate:"required,gt=0"`
	State   []byte `json:"state"   validate:"required"`
}

// SnapshotResponse is the wire representation of a snapshot.
type SnapshotResponse struct {
	StreamID   string    `json:"stream_id"`
	StreamType string    `json:"stream_type"`
	Version    int64     `json:"version"`
	State      []byte    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// AckRequest is the request body for advancing a subscriber's cursor.
type AckRequest struct {
	Position int64 `json:"position" validate:"gte=0"`
}
