package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event-specific validation errors
var (
	// ErrEventTypeEmpty is returned when an event draft has no event type.
	ErrEventTypeEmpty = errors.New("event type cannot be empty")

	// ErrEventStreamIDEmpty is returned when a stream ID is empty.
	ErrEventStreamIDEmpty = errors.New("stream ID cannot be empty")

	// ErrEventStreamTypeEmpty is returned when a stream type is empty.
	ErrEventStreamTypeEmpty = errors.New("stream type cannot be empty")

	// ErrEventBatchEmpty is returned when an append is attempted with no events.
	ErrEventBatchEmpty = errors.New("event batch cannot be empty")

	// ErrEventPayloadInvalid is returned when an event payload is not valid JSON.
	// The store never interprets payloads beyond this well-formedness check.
	ErrEventPayloadInvalid = errors.New("event payload must be valid JSON")
)

// EventMetadata carries cross-cutting context for an event. All fields are
// supplied by the writer; the store persists them verbatim.
type EventMetadata struct {
	// CorrelationID groups all events caused by a single originating command.
	CorrelationID uuid.UUID `json:"correlation_id,omitempty"`

	// CausationID identifies the event or command that directly caused this event.
	CausationID uuid.UUID `json:"causation_id,omitempty"`

	// ActorID identifies the user on whose behalf the command was issued.
	ActorID uuid.UUID `json:"actor_id,omitempty"`

	// Timestamp is when the writer produced the event.
	Timestamp time.Time `json:"timestamp,omitempty"`

	// TraceContext optionally carries distributed tracing headers.
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

// Event is a single immutable, committed entry in the event log.
// Payload is an opaque blob tagged with Type; typed decoding happens at the
// consumer boundary, never inside the store.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	StreamID   string          `json:"stream_id"`
	StreamType string          `json:"stream_type"`
	Version    int64           `json:"version"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   EventMetadata   `json:"metadata"`
	OccurredAt time.Time       `json:"occurred_at"`

	// Position is the global, strictly increasing sequence assigned at commit,
	// unique across all streams.
	Position int64 `json:"position"`
}

// EventDraft is an event as submitted by a writer, before the store assigns
// its identity, version and global position.
type EventDraft struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Metadata EventMetadata   `json:"metadata"`
}

// NewEventDraft creates an EventDraft with the given type and payload.
// Returns an error if validation fails.
func NewEventDraft(eventType string, payload json.RawMessage, metadata EventMetadata) (EventDraft, error) {
	draft := EventDraft{
		Type:     eventType,
		Payload:  payload,
		Metadata: metadata,
	}
	if err := draft.Validate(); err != nil {
		return EventDraft{}, err
	}
	return draft, nil
}

// Validate checks that the draft is well-formed. A nil payload is allowed
// (events may carry no data), but a non-nil payload must be valid JSON.
func (d EventDraft) Validate() error {
	if d.Type == "" {
		return ErrEventTypeEmpty
	}
	if d.Payload != nil && !json.Valid(d.Payload) {
		return ErrEventPayloadInvalid
	}
	return nil
}

// ValidateBatch checks an append batch before it reaches storage: the stream
// identity must be present and every draft must be valid.
func ValidateBatch(streamID, streamType string, drafts []EventDraft) error {
	if streamID == "" {
		return ErrEventStreamIDEmpty
	}
	if streamType == "" {
		return ErrEventStreamTypeEmpty
	}
	if len(drafts) == 0 {
		return ErrEventBatchEmpty
	}
	for _, d := range drafts {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}
