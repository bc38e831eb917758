package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/platform/logger"
	"github.com/phrazzld/grimoire/internal/platform/metrics"
	"github.com/phrazzld/grimoire/internal/store"
)

// CommitNotifier is told about newly committed events so live subscribers
// can be woken. Notify must never block: the hand-off to the dispatcher
// must not delay the writer beyond the commit itself.
type CommitNotifier interface {
	Notify(lastPosition int64)
}

// nopNotifier is used when no dispatcher is wired (e.g., in tests).
type nopNotifier struct{}

func (nopNotifier) Notify(int64) {}

// EventService coordinates appends and serves ordered reads.
type EventService interface {
	// Append validates and atomically commits a batch of events to one
	// stream, enforcing the expected version when provided. On success the
	// committed events are handed to the subscription dispatcher without
	// blocking the caller.
	Append(
		ctx context.Context,
		streamID, streamType string,
		expectedVersion *int64,
		drafts []domain.EventDraft,
	) (*store.AppendResult, error)

	// GetEvents returns one stream's events in ascending version order,
	// starting after fromVersion. An unknown stream yields an empty slice.
	GetEvents(
		ctx context.Context,
		streamID, streamType string,
		fromVersion int64,
		limit int,
	) ([]domain.Event, error)

	// GetAllEvents returns the globally ordered cross-stream feed, starting
	// after fromPosition.
	GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.Event, error)

	// CurrentVersion returns the stream's committed version (0 if unknown).
	CurrentVersion(ctx context.Context, streamID, streamType string) (int64, error)
}

type eventService struct {
	events   store.EventStore
	notifier CommitNotifier
	metrics  *metrics.StoreMetrics
	logger   *slog.Logger
}

// NewEventService creates the append/read façade over an event store.
// notifier may be nil when no dispatcher is attached; m may be nil to
// disable instrumentation.
func NewEventService(
	events store.EventStore,
	notifier CommitNotifier,
	m *metrics.StoreMetrics,
	log *slog.Logger,
) EventService {
	if events == nil {
		panic("events store cannot be nil")
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = slog.Default()
	}

	return &eventService{
		events:   events,
		notifier: notifier,
		metrics:  m,
		logger:   log.With(slog.String("component", "event_service")),
	}
}

func (s *eventService) Append(
	ctx context.Context,
	streamID, streamType string,
	expectedVersion *int64,
	drafts []domain.EventDraft,
) (*store.AppendResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	result, err := s.events.Append(ctx, streamID, streamType, expectedVersion, drafts)
	if err != nil {
		conflict := errors.Is(err, store.ErrVersionConflict)
		s.metrics.ObserveAppend(streamType, 0, time.Since(start), conflict)
		if conflict {
			log.Debug("append rejected on version conflict",
				"stream_id", streamID,
				"stream_type", streamType)
		}
		return nil, err
	}

	s.metrics.ObserveAppend(streamType, len(result.Events), time.Since(start), false)

	// Wake live subscribers after the commit; never on the commit path.
	s.notifier.Notify(result.LastPosition)

	return result, nil
}

func (s *eventService) GetEvents(
	ctx context.Context,
	streamID, streamType string,
	fromVersion int64,
	limit int,
) ([]domain.Event, error) {
	start := time.Now()
	events, err := s.events.GetStreamEvents(ctx, streamID, streamType, fromVersion, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRead("stream", time.Since(start))
	return events, nil
}

func (s *eventService) GetAllEvents(ctx context.Context, fromPosition int64, limit int) ([]domain.Event, error) {
	start := time.Now()
	events, err := s.events.GetAllEvents(ctx, fromPosition, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRead("all", time.Since(start))
	return events, nil
}

func (s *eventService) CurrentVersion(ctx context.Context, streamID, streamType string) (int64, error) {
	return s.events.CurrentVersion(ctx, streamID, streamType)
}
