package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/grimoire/internal/api/shared"
	"github.com/phrazzld/grimoire/internal/service"
	"github.com/phrazzld/grimoire/internal/store"
)

// errInvalidQueryParam marks a query parameter that failed to parse.
var errInvalidQueryParam = errors.New("invalid query parameter")

// EventHandler handles event append and read requests.
type EventHandler struct {
	eventService service.EventService
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(eventService service.EventService, logger *slog.Logger) *EventHandler {
	if eventService == nil {
		panic("eventService cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{
		eventService: eventService,
		validator:    validator.New(),
		logger:       logger.With(slog.String("component", "event_handler")),
	}
}

// AppendEvents handles POST /api/streams/{streamType}/{streamID}/events requests.
func (h *EventHandler) AppendEvents(w http.ResponseWriter, r *http.Request) {
	streamType := chi.URLParam(r, "streamType")
	streamID := chi.URLParam(r, "streamID")
	if streamType == "" || streamID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream type and stream ID are required")
		return
	}

	var req AppendRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	result, err := h.eventService.Append(r.Context(), streamID, streamType, req.ExpectedVersion, req.toDomain())
	if err != nil {
		h.respondWithAppendError(w, r, err, streamID, streamType)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, AppendResponse{
		CurrentVersion: result.CurrentVersion,
		LastPosition:   result.LastPosition,
	})
}

// respondWithAppendError maps append failures to HTTP responses. Version
// conflicts carry the expected and actual versions so callers can rebase
// and retry.
func (h *EventHandler) respondWithAppendError(
	w http.ResponseWriter,
	r *http.Request,
	err error,
	streamID, streamType string,
) {
	var conflict *store.VersionConflictError
	if errors.As(err, &conflict) {
		resp := shared.ErrorResponse{
			Error:           "Version conflict",
			Code:            http.StatusConflict,
			TraceID:         shared.GetTraceID(r.Context()),
			ExpectedVersion: &conflict.Expected,
			ActualVersion:   &conflict.Actual,
		}
		h.logger.DebugContext(r.Context(), "append rejected on version conflict",
			slog.String("stream_id", streamID),
			slog.String("stream_type", streamType),
			slog.Int64("expected_version", conflict.Expected),
			slog.Int64("actual_version", conflict.Actual))
		shared.RespondWithJSON(w, r, http.StatusConflict, resp)
		return
	}

	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
}

// GetStreamEvents handles GET /api/streams/{streamType}/{streamID}/events requests.
// Supports from_version and limit query parameters.
func (h *EventHandler) GetStreamEvents(w http.ResponseWriter, r *http.Request) {
	streamType := chi.URLParam(r, "streamType")
	streamID := chi.URLParam(r, "streamID")
	if streamType == "" || streamID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream type and stream ID are required")
		return
	}

	fromVersion, err := parseInt64Query(r, "from_version", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid from_version parameter")
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
		return
	}

	events, err := h.eventService.GetEvents(r.Context(), streamID, streamType, fromVersion, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, eventsToResponse(events))
}

// GetAllEvents handles GET /api/events requests, returning the globally
// ordered feed. Supports from_position and limit query parameters.
func (h *EventHandler) GetAllEvents(w http.ResponseWriter, r *http.Request) {
	fromPosition, err := parseInt64Query(r, "from_position", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid from_position parameter")
		return
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid limit parameter")
		return
	}

	events, err := h.eventService.GetAllEvents(r.Context(), fromPosition, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, eventsToResponse(events))
}

// GetStreamVersion handles GET /api/streams/{streamType}/{streamID}/version requests.
func (h *EventHandler) GetStreamVersion(w http.ResponseWriter, r *http.Request) {
	streamType := chi.URLParam(r, "streamType")
	streamID := chi.URLParam(r, "streamID")
	if streamType == "" || streamID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream type and stream ID are required")
		return
	}

	version, err := h.eventService.CurrentVersion(r.Context(), streamID, streamType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int64{"current_version": version})
}

func parseInt64Query(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errInvalidQueryParam
	}
	return v, nil
}

func parseIntQuery(r *http.Request, name string, def int) (int, error) {
	v, err := parseInt64Query(r, name, int64(def))
	return int(v), err
}
