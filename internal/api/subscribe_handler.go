package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/grimoire/internal/api/shared"
	"github.com/phrazzld/grimoire/internal/store"
	"github.com/phrazzld/grimoire/internal/subscription"
)

// SubscriptionHandler streams committed events to consumers over SSE and
// manages durable subscriber cursors.
type SubscriptionHandler struct {
	dispatcher *subscription.Dispatcher
	cursors    store.CursorStore
	validator  *validator.Validate
	logger     *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(
	dispatcher *subscription.Dispatcher,
	cursors store.CursorStore,
	logger *slog.Logger,
) *SubscriptionHandler {
	if dispatcher == nil {
		panic("dispatcher cannot be nil")
	}
	if cursors == nil {
		panic("cursors cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		dispatcher: dispatcher,
		cursors:    cursors,
		validator:  validator.New(),
		logger:     logger.With(slog.String("component", "subscription_handler")),
	}
}

// SubscribeAll handles GET /api/subscriptions/all requests. Events are
// streamed as SSE messages in global position order, starting strictly
// after from_position. With a name and no from_position, delivery resumes
// from the subscriber's stored cursor.
func (h *SubscriptionHandler) SubscribeAll(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.parseOptions(w, r)
	if !ok {
		return
	}

	sub, err := h.dispatcher.SubscribeToAll(r.Context(), opts)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	defer sub.Cancel()

	h.stream(w, r, sub)
}

// SubscribeStream handles GET /api/subscriptions/streams/{streamType}
// requests. An explicit from_position wins, then a named subscriber's
// stored cursor; otherwise include_existing=false (the default) starts
// the feed at the current end of the log.
func (h *SubscriptionHandler) SubscribeStream(w http.ResponseWriter, r *http.Request) {
	streamType := chi.URLParam(r, "streamType")
	if streamType == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream type is required")
		return
	}

	opts, ok := h.parseOptions(w, r)
	if !ok {
		return
	}

	fromVersion, err := parseInt64Query(r, "from_version", 0)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid from_version parameter")
		return
	}
	opts.FromVersion = fromVersion
	opts.IncludeExisting = r.URL.Query().Get("include_existing") == "true"

	sub, err := h.dispatcher.SubscribeToStream(r.Context(), streamType, opts)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	defer sub.Cancel()

	h.stream(w, r, sub)
}

// parseOptions reads the subscription parameters shared by both endpoints.
// Reports false after writing an error response.
func (h *SubscriptionHandler) parseOptions(w http.ResponseWriter, r *http.Request) (subscription.Options, bool) {
	opts := subscription.Options{
		Name: r.URL.Query().Get("name"),
	}

	raw := r.URL.Query().Get("from_position")
	if raw == "" {
		// Not provided; the dispatcher resolves the start position from
		// the named subscriber's stored cursor or the endpoint's default.
		opts.FromPosition = -1
		return opts, true
	}

	pos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pos < 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid from_position parameter")
		return opts, false
	}
	opts.FromPosition = pos

	return opts, true
}

// stream writes the subscription's events to the client as SSE frames
// until the client disconnects or the subscription breaks.
func (h *SubscriptionHandler) stream(w http.ResponseWriter, r *http.Request, sub *subscription.Subscription) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := h.logger.With(slog.String("trace_id", shared.GetTraceID(r.Context())))
	log.DebugContext(r.Context(), "subscription stream opened",
		slog.Int64("from_position", sub.Position()))

	for {
		select {
		case <-r.Context().Done():
			return

		case event, open := <-sub.Events():
			if !open {
				h.writeStreamEnd(w, flusher, sub)
				return
			}
			data, err := json.Marshal(eventToResponse(event))
			if err != nil {
				log.ErrorContext(r.Context(), "failed to encode event for SSE",
					slog.String("error", err.Error()),
					slog.Int64("position", event.Position))
				return
			}
			// The SSE id carries the event's global position so clients
			// can resume with from_position after a disconnect.
			fmt.Fprintf(w, "id: %d\nevent: event\ndata: %s\n\n", event.Position, data)
			flusher.Flush()
		}
	}
}

// writeStreamEnd emits a terminal SSE frame telling the client why the
// feed closed and where to resume.
func (h *SubscriptionHandler) writeStreamEnd(w http.ResponseWriter, flusher http.Flusher, sub *subscription.Subscription) {
	if err := sub.Err(); err != nil && errors.Is(err, subscription.ErrSubscriptionBroken) {
		fmt.Fprintf(w, "event: error\ndata: {\"error\":%q,\"resume_position\":%d}\n\n",
			GetSafeErrorMessage(err), sub.Position())
	} else {
		fmt.Fprintf(w, "event: end\ndata: {\"resume_position\":%d}\n\n", sub.Position())
	}
	flusher.Flush()
}

// AckCursor handles POST /api/subscribers/{name}/ack requests, durably
// advancing a named subscriber's cursor. Cursors only move forward.
func (h *SubscriptionHandler) AckCursor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Subscriber name is required")
		return
	}

	var req AckRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if err := h.cursors.SaveCursor(r.Context(), name, req.Position); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int64{"position": req.Position})
}

// GetCursor handles GET /api/subscribers/{name}/cursor requests.
func (h *SubscriptionHandler) GetCursor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Subscriber name is required")
		return
	}

	position, err := h.cursors.GetCursor(r.Context(), name)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int64{"position": position})
}
