package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/grimoire/internal/api/shared"
	"github.com/phrazzld/grimoire/internal/domain"
	"github.com/phrazzld/grimoire/internal/service"
)

// SnapshotHandler handles snapshot save and load requests.
type SnapshotHandler struct {
	snapshotService service.SnapshotService
	validator       *validator.Validate
	logger          *slog.Logger
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(snapshotService service.SnapshotService, logger *slog.Logger) *SnapshotHandler {
	if snapshotService == nil {
		panic("snapshotService cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotHandler{
		snapshotService: snapshotService,
		validator:       validator.New(),
		logger:          logger.With(slog.String("component", "snapshot_handler")),
	}
}

// SaveSnapshot handles PUT /api/streams/{streamType}/{streamID}/snapshot requests.
func (h *SnapshotHandler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	streamType := chi.URLParam(r, "streamType")
	streamID := chi.URLParam(r, "streamID")
	if streamType == "" || streamID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream type and stream ID are required")
		return
	}

	var req SaveSnapshotRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	snapshot, err := domain.NewSnapshot(streamID, streamType, req.Version, req.State)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if err := h.snapshotService.SaveSnapshot(r.Context(), snapshot); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SnapshotResponse{
		StreamID:   snapshot.StreamID,
		StreamType: snapshot.StreamType,
		Version:    snapshot.Version,
		State:      snapshot.State,
		CreatedAt:  snapshot.CreatedAt,
	})
}

// GetLatestSnapshot handles GET /api/streams/{streamType}/{streamID}/snapshot requests.
func (h *SnapshotHandler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	streamType := chi.URLParam(r, "streamType")
	streamID := chi.URLParam(r, "streamID")
	if streamType == "" || streamID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Stream type and stream ID are required")
		return
	}

	snapshot, err := h.snapshotService.GetLatestSnapshot(r.Context(), streamID, streamType)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SnapshotResponse{
		StreamID:   snapshot.StreamID,
		StreamType: snapshot.StreamType,
		Version:    snapshot.Version,
		State:      snapshot.State,
		CreatedAt:  snapshot.CreatedAt,
	})
}
