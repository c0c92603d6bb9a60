package http

import (
	goerrors "errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kotonoha/shadowing_service/internal/errors"
	"github.com/kotonoha/shadowing_service/internal/middleware"
	"github.com/kotonoha/shadowing_service/internal/resilience"
	"github.com/kotonoha/shadowing_service/internal/service"
	"github.com/kotonoha/shadowing_service/pkg/response"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// RecordingHandler handles recording HTTP endpoints.
type RecordingHandler struct {
	log            zerolog.Logger
	transcriptions *service.TranscriptionService
	batchService   *service.BatchService
}

// NewRecordingHandler creates a new RecordingHandler.
func NewRecordingHandler(log zerolog.Logger, transcriptions *service.TranscriptionService, batchService *service.BatchService) *RecordingHandler {
	return &RecordingHandler{
		log:            log,
		transcriptions: transcriptions,
		batchService:   batchService,
	}
}

// Get handles GET /api/v1/recordings/{recordingID}
func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")
	if recordingID == "" {
		response.BadRequest(w, "recording ID is required")
		return
	}

	rec, err := h.transcriptions.GetRecording(r.Context(), recordingID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rec)
}

// List handles GET /api/v1/recordings
func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "user not authenticated")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	recs, total, err := h.transcriptions.ListRecordings(r.Context(), userID, perPage, (page-1)*perPage)
	if err != nil {
		h.handleError(w, err)
		return
	}

	totalPages := (total + perPage - 1) / perPage
	response.JSONWithMeta(w, http.StatusOK, recs, &response.Meta{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// Delete handles DELETE /api/v1/recordings/{recordingID}
func (h *RecordingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")
	if recordingID == "" {
		response.BadRequest(w, "recording ID is required")
		return
	}

	if err := h.transcriptions.DeleteRecording(r.Context(), recordingID); err != nil {
		h.handleError(w, err)
		return
	}

	response.NoContent(w)
}

// Annotate handles POST /api/v1/recordings/{recordingID}/annotate
func (h *RecordingHandler) Annotate(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")
	if recordingID == "" {
		response.BadRequest(w, "recording ID is required")
		return
	}

	rec, err := h.transcriptions.Reannotate(r.Context(), recordingID)
	if err != nil {
		if goerrors.Is(err, resilience.ErrQueuedOffline) {
			response.ServiceUnavailable(w, "service is offline, annotation queued for retry")
			return
		}
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, rec)
}

// GetBatchStatus handles GET /api/v1/batches/{batchID}
func (h *RecordingHandler) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if batchID == "" {
		response.BadRequest(w, "batch ID is required")
		return
	}

	batch, err := h.batchService.GetBatch(r.Context(), batchID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	if batch == nil {
		response.NotFound(w, "batch not found")
		return
	}

	response.JSON(w, http.StatusOK, batch)
}

func (h *RecordingHandler) handleError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		response.Error(w, appErr.HTTPStatus(), appErr)
		return
	}
	h.log.Error().Err(err).Msg("Internal server error")
	response.InternalError(w, "internal server error")
}
