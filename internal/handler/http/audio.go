package http

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kotonoha/shadowing_service/internal/errors"
	"github.com/kotonoha/shadowing_service/internal/middleware"
	"github.com/kotonoha/shadowing_service/internal/service"
	"github.com/kotonoha/shadowing_service/pkg/response"
)

// Allowed audio MIME types.
var allowedAudioMIME = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/mp4":   true,
	"audio/m4a":   true,
	"audio/x-m4a": true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/webm":  true,
	"audio/ogg":   true,
	"audio/flac":  true,
}

// audioExtMIME maps filename extensions to MIME types for clients that omit
// the part Content-Type.
var audioExtMIME = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// AudioHandler handles audio upload HTTP endpoints.
type AudioHandler struct {
	log            zerolog.Logger
	transcriptions *service.TranscriptionService
	maxUploadBytes int64
}

// NewAudioHandler creates a new AudioHandler.
func NewAudioHandler(log zerolog.Logger, transcriptions *service.TranscriptionService, maxUploadBytes int64) *AudioHandler {
	return &AudioHandler{
		log:            log,
		transcriptions: transcriptions,
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload handles POST /api/v1/audio/upload
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		response.BadRequest(w, "file too large or malformed multipart body")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		response.BadRequest(w, "audio file is required (form field: 'audio')")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		name := strings.ToLower(header.Filename)
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			contentType = audioExtMIME[name[idx:]]
		}
	}

	if !allowedAudioMIME[contentType] {
		response.BadRequest(w, "invalid file type, allowed: mp3, m4a, wav, webm, ogg, flac")
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w, "user not authenticated")
		return
	}

	title := r.FormValue("title")

	result, err := h.transcriptions.ProcessUpload(r.Context(), userID, file, header.Filename, contentType, title)
	if err != nil {
		h.handleError(w, err)
		return
	}

	// Transcription and annotation continue in the background; the batch ID
	// lets the client follow along.
	response.Accepted(w, result)
}

func (h *AudioHandler) handleError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		response.Error(w, appErr.HTTPStatus(), appErr)
		return
	}
	h.log.Error().Err(err).Msg("Internal server error")
	response.InternalError(w, "internal server error")
}
