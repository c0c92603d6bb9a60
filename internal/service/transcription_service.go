package service

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kotonoha/shadowing_service/internal/client"
	"github.com/kotonoha/shadowing_service/internal/errors"
	"github.com/kotonoha/shadowing_service/internal/repository"
	"github.com/kotonoha/shadowing_service/internal/resilience"
)

// Transcriber is the transcription API client.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*client.TranscriptionResult, error)
}

// Annotator runs transcript post-processing.
type Annotator interface {
	Annotate(ctx context.Context, segments []repository.Segment, language string) ([]repository.Segment, error)
}

// EventPublisher publishes lifecycle events. May be nil when Pub/Sub is not
// configured.
type EventPublisher interface {
	PublishWithAttributes(ctx context.Context, data interface{}, attrs map[string]string) error
}

// TranscriptionService owns the upload → store → transcribe → annotate
// pipeline.
type TranscriptionService struct {
	repo        repository.RecordingRepository
	store       client.ObjectStore
	transcriber Transcriber
	annotator   Annotator
	batch       *BatchService
	resilience  *resilience.Manager
	events      EventPublisher
	log         zerolog.Logger
}

// NewTranscriptionService creates a new TranscriptionService.
func NewTranscriptionService(
	repo repository.RecordingRepository,
	store client.ObjectStore,
	transcriber Transcriber,
	annotator Annotator,
	batch *BatchService,
	res *resilience.Manager,
	events EventPublisher,
	log zerolog.Logger,
) *TranscriptionService {
	return &TranscriptionService{
		repo:        repo,
		store:       store,
		transcriber: transcriber,
		annotator:   annotator,
		batch:       batch,
		resilience:  res,
		events:      events,
		log:         log,
	}
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	Recording *repository.Recording `json:"recording"`
	BatchID   string                `json:"batch_id"`
}

// GetRecording retrieves a recording by its ID string.
func (s *TranscriptionService) GetRecording(ctx context.Context, idStr string) (*repository.Recording, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, errors.Validation("invalid recording ID")
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if goerrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("recording")
		}
		return nil, errors.InternalWrap("failed to get recording", err)
	}

	return rec, nil
}

// ListRecordings returns a page of a user's recordings and the total count.
func (s *TranscriptionService) ListRecordings(ctx context.Context, userID string, limit, offset int) ([]*repository.Recording, int, error) {
	parsedUserID, err := uuid.Parse(userID)
	if err != nil {
		return nil, 0, errors.Validation("invalid user ID")
	}

	recs, total, err := s.repo.List(ctx, parsedUserID, limit, offset)
	if err != nil {
		return nil, 0, errors.InternalWrap("failed to list recordings", err)
	}

	return recs, total, nil
}

// DeleteRecording deletes a recording and its audio blob.
func (s *TranscriptionService) DeleteRecording(ctx context.Context, idStr string) error {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return errors.Validation("invalid recording ID")
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if goerrors.Is(err, repository.ErrNotFound) {
			return errors.NotFound("recording")
		}
		return errors.InternalWrap("failed to get recording", err)
	}

	if rec.StorageKey != "" && s.store != nil {
		if err := s.store.Delete(ctx, rec.StorageKey); err != nil {
			// The row is the source of truth; losing an orphan blob is
			// recoverable, a dangling row is not.
			s.log.Warn().Err(err).Str("storage_key", rec.StorageKey).Msg("Failed to delete audio blob")
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.InternalWrap("failed to delete recording", err)
	}

	s.publishEvent(ctx, "recording.deleted", id)
	return nil
}

// ProcessUpload handles the full upload pipeline:
// create DB record → save to tmp → upload to object storage → spawn async
// transcription job.
func (s *TranscriptionService) ProcessUpload(ctx context.Context, userID string, file multipart.File, filename, contentType, title string) (*UploadResult, error) {
	parsedUserID, err := uuid.Parse(userID)
	if err != nil {
		return nil, errors.Validation("invalid user ID")
	}

	// Step 1: Create initial DB record with "processing" status. The row ID
	// comes from the database and names the temp file and the blob key.
	if title == "" {
		title = filename
	}
	rec := &repository.Recording{
		UserID:           parsedUserID,
		Title:            title,
		Status:           "processing",
		ProcessingStatus: "pending",
		AnnotationStatus: "none",
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, errors.InternalWrap("failed to create recording record", err)
	}

	batchID := uuid.New().String()
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".mp3"
	}
	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s_audio%s", rec.ID, ext))

	_ = s.batch.CreateBatch(ctx, batchID, rec.ID.String(), userID)

	// Step 2: Save uploaded file to temp
	if err := s.saveTempFile(tempPath, file); err != nil {
		os.Remove(tempPath)
		_ = s.repo.UpdateStatus(ctx, rec.ID, "failed", "", "")
		_ = s.batch.UpdateJob(ctx, batchID, "upload", "failed", err.Error())
		return nil, errors.InternalWrap("failed to save temp file", err)
	}

	// Step 3: Upload to object storage, retried on transient failures
	storageKey := fmt.Sprintf("audio/%s%s", rec.ID, ext)
	data, err := os.ReadFile(tempPath)
	if err != nil {
		os.Remove(tempPath)
		_ = s.repo.UpdateStatus(ctx, rec.ID, "failed", "", "")
		_ = s.batch.UpdateJob(ctx, batchID, "upload", "failed", err.Error())
		return nil, errors.InternalWrap("failed to read temp file", err)
	}

	var audioURL string
	err = s.resilience.Runner.Do(ctx, "audio-upload", func(ctx context.Context) error {
		url, uerr := s.store.Upload(ctx, storageKey, data, contentType)
		if uerr != nil {
			return uerr
		}
		audioURL = url
		return nil
	})
	if err != nil {
		os.Remove(tempPath)
		_ = s.repo.UpdateStatus(ctx, rec.ID, "failed", "", "")
		_ = s.batch.UpdateJob(ctx, batchID, "upload", "failed", err.Error())
		return nil, errors.Wrap(errors.ErrStorageService, "failed to upload audio to storage", err)
	}

	// Step 4: Update DB record with URL and "ready" status
	if err := s.repo.UpdateStatus(ctx, rec.ID, "ready", audioURL, storageKey); err != nil {
		os.Remove(tempPath)
		_ = s.batch.UpdateJob(ctx, batchID, "upload", "failed", err.Error())
		return nil, errors.InternalWrap("failed to update recording record", err)
	}

	rec.AudioURL = audioURL
	rec.StorageKey = storageKey
	rec.Status = "ready"

	_ = s.batch.UpdateJob(ctx, batchID, "upload", "completed", "")
	s.publishEvent(ctx, "recording.ready", rec.ID)

	s.log.Info().
		Str("recording_id", rec.ID.String()).
		Str("user_id", userID).
		Str("batch_id", batchID).
		Str("audio_url", audioURL).
		Msg("Audio upload completed, starting transcription")

	// Step 5: Spawn async transcription + annotation goroutine
	go s.processTranscript(rec.ID, tempPath, batchID)

	return &UploadResult{Recording: rec, BatchID: batchID}, nil
}

// processTranscript runs in a background goroutine. The transcription call
// goes through the resilience manager: transient failures are retried and,
// when the network is offline, the whole operation parks on the retry queue
// until connectivity returns.
func (s *TranscriptionService) processTranscript(recordingID uuid.UUID, audioPath, batchID string) {
	ctx := context.Background()

	_ = s.batch.UpdateJob(ctx, batchID, "transcript", "processing", "")

	op := func(ctx context.Context) error {
		result, err := s.transcriber.Transcribe(ctx, audioPath, "")
		if err != nil {
			return err
		}
		s.completeTranscription(ctx, recordingID, audioPath, batchID, result)
		return nil
	}

	// Runs on terminal failure whether the op failed here or on a later
	// queue drain, so the recording never sticks in "pending".
	onFailure := func(ctx context.Context, err error) {
		os.Remove(audioPath)
		s.log.Error().Err(err).Str("recording_id", recordingID.String()).Msg("Transcription failed")
		_ = s.repo.UpdateTranscript(ctx, recordingID, nil, nil, "", 0, "failed")
		_ = s.batch.UpdateJob(ctx, batchID, "transcript", "failed", err.Error())
		_ = s.batch.UpdateJob(ctx, batchID, "annotation", "failed", "skipped: transcript failed")
		s.publishEvent(ctx, "transcript.failed", recordingID)
	}

	err := s.resilience.Execute(ctx, fmt.Sprintf("transcribe:%s", recordingID), op, onFailure)
	if goerrors.Is(err, resilience.ErrQueuedOffline) {
		// Temp file stays on disk; the queue re-runs op on reconnect.
		s.log.Warn().
			Str("recording_id", recordingID.String()).
			Msg("Network offline, transcription queued for retry")
	}
}

// completeTranscription persists the transcript and kicks off annotation.
// The transcript is marked completed before annotation runs; a failed
// annotation never takes the transcript down with it.
func (s *TranscriptionService) completeTranscription(ctx context.Context, recordingID uuid.UUID, audioPath, batchID string, result *client.TranscriptionResult) {
	defer os.Remove(audioPath)

	segments := transcriptionToSegments(result)
	rawJSON, _ := json.Marshal(result)
	detectedLang := result.Language
	if detectedLang == "" {
		detectedLang = "unknown"
	}

	if err := s.repo.UpdateTranscript(ctx, recordingID, segments, rawJSON, detectedLang, result.Duration, "completed"); err != nil {
		s.log.Error().Err(err).Str("recording_id", recordingID.String()).Msg("Failed to save transcript")
		_ = s.batch.UpdateJob(ctx, batchID, "transcript", "failed", err.Error())
		_ = s.batch.UpdateJob(ctx, batchID, "annotation", "failed", "skipped: transcript failed")
		return
	}

	_ = s.batch.UpdateJob(ctx, batchID, "transcript", "completed", "")
	s.publishEvent(ctx, "transcript.completed", recordingID)

	s.log.Info().
		Str("recording_id", recordingID.String()).
		Str("language", detectedLang).
		Int("segment_count", len(segments)).
		Float64("duration_sec", result.Duration).
		Msg("Transcription completed")

	s.runAnnotation(ctx, recordingID, batchID, segments, detectedLang)
}

// runAnnotation post-processes the transcript.
func (s *TranscriptionService) runAnnotation(ctx context.Context, recordingID uuid.UUID, batchID string, segments []repository.Segment, language string) {
	_ = s.batch.UpdateJob(ctx, batchID, "annotation", "processing", "")

	if len(segments) == 0 {
		s.log.Warn().Str("recording_id", recordingID.String()).Msg("Empty transcript, skipping annotation")
		_ = s.batch.UpdateJob(ctx, batchID, "annotation", "failed", "empty transcript")
		return
	}

	merged, err := s.annotator.Annotate(ctx, segments, language)
	if err != nil {
		s.log.Error().Err(err).Str("recording_id", recordingID.String()).Msg("Annotation failed, transcript remains usable")
		_ = s.repo.UpdateSegments(ctx, recordingID, segments, "failed")
		_ = s.batch.UpdateJob(ctx, batchID, "annotation", "failed", err.Error())
		s.publishEvent(ctx, "annotation.failed", recordingID)
		return
	}

	if err := s.repo.UpdateSegments(ctx, recordingID, merged, "completed"); err != nil {
		s.log.Error().Err(err).Str("recording_id", recordingID.String()).Msg("Failed to save annotations")
		_ = s.batch.UpdateJob(ctx, batchID, "annotation", "failed", err.Error())
		return
	}

	_ = s.batch.UpdateJob(ctx, batchID, "annotation", "completed", "")
	s.publishEvent(ctx, "annotation.completed", recordingID)
}

// Reannotate re-runs post-processing for a recording whose transcript is
// already completed.
func (s *TranscriptionService) Reannotate(ctx context.Context, idStr string) (*repository.Recording, error) {
	rec, err := s.GetRecording(ctx, idStr)
	if err != nil {
		return nil, err
	}

	if rec.ProcessingStatus != "completed" {
		return nil, errors.Validation("recording has no completed transcript")
	}
	if len(rec.Segments) == 0 {
		return nil, errors.Validation("recording has no segments to annotate")
	}

	var merged []repository.Segment
	op := func(ctx context.Context) error {
		out, aerr := s.annotator.Annotate(ctx, rec.Segments, rec.DetectedLanguage)
		if aerr != nil {
			return aerr
		}
		merged = out
		if uerr := s.repo.UpdateSegments(ctx, rec.ID, out, "completed"); uerr != nil {
			// Annotation itself succeeded, do not retry the provider call.
			s.log.Error().Err(uerr).Str("recording_id", rec.ID.String()).Msg("failed to save annotations")
			return nil
		}
		s.publishEvent(ctx, "annotation.completed", rec.ID)
		return nil
	}
	onFailure := func(ctx context.Context, ferr error) {
		s.log.Error().Err(ferr).Str("recording_id", rec.ID.String()).Msg("Reannotation failed")
		_ = s.repo.UpdateSegments(ctx, rec.ID, rec.Segments, "failed")
		s.publishEvent(ctx, "annotation.failed", rec.ID)
	}

	err = s.resilience.Execute(ctx, fmt.Sprintf("annotate:%s", rec.ID), op, onFailure)
	if err != nil {
		if goerrors.Is(err, resilience.ErrQueuedOffline) {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrAnnotation, "annotation failed", err)
	}

	rec.Segments = merged
	rec.AnnotationStatus = "completed"

	return rec, nil
}

// transcriptionToSegments maps provider segments to local segment records.
// Timestamps are already in seconds.
func transcriptionToSegments(result *client.TranscriptionResult) []repository.Segment {
	if len(result.Segments) == 0 {
		// No segment-level data, return full text as a single segment
		if result.Text != "" {
			return []repository.Segment{{
				Text:  result.Text,
				Start: 0,
				End:   result.Duration,
			}}
		}
		return []repository.Segment{}
	}

	segments := make([]repository.Segment, len(result.Segments))
	for i, seg := range result.Segments {
		segments[i] = repository.Segment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		}
	}
	return segments
}

// saveTempFile writes the multipart file to a temp path on disk.
func (s *TranscriptionService) saveTempFile(path string, src multipart.File) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	return nil
}

func (s *TranscriptionService) publishEvent(ctx context.Context, event string, recordingID uuid.UUID) {
	if s.events == nil {
		return
	}

	payload := map[string]string{
		"event":        event,
		"recording_id": recordingID.String(),
	}
	if err := s.events.PublishWithAttributes(ctx, payload, map[string]string{"event": event}); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("Failed to publish lifecycle event")
	}
}
