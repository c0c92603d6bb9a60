package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kotonoha/shadowing_service/internal/client"
)

// Segment is a timestamped slice of a transcript, optionally carrying
// post-processing results (translation, furigana reading markup).
type Segment struct {
	ID          int     `json:"id"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
	ReadingHTML string  `json:"reading_html,omitempty"`
}

// Recording represents an uploaded audio file and its transcript.
type Recording struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Title            string          `json:"title"`
	AudioURL         string          `json:"audio_url"`
	StorageKey       string          `json:"storage_key"`
	Status           string          `json:"status"` // processing, ready, failed
	DetectedLanguage string          `json:"detected_language"`
	Duration         float64         `json:"duration"`
	Segments         []Segment       `json:"segments"`
	RawResponse      json.RawMessage `json:"raw_response,omitempty"`
	ProcessingStatus string          `json:"processing_status"` // pending, processing, completed, failed
	AnnotationStatus string          `json:"annotation_status"` // none, processing, completed, failed
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RecordingRepository defines the interface for recording data access.
type RecordingRepository interface {
	Create(ctx context.Context, rec *Recording) error
	GetByID(ctx context.Context, id uuid.UUID) (*Recording, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Recording, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, audioURL, storageKey string) error
	UpdateTranscript(ctx context.Context, id uuid.UUID, segments []Segment, rawResponse json.RawMessage, detectedLanguage string, duration float64, processingStatus string) error
	UpdateSegments(ctx context.Context, id uuid.UUID, segments []Segment, annotationStatus string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PostgresRecordingRepository implements RecordingRepository with PostgreSQL.
type PostgresRecordingRepository struct {
	db *client.PostgresClient
}

// NewPostgresRecordingRepository creates a new PostgresRecordingRepository.
func NewPostgresRecordingRepository(db *client.PostgresClient) *PostgresRecordingRepository {
	return &PostgresRecordingRepository{db: db}
}

// Create inserts a new recording record.
func (r *PostgresRecordingRepository) Create(ctx context.Context, rec *Recording) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `
		INSERT INTO recordings (user_id, title, audio_url, storage_key, status, processing_status, annotation_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		rec.UserID,
		rec.Title,
		rec.AudioURL,
		rec.StorageKey,
		rec.Status,
		rec.ProcessingStatus,
		rec.AnnotationStatus,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	return nil
}

// GetByID retrieves a recording by its ID.
func (r *PostgresRecordingRepository) GetByID(ctx context.Context, id uuid.UUID) (*Recording, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, fmt.Errorf("database not configured")
	}

	query := `
		SELECT id, user_id, title, audio_url, storage_key, status, detected_language, duration,
		       segments, raw_response, processing_status, annotation_status, created_at, updated_at
		FROM recordings
		WHERE id = $1
	`

	var rec Recording
	var segmentsJSON []byte
	var rawResponseJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Title,
		&rec.AudioURL,
		&rec.StorageKey,
		&rec.Status,
		&rec.DetectedLanguage,
		&rec.Duration,
		&segmentsJSON,
		&rawResponseJSON,
		&rec.ProcessingStatus,
		&rec.AnnotationStatus,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}

	if len(segmentsJSON) > 0 {
		if err := json.Unmarshal(segmentsJSON, &rec.Segments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal segments: %w", err)
		}
	} else {
		rec.Segments = make([]Segment, 0)
	}

	if len(rawResponseJSON) > 0 {
		rec.RawResponse = rawResponseJSON
	}

	return &rec, nil
}

// List returns a page of a user's recordings, newest first, with the total
// count for pagination.
func (r *PostgresRecordingRepository) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Recording, int, error) {
	if r.db == nil || r.db.Pool == nil {
		return nil, 0, fmt.Errorf("database not configured")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM recordings WHERE user_id = $1`
	if err := r.db.Pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count recordings: %w", err)
	}

	query := `
		SELECT id, user_id, title, audio_url, storage_key, status, detected_language, duration,
		       segments, processing_status, annotation_status, created_at, updated_at
		FROM recordings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recs []*Recording
	for rows.Next() {
		var rec Recording
		var segmentsJSON []byte
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Title,
			&rec.AudioURL,
			&rec.StorageKey,
			&rec.Status,
			&rec.DetectedLanguage,
			&rec.Duration,
			&segmentsJSON,
			&rec.ProcessingStatus,
			&rec.AnnotationStatus,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan recording: %w", err)
		}
		if len(segmentsJSON) > 0 {
			if err := json.Unmarshal(segmentsJSON, &rec.Segments); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal segments: %w", err)
			}
		} else {
			rec.Segments = make([]Segment, 0)
		}
		recs = append(recs, &rec)
	}

	return recs, total, nil
}

// UpdateStatus updates the recording status, URL, and storage key after the
// upload stage.
func (r *PostgresRecordingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status, audioURL, storageKey string) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `UPDATE recordings SET status = $1, audio_url = $2, storage_key = $3, updated_at = NOW() WHERE id = $4`
	_, err := r.db.Pool.Exec(ctx, query, status, audioURL, storageKey, id)
	if err != nil {
		return fmt.Errorf("failed to update recording status: %w", err)
	}

	return nil
}

// UpdateTranscript stores the transcript segments (JSONB), raw provider
// response, detected language, duration, and processing status.
func (r *PostgresRecordingRepository) UpdateTranscript(ctx context.Context, id uuid.UUID, segments []Segment, rawResponse json.RawMessage, detectedLanguage string, duration float64, processingStatus string) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	query := `
		UPDATE recordings
		SET segments = $1, raw_response = $2, detected_language = $3, duration = $4,
		    processing_status = $5, updated_at = NOW()
		WHERE id = $6
	`
	result, err := r.db.Pool.Exec(ctx, query, segmentsJSON, rawResponse, detectedLanguage, duration, processingStatus, id)
	if err != nil {
		return fmt.Errorf("failed to update transcript: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}

	return nil
}

// UpdateSegments replaces the segment list after annotation and records the
// annotation status.
func (r *PostgresRecordingRepository) UpdateSegments(ctx context.Context, id uuid.UUID, segments []Segment, annotationStatus string) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}

	query := `UPDATE recordings SET segments = $1, annotation_status = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.Pool.Exec(ctx, query, segmentsJSON, annotationStatus, id)
	if err != nil {
		return fmt.Errorf("failed to update segments: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("recording not found: %s", id)
	}

	return nil
}

// Delete removes a recording.
func (r *PostgresRecordingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if r.db == nil || r.db.Pool == nil {
		return fmt.Errorf("database not configured")
	}

	query := `DELETE FROM recordings WHERE id = $1`
	_, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	return nil
}
