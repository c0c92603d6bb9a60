package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotonoha/shadowing_service/internal/client"
	"github.com/kotonoha/shadowing_service/internal/repository"
	"github.com/kotonoha/shadowing_service/internal/resilience"
)

// memoryRecordingRepo is an in-memory RecordingRepository for tests.
type memoryRecordingRepo struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*repository.Recording
}

func newMemoryRecordingRepo() *memoryRecordingRepo {
	return &memoryRecordingRepo{recs: make(map[uuid.UUID]*repository.Recording)}
}

func (m *memoryRecordingRepo) Create(ctx context.Context, rec *repository.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *memoryRecordingRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryRecordingRepo) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*repository.Recording, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Recording
	for _, rec := range m.recs {
		if rec.UserID == userID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memoryRecordingRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status, audioURL, storageKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = status
	rec.AudioURL = audioURL
	rec.StorageKey = storageKey
	return nil
}

func (m *memoryRecordingRepo) UpdateTranscript(ctx context.Context, id uuid.UUID, segments []repository.Segment, rawResponse json.RawMessage, detectedLanguage string, duration float64, processingStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Segments = segments
	rec.RawResponse = rawResponse
	rec.DetectedLanguage = detectedLanguage
	rec.Duration = duration
	rec.ProcessingStatus = processingStatus
	return nil
}

func (m *memoryRecordingRepo) UpdateSegments(ctx context.Context, id uuid.UUID, segments []repository.Segment, annotationStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Segments = segments
	rec.AnnotationStatus = annotationStatus
	return nil
}

func (m *memoryRecordingRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.recs, id)
	return nil
}

// memoryStore records uploads and deletes.
type memoryStore struct {
	mu      sync.Mutex
	uploads map[string][]byte
	deleted []string
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{uploads: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.uploads[key] = data
	return "https://cdn.example/" + key, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

// fakeTranscriber returns a canned transcription result.
type fakeTranscriber struct {
	result *client.TranscriptionResult
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath, language string) (*client.TranscriptionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeAnnotator adds a fixed translation to every segment, or fails.
type fakeAnnotator struct {
	err error
}

func (f *fakeAnnotator) Annotate(ctx context.Context, segments []repository.Segment, language string) ([]repository.Segment, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]repository.Segment, len(segments))
	copy(out, segments)
	for i := range out {
		out[i].Translation = "translated"
		out[i].ReadingHTML = "<ruby>" + out[i].Text + "<rt>reading</rt></ruby>"
	}
	return out, nil
}

func testManager() *resilience.Manager {
	policy := resilience.Policy{
		MaxAttempts:         2,
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
	return resilience.NewManager(policy, "http://127.0.0.1:0/probe", time.Hour, zerolog.Nop())
}

func groqResult() *client.TranscriptionResult {
	return &client.TranscriptionResult{
		Task:     "transcribe",
		Language: "japanese",
		Duration: 5.0,
		Text:     "今日は晴れです 散歩に行きましょう",
		Segments: []client.TranscriptionSegment{
			{ID: 0, Start: 0.0, End: 2.5, Text: "今日は晴れです"},
			{ID: 1, Start: 2.5, End: 5.0, Text: "散歩に行きましょう"},
		},
	}
}

func newTestService(repo repository.RecordingRepository, store client.ObjectStore, tr Transcriber, an Annotator) *TranscriptionService {
	return newTestServiceWithManager(repo, store, tr, an, testManager())
}

func newTestServiceWithManager(repo repository.RecordingRepository, store client.ObjectStore, tr Transcriber, an Annotator, mgr *resilience.Manager) *TranscriptionService {
	batch := NewBatchService(nil, zerolog.Nop())
	return NewTranscriptionService(repo, store, tr, an, batch, mgr, nil, zerolog.Nop())
}

// offlineManager starts a manager whose probe target is unreachable and
// waits for the monitor to observe the offline state.
func offlineManager(t *testing.T) *resilience.Manager {
	t.Helper()
	policy := resilience.Policy{
		MaxAttempts:         2,
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
	m := resilience.NewManager(policy, "http://127.0.0.1:0/probe", time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for m.Monitor.Online() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never observed the offline state")
		}
		time.Sleep(time.Millisecond)
	}
	return m
}

func openTestAudio(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte("fake-mp3-bytes"), 0o644); err != nil {
		t.Fatalf("write test audio: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open test audio: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// waitForRecording polls until the predicate holds or the deadline passes.
func waitForRecording(t *testing.T, repo *memoryRecordingRepo, id uuid.UUID, pred func(*repository.Recording) bool) *repository.Recording {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := repo.GetByID(context.Background(), id)
		if err == nil && pred(rec) {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("recording did not reach expected state")
	return nil
}

func TestProcessUploadRunsFullPipeline(t *testing.T) {
	repo := newMemoryRecordingRepo()
	store := newMemoryStore()
	svc := newTestService(repo, store, &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	userID := uuid.NewString()
	result, err := svc.ProcessUpload(context.Background(), userID, openTestAudio(t), "clip.mp3", "audio/mpeg", "Morning practice")
	require.NoError(t, err)
	require.NotNil(t, result.Recording)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, "ready", result.Recording.Status)
	assert.Equal(t, "Morning practice", result.Recording.Title)

	store.mu.Lock()
	assert.Len(t, store.uploads, 1)
	store.mu.Unlock()

	// The blob key is traceable back to its row.
	assert.Contains(t, result.Recording.StorageKey, result.Recording.ID.String())

	rec := waitForRecording(t, repo, result.Recording.ID, func(r *repository.Recording) bool {
		return r.ProcessingStatus == "completed" && r.AnnotationStatus == "completed"
	})

	assert.Equal(t, "japanese", rec.DetectedLanguage)
	assert.InDelta(t, 5.0, rec.Duration, 0.001)
	require.Len(t, rec.Segments, 2)
	assert.Equal(t, "今日は晴れです", rec.Segments[0].Text)
	assert.Equal(t, "translated", rec.Segments[0].Translation)
	assert.NotEmpty(t, rec.Segments[0].ReadingHTML)
}

func TestProcessUploadAnnotationFailureKeepsTranscript(t *testing.T) {
	repo := newMemoryRecordingRepo()
	store := newMemoryStore()
	svc := newTestService(repo, store, &fakeTranscriber{result: groqResult()}, &fakeAnnotator{err: errors.New("llm down")})

	result, err := svc.ProcessUpload(context.Background(), uuid.NewString(), openTestAudio(t), "clip.mp3", "audio/mpeg", "")
	require.NoError(t, err)

	rec := waitForRecording(t, repo, result.Recording.ID, func(r *repository.Recording) bool {
		return r.AnnotationStatus == "failed"
	})

	// Transcript survives the annotation failure; shadowing still works.
	assert.Equal(t, "completed", rec.ProcessingStatus)
	require.Len(t, rec.Segments, 2)
	assert.Empty(t, rec.Segments[0].Translation)
}

func TestProcessUploadTranscriptionFailureMarksFailed(t *testing.T) {
	repo := newMemoryRecordingRepo()
	store := newMemoryStore()
	transcriber := &fakeTranscriber{err: &resilience.StatusError{Status: 400, Err: errors.New("bad audio")}}
	svc := newTestService(repo, store, transcriber, &fakeAnnotator{})

	result, err := svc.ProcessUpload(context.Background(), uuid.NewString(), openTestAudio(t), "clip.mp3", "audio/mpeg", "")
	require.NoError(t, err)

	rec := waitForRecording(t, repo, result.Recording.ID, func(r *repository.Recording) bool {
		return r.ProcessingStatus == "failed"
	})
	assert.Empty(t, rec.Segments)
}

func TestProcessUploadStorageFailure(t *testing.T) {
	repo := newMemoryRecordingRepo()
	store := newMemoryStore()
	store.err = &resilience.StatusError{Status: 403, Err: errors.New("denied")}
	svc := newTestService(repo, store, &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	_, err := svc.ProcessUpload(context.Background(), uuid.NewString(), openTestAudio(t), "clip.mp3", "audio/mpeg", "")
	require.Error(t, err)
}

func TestProcessUploadRejectsInvalidUserID(t *testing.T) {
	svc := newTestService(newMemoryRecordingRepo(), newMemoryStore(), &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	_, err := svc.ProcessUpload(context.Background(), "not-a-uuid", openTestAudio(t), "clip.mp3", "audio/mpeg", "")
	require.Error(t, err)
}

func TestDeleteRecordingRemovesBlob(t *testing.T) {
	repo := newMemoryRecordingRepo()
	store := newMemoryStore()
	svc := newTestService(repo, store, &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	rec := &repository.Recording{
		UserID:     uuid.New(),
		StorageKey: "audio/x.mp3",
		Status:     "ready",
	}
	require.NoError(t, repo.Create(context.Background(), rec))

	require.NoError(t, svc.DeleteRecording(context.Background(), rec.ID.String()))

	store.mu.Lock()
	assert.Equal(t, []string{"audio/x.mp3"}, store.deleted)
	store.mu.Unlock()

	_, err := repo.GetByID(context.Background(), rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetRecordingInvalidID(t *testing.T) {
	svc := newTestService(newMemoryRecordingRepo(), newMemoryStore(), &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	_, err := svc.GetRecording(context.Background(), "nope")
	require.Error(t, err)
}

func TestReannotate(t *testing.T) {
	repo := newMemoryRecordingRepo()
	svc := newTestService(repo, newMemoryStore(), &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	rec := &repository.Recording{
		UserID:           uuid.New(),
		Status:           "ready",
		ProcessingStatus: "completed",
		AnnotationStatus: "failed",
		DetectedLanguage: "japanese",
		Segments: []repository.Segment{
			{Start: 0.0, End: 2.5, Text: "今日は晴れです"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), rec))

	updated, err := svc.Reannotate(context.Background(), rec.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "completed", updated.AnnotationStatus)
	require.Len(t, updated.Segments, 1)
	assert.Equal(t, "translated", updated.Segments[0].Translation)
}

func TestReannotateRequiresCompletedTranscript(t *testing.T) {
	repo := newMemoryRecordingRepo()
	svc := newTestService(repo, newMemoryStore(), &fakeTranscriber{result: groqResult()}, &fakeAnnotator{})

	rec := &repository.Recording{
		UserID:           uuid.New(),
		Status:           "processing",
		ProcessingStatus: "processing",
	}
	require.NoError(t, repo.Create(context.Background(), rec))

	_, err := svc.Reannotate(context.Background(), rec.ID.String())
	require.Error(t, err)
}

func TestTranscriptionToSegmentsFallsBackToFullText(t *testing.T) {
	result := &client.TranscriptionResult{
		Text:     "no segment data",
		Duration: 3.2,
	}

	segments := transcriptionToSegments(result)
	require.Len(t, segments, 1)
	assert.Equal(t, "no segment data", segments[0].Text)
	assert.InDelta(t, 3.2, segments[0].End, 0.001)
}

func TestTranscriptionFailureReconciledAfterOfflineDrain(t *testing.T) {
	repo := newMemoryRecordingRepo()
	mgr := offlineManager(t)
	transcriber := &fakeTranscriber{err: errors.New("speech api rejected the clip")}
	svc := newTestServiceWithManager(repo, newMemoryStore(), transcriber, &fakeAnnotator{}, mgr)

	result, err := svc.ProcessUpload(context.Background(), uuid.NewString(), openTestAudio(t), "clip.mp3", "audio/mpeg", "")
	require.NoError(t, err)

	// The transcription op parks on the retry queue.
	deadline := time.Now().Add(5 * time.Second)
	for mgr.Queue.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("transcription op was never queued")
		}
		time.Sleep(time.Millisecond)
	}

	tempPath := filepath.Join(os.TempDir(), result.Recording.ID.String()+"_audio.mp3")
	_, err = os.Stat(tempPath)
	require.NoError(t, err, "temp audio should stay on disk while queued")

	rec, err := repo.GetByID(context.Background(), result.Recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", rec.ProcessingStatus)

	mgr.Queue.Drain(context.Background())

	rec, err = repo.GetByID(context.Background(), result.Recording.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", rec.ProcessingStatus)

	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err), "temp audio should be removed after the terminal failure")
}

func TestReannotateFailureReconciledAfterOfflineDrain(t *testing.T) {
	repo := newMemoryRecordingRepo()
	mgr := offlineManager(t)
	annotator := &fakeAnnotator{err: errors.New("model unavailable")}
	svc := newTestServiceWithManager(repo, newMemoryStore(), &fakeTranscriber{result: groqResult()}, annotator, mgr)

	rec := &repository.Recording{
		UserID:           uuid.New(),
		Status:           "ready",
		ProcessingStatus: "completed",
		AnnotationStatus: "none",
		DetectedLanguage: "japanese",
		Segments: []repository.Segment{
			{Start: 0.0, End: 2.5, Text: "今日は晴れです"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), rec))

	_, err := svc.Reannotate(context.Background(), rec.ID.String())
	require.ErrorIs(t, err, resilience.ErrQueuedOffline)

	mgr.Queue.Drain(context.Background())

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.AnnotationStatus)
}
