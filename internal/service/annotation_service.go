package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kotonoha/shadowing_service/internal/furigana"
	"github.com/kotonoha/shadowing_service/internal/repository"
	"github.com/kotonoha/shadowing_service/internal/sanitize"
)

// annotationSystemPrompt instructs the model to translate each transcript
// segment and add furigana ruby markup for its reading.
const annotationSystemPrompt = `# Role
You are a language-learning assistant preparing transcripts for shadowing practice.

# Instructions
You receive a JSON array of transcript segments: {"start", "end", "text"}.
For EVERY segment produce:
1. "translation": a natural English translation of the segment text.
2. "reading_html": the segment text with phonetic reading annotations using
   HTML ruby markup. For Japanese, wrap each kanji run in
   <ruby>KANJI<rt>READING</rt></ruby> and leave kana/punctuation as plain text.
   For languages without reading annotations, return the text unchanged.

# Rules
- Echo "start" and "end" back EXACTLY as given. Do not round or reorder.
- Use ONLY ruby/rt markup in reading_html. No other tags, no attributes.
- If you cannot produce valid markup, leave reading_html empty and return
  "reading_pairs": [{"base": "...", "reading": "..."}] covering the segment
  text in order instead.
- Output ONLY a raw JSON object, no markdown fences or commentary:

{"annotations": [{"start": 0.0, "end": 1.2, "translation": "...", "reading_html": "..."}]}
`

// ChatCompleter is implemented by providers that can run the annotation
// prompt (Groq primary, Gemini fallback).
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// SegmentAnnotation is one post-processing result tied to a segment by its
// (start, end) timestamps. Providers return either ready-made reading_html
// or structured reading_pairs the service renders itself.
type SegmentAnnotation struct {
	Start        float64         `json:"start"`
	End          float64         `json:"end"`
	Translation  string          `json:"translation"`
	ReadingHTML  string          `json:"reading_html"`
	ReadingPairs []furigana.Pair `json:"reading_pairs,omitempty"`
}

type annotationResponse struct {
	Annotations []SegmentAnnotation `json:"annotations"`
}

// Annotations within this distance of a segment's timestamps are considered
// a match; model output echoes floats imprecisely and Whisper reports
// centisecond granularity.
const mergeEpsilon = 0.05

// AnnotationService runs transcript post-processing: translation and
// furigana annotation through a chat-completion provider.
type AnnotationService struct {
	primary  ChatCompleter
	fallback ChatCompleter
	log      zerolog.Logger
}

// NewAnnotationService creates a new AnnotationService. fallback may be nil.
func NewAnnotationService(primary, fallback ChatCompleter, log zerolog.Logger) *AnnotationService {
	return &AnnotationService{
		primary:  primary,
		fallback: fallback,
		log:      log,
	}
}

// Annotate post-processes transcript segments. It returns a new segment
// slice with translations and sanitized reading markup merged in by
// timestamp. Segments the provider did not cover come back unchanged.
func (s *AnnotationService) Annotate(ctx context.Context, segments []repository.Segment, language string) ([]repository.Segment, error) {
	if len(segments) == 0 {
		return segments, nil
	}

	type promptSegment struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	}
	prompt := make([]promptSegment, len(segments))
	for i, seg := range segments {
		prompt[i] = promptSegment{Start: seg.Start, End: seg.End, Text: seg.Text}
	}

	promptJSON, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal segments: %w", err)
	}

	userMessage := fmt.Sprintf("Language: %s\nSegments:\n%s", language, promptJSON)

	responseText, provider, err := s.callProvider(ctx, userMessage)
	if err != nil {
		return nil, err
	}

	annotations, err := parseAnnotations(responseText)
	if err != nil {
		s.log.Error().Err(err).Str("provider", provider).Str("raw_response", responseText).Msg("Invalid annotation JSON from provider")
		return nil, fmt.Errorf("invalid annotation response: %w", err)
	}

	merged, matched := MergeAnnotations(segments, annotations)

	s.log.Info().
		Str("provider", provider).
		Int("segments", len(segments)).
		Int("annotations", len(annotations)).
		Int("matched", matched).
		Msg("Annotation completed")

	return merged, nil
}

// callProvider tries the primary provider first, then the fallback.
func (s *AnnotationService) callProvider(ctx context.Context, userMessage string) (string, string, error) {
	if s.primary != nil {
		responseText, err := s.primary.ChatCompletion(ctx, annotationSystemPrompt, userMessage)
		if err == nil {
			return responseText, "groq", nil
		}
		s.log.Warn().Err(err).Msg("Primary annotation provider failed, falling back")
	}

	if s.fallback != nil {
		responseText, err := s.fallback.ChatCompletion(ctx, annotationSystemPrompt, userMessage)
		if err == nil {
			return responseText, "gemini", nil
		}
		s.log.Error().Err(err).Msg("Fallback annotation provider also failed")
		return "", "", fmt.Errorf("all annotation providers failed: %w", err)
	}

	return "", "", fmt.Errorf("no annotation provider configured")
}

// parseAnnotations strips possible markdown code fences and unmarshals the
// provider response.
func parseAnnotations(responseText string) ([]SegmentAnnotation, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var resp annotationResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err != nil {
		return nil, err
	}
	return resp.Annotations, nil
}

// MergeAnnotations applies annotations to the segments whose (start, end)
// timestamps match within mergeEpsilon. Unmatched annotations are dropped;
// unmatched segments stay bare. Segment order is preserved. reading_html is
// sanitized before storage. Returns the merged slice and the match count.
func MergeAnnotations(segments []repository.Segment, annotations []SegmentAnnotation) ([]repository.Segment, int) {
	merged := make([]repository.Segment, len(segments))
	copy(merged, segments)

	matched := 0
	for _, ann := range annotations {
		for i := range merged {
			if math.Abs(merged[i].Start-ann.Start) <= mergeEpsilon &&
				math.Abs(merged[i].End-ann.End) <= mergeEpsilon {
				merged[i].Translation = ann.Translation
				if ann.ReadingHTML == "" && len(ann.ReadingPairs) > 0 {
					merged[i].ReadingHTML = furigana.Markup(ann.ReadingPairs)
				} else {
					merged[i].ReadingHTML = sanitize.Clean(ann.ReadingHTML)
				}
				matched++
				break
			}
		}
	}

	return merged, matched
}
