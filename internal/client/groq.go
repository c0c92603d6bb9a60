package client

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kotonoha/shadowing_service/internal/errors"
	"github.com/kotonoha/shadowing_service/internal/resilience"
)

// GroqClient wraps the Groq OpenAI-compatible API for Whisper transcription
// and chat completions.
type GroqClient struct {
	client       *openai.Client
	whisperModel string
	chatModel    string
}

// TranscriptionResult is the verbose_json transcription response mapped to
// local types.
type TranscriptionResult struct {
	Task     string                 `json:"task"`
	Language string                 `json:"language"`
	Duration float64                `json:"duration"`
	Text     string                 `json:"text"`
	Segments []TranscriptionSegment `json:"segments"`
}

// TranscriptionSegment is a sentence-level segment with timing in seconds.
type TranscriptionSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewGroqClient creates a new Groq client. baseURL points at the
// OpenAI-compatible endpoint (https://api.groq.com/openai/v1).
func NewGroqClient(apiKey, baseURL, whisperModel, chatModel string) *GroqClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &GroqClient{
		client:       openai.NewClientWithConfig(cfg),
		whisperModel: whisperModel,
		chatModel:    chatModel,
	}
}

// Transcribe sends an audio file to Whisper for transcription.
// language is optional (e.g. "ja", "en"); if empty, Whisper auto-detects.
func (c *GroqClient) Transcribe(ctx context.Context, audioPath, language string) (*TranscriptionResult, error) {
	if c == nil || c.client == nil {
		return nil, errors.New(errors.ErrTranscription, "Groq credentials not configured")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.whisperModel,
		FilePath: audioPath,
		Reader:   f,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, wrapGroqError("groq transcription", err)
	}

	result := &TranscriptionResult{
		Task:     resp.Task,
		Language: resp.Language,
		Duration: resp.Duration,
		Text:     resp.Text,
		Segments: make([]TranscriptionSegment, 0, len(resp.Segments)),
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, TranscriptionSegment{
			ID:    seg.ID,
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	return result, nil
}

// ChatCompletion sends a system prompt + user message and returns the
// assistant's response text.
func (c *GroqClient) ChatCompletion(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New(errors.ErrAnnotation, "Groq credentials not configured")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage},
		},
	})
	if err != nil {
		return "", wrapGroqError("groq chat completion", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from groq")
	}

	return resp.Choices[0].Message.Content, nil
}

// wrapGroqError surfaces the upstream HTTP status so the retry layer can
// tell transient failures from permanent ones.
func wrapGroqError(op string, err error) error {
	var apiErr *openai.APIError
	if goerrors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &resilience.StatusError{
			Status: apiErr.HTTPStatusCode,
			Err:    fmt.Errorf("%s: %w", op, err),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
