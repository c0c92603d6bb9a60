package client

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiClient wraps the Google Vertex AI Gemini client. It serves as the
// fallback chat provider when Groq is unavailable.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a new Gemini client using Vertex AI.
func NewGeminiClient(ctx context.Context, projectID, location string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &GeminiClient{
		client: client,
		model:  "gemini-2.0-flash",
	}, nil
}

// NewGeminiClientWithServiceAccount creates a Gemini client using a service
// account file.
func NewGeminiClientWithServiceAccount(ctx context.Context, projectID, location, serviceAccountPath string) (*GeminiClient, error) {
	// The SDK picks up credentials through this variable.
	if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", serviceAccountPath); err != nil {
		return nil, fmt.Errorf("failed to set GOOGLE_APPLICATION_CREDENTIALS: %w", err)
	}

	return NewGeminiClient(ctx, projectID, location)
}

// WithModel sets the model to use.
func (c *GeminiClient) WithModel(model string) *GeminiClient {
	c.model = model
	return c
}

// Close closes the client.
func (c *GeminiClient) Close() {
	// No explicit close needed for the genai SDK
}

// Chat sends a single message and returns the response text.
func (c *GeminiClient) Chat(ctx context.Context, message string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(message), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// ChatCompletion sends a system prompt + user message. Gemini takes a single
// prompt, so the two are concatenated.
func (c *GeminiClient) ChatCompletion(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return c.Chat(ctx, systemPrompt+"\n"+userMessage)
}
