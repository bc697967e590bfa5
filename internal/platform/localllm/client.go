// Package localllm talks to an OpenAI-compatible chat completions endpoint,
// typically a model served on the local machine. It implements the same
// surface as the Gemini client so either can back the pipeline.
package localllm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"mealsnap/internal/platform/ai"
)

const defaultAPIURL = "http://localhost:1234/v1/chat/completions"

// Client represents a client for the local LLM.
type Client struct {
	httpClient *http.Client
	apiURL     string
	model      string
}

// NewClient creates a new client for the local LLM.
func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		httpClient: &http.Client{},
		apiURL:     apiURL,
		model:      "gemma-3-12b-it:2",
	}
}

// Request represents the request body for the local LLM.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a message in the request.
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

// Content represents the content of a message.
type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents the image URL in the content.
type ImageURL struct {
	URL string `json:"url"`
}

// Response represents the response from the local LLM.
type Response struct {
	Choices []Choice `json:"choices"`
}

// Choice represents a choice in the response.
type Choice struct {
	Message ResponseMessage `json:"message"`
}

// ResponseMessage represents a message in the response.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Vision sends an instruction plus image and returns the response text. The
// image travels as a base64 data URL, the transport-safe form the chat
// completions API expects.
func (c *Client) Vision(ctx context.Context, prompt string, imageData []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(imageData)
	messages := []Message{
		{
			Role: "user",
			Content: []Content{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: "data:image/jpeg;base64," + encoded}},
			},
		},
	}
	return c.complete(ctx, Request{Model: c.model, Messages: messages, Temperature: 1, MaxTokens: 1024})
}

// Text sends a text-generation request and returns the response text.
func (c *Client) Text(ctx context.Context, req ai.TextRequest) (string, error) {
	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: []Content{{Type: "text", Text: req.System}}})
	}
	messages = append(messages, Message{Role: "user", Content: []Content{{Type: "text", Text: req.Prompt}}})
	return c.complete(ctx, Request{
		Model:       c.model,
		Messages:    messages,
		Temperature: float64(req.Temperature),
		MaxTokens:   int(req.MaxOutputTokens),
	})
}

func (c *Client) complete(ctx context.Context, reqBody Request) (string, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("received non-OK status code: %d", resp.StatusCode)
	}

	var llmResp Response
	if err := json.NewDecoder(resp.Body).Decode(&llmResp); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(llmResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no content found in response", ai.ErrMalformedResponse)
	}
	return llmResp.Choices[0].Message.Content, nil
}
