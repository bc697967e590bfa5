package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"mealsnap/internal/platform/ai"
)

// ErrMissingAPIKey is returned when no API credential is configured.
var ErrMissingAPIKey = errors.New("gemini api key is not set")

// Client is a client for the Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Client{client: client, model: model}, nil
}

// Vision sends an instruction plus image to the vision model and returns the
// response text.
func (c *Client) Vision(ctx context.Context, prompt string, imageData []byte) (string, error) {
	m := c.client.GenerativeModel(c.model)
	resp, err := m.GenerateContent(ctx, genai.Text(prompt), genai.ImageData("jpeg", imageData))
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

// Text sends a text-generation request and returns the response text.
func (c *Client) Text(ctx context.Context, req ai.TextRequest) (string, error) {
	m := c.client.GenerativeModel(c.model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.Temperature > 0 {
		m.SetTemperature(req.Temperature)
	}
	if req.TopK > 0 {
		m.SetTopK(req.TopK)
	}
	if req.TopP > 0 {
		m.SetTopP(req.TopP)
	}
	if req.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(req.MaxOutputTokens)
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", err
	}
	return firstText(resp)
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response from Gemini", ai.ErrMalformedResponse)
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("%w: unexpected response format from Gemini", ai.ErrMalformedResponse)
	}
	return string(text), nil
}
