// Package ai holds the request types shared by the generative model clients.
package ai

import "errors"

// ErrMalformedResponse marks a model reply whose shape violates the gateway
// contract (no candidates, no text part). Callers can distinguish it from a
// transport failure with errors.Is.
var ErrMalformedResponse = errors.New("malformed model response")

// TextRequest describes a single text-generation call. Zero-valued tuning
// fields leave the model's defaults in place.
type TextRequest struct {
	System          string
	Prompt          string
	Temperature     float32
	TopK            int32
	TopP            float32
	MaxOutputTokens int32
}
