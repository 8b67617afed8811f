// Package llm defines the Provider interface for multimodal inference
// backends.
//
// A provider wraps a remote model API (Gemini, OpenAI, or any backend reachable
// through any-llm-go) and exposes a single request/response call. A request
// carries a text prompt, optional images and an optional system prompt; the
// response is the model's text.
//
// Implementors must be safe for concurrent use and must wrap every failure in
// [ErrInference].
package llm

import (
	"context"
	"errors"
)

// ErrInference is wrapped by every error returned from [Provider.RunInference]
// and by speech synthesis backends.
var ErrInference = errors.New("inference error")

// ErrUnsupportedInput is returned (wrapped in [ErrInference]) when a backend
// cannot accept part of the request, e.g. images on a text-only model.
var ErrUnsupportedInput = errors.New("unsupported input")

// Image is an inline image sent with a request.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request carries everything the model needs to produce a response.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// SystemPrompt is an optional high-priority instruction.
	SystemPrompt string

	// Prompt is the user text. It follows any images in the request.
	Prompt string

	// Images are sent before the prompt, in order.
	Images []Image

	// ThinkingBudget caps reasoning tokens on models that support it. Zero
	// leaves the backend default.
	ThinkingBudget int

	// Temperature in [0.0, 2.0]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the response length. Zero leaves the backend default.
	MaxTokens int
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a successful inference call.
type Response struct {
	// Text is the concatenated text output.
	Text string

	// Model is the model that produced the response.
	Model string

	Usage Usage
}

// Provider is the abstraction over any inference backend.
type Provider interface {
	// RunInference sends req and waits for the full response. An empty
	// response text is reported as an error.
	RunInference(ctx context.Context, req Request) (*Response, error)
}
