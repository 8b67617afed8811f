// Package gemini provides an llm.Provider backed by the Gemini API through
// google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// DefaultModel is used when neither the provider nor the request names one.
const DefaultModel = "gemini-flash-latest"

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL string
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// Provider implements llm.Provider using the Gemini generateContent API.
type Provider struct {
	client *genai.Client
	model  string
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// RunInference implements llm.Provider.
func (p *Provider) RunInference(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, buildContents(req), buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w: %v", llm.ErrInference, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response from %s: %w", model, llm.ErrInference)
	}

	out := &llm.Response{Text: text, Model: model}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// buildContents places images before the prompt in a single user turn.
func buildContents(req llm.Request) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func buildConfig(req llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.ThinkingBudget != 0 {
		budget := int32(req.ThinkingBudget)
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}
