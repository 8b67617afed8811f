// Package anyllm adapts github.com/mozilla-ai/any-llm-go to llm.Provider.
// It backs the text-only stages (narration script, live sentence) when a
// non-Gemini vendor or a local model server is configured. Image requests
// fail with [llm.ErrUnsupportedInput] so a fallback group skips ahead to a
// multimodal backend.
package anyllm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps vendor names to any-llm constructors. Keys are lower case.
var backends = map[string]constructor{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the supported vendor names, sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider is a text-only llm.Provider on one any-llm backend and model.
type Provider struct {
	vendor  string
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for vendor (see [Backends]) serving model. Without
// an API key option the backend reads its vendor's environment variable.
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	vendor = strings.ToLower(vendor)
	ctor, ok := backends[vendor]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported vendor %q (supported: %s)", vendor, strings.Join(Backends(), ", "))
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %s backend: %w", vendor, err)
	}
	return &Provider{vendor: vendor, backend: backend, model: model}, nil
}

// RunInference implements llm.Provider. The request model names a Gemini
// model and is ignored in favour of the configured one; the thinking budget
// has no portable equivalent and is dropped.
func (p *Provider) RunInference(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if n := len(req.Images); n > 0 {
		return nil, fmt.Errorf("anyllm: %s: %d image(s): %w: %w", p.vendor, n, llm.ErrInference, llm.ErrUnsupportedInput)
	}
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w: %v", p.vendor, llm.ErrInference, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices: %w", p.vendor, llm.ErrInference)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if text == "" {
		return nil, fmt.Errorf("anyllm: %s returned empty text: %w", p.vendor, llm.ErrInference)
	}

	out := &llm.Response{Text: text, Model: p.model}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

func (p *Provider) params(req llm.Request) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	msgs = append(msgs, anyllmlib.Message{Role: "user", Content: req.Prompt})

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}
