package anyllm

import (
	"context"
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
)

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends() = %v, want sorted", got)
	}
	for _, want := range []string{"anthropic", "ollama", "llamacpp", "mistral"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends() lacks %q", want)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		vendor  string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{name: "local ollama", vendor: "ollama", model: "llama3"},
		{name: "vendor is case-insensitive", vendor: "LlamaCpp", model: "qwen2.5"},
		{name: "anthropic with key", vendor: "anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{name: "empty model", vendor: "ollama", wantErr: true},
		{name: "empty vendor", model: "llama3", wantErr: true},
		{name: "unknown vendor", vendor: "pagasa-cloud", model: "x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.vendor, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

func TestNew_OpenAIWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestRunInference_ImagesAreUnsupported(t *testing.T) {
	p, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.RunInference(context.Background(), llm.Request{
		Prompt: "Describe the wind map.",
		Images: []llm.Image{{Data: []byte{0xFF, 0xD8}, MIMEType: "image/jpeg"}},
	})
	if !errors.Is(err, llm.ErrUnsupportedInput) || !errors.Is(err, llm.ErrInference) {
		t.Fatalf("err = %v, want ErrInference and ErrUnsupportedInput", err)
	}
}

func TestParams(t *testing.T) {
	p := &Provider{vendor: "ollama", model: "llama3"}
	tests := []struct {
		name      string
		req       llm.Request
		wantMsgs  int
		wantTemp  bool
		wantLimit bool
	}{
		{
			name: "script request",
			req: llm.Request{
				Model:        "gemini-flash-latest",
				SystemPrompt: "You are PAG-ASA.",
				Prompt:       "Write the broadcast script.",
				Temperature:  0.7,
				MaxTokens:    800,
			},
			wantMsgs: 2, wantTemp: true, wantLimit: true,
		},
		{name: "bare prompt", req: llm.Request{Prompt: "One sentence."}, wantMsgs: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := p.params(tt.req)
			if params.Model != "llama3" {
				t.Errorf("model = %q, want the configured model", params.Model)
			}
			if len(params.Messages) != tt.wantMsgs {
				t.Fatalf("messages = %d, want %d", len(params.Messages), tt.wantMsgs)
			}
			if tt.wantMsgs == 2 && params.Messages[0].Role != anyllmlib.RoleSystem {
				t.Errorf("first role = %q, want system", params.Messages[0].Role)
			}
			if got := params.Messages[len(params.Messages)-1].ContentString(); got != tt.req.Prompt {
				t.Errorf("user content = %q", got)
			}
			if (params.Temperature != nil) != tt.wantTemp {
				t.Errorf("temperature = %v", params.Temperature)
			}
			if (params.MaxTokens != nil) != tt.wantLimit {
				t.Errorf("max tokens = %v", params.MaxTokens)
			}
			if tt.wantTemp && *params.Temperature != tt.req.Temperature {
				t.Errorf("temperature = %v, want %v", *params.Temperature, tt.req.Temperature)
			}
		})
	}
}
