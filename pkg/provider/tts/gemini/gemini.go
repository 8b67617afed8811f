// Package gemini provides a tts.Provider backed by the Gemini speech
// generation models through google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultModel is the speech generation model.
	DefaultModel = "gemini-2.5-flash-preview-tts"

	// DefaultVoice is the prebuilt voice used when a request names none.
	DefaultVoice = "Charon"

	// fallbackMIME labels payloads whose part carries no MIME type. The
	// speech models emit 24 kHz mono PCM16.
	fallbackMIME = "audio/L16;codec=pcm;rate=24000"
)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithVoice sets the default prebuilt voice.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements tts.Provider.
type Provider struct {
	client  *genai.Client
	model   string
	voice   string
	baseURL string
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini tts: apiKey must not be empty")
	}
	p := &Provider{model: model, voice: DefaultVoice}
	if p.model == "" {
		p.model = DefaultModel
	}
	for _, o := range opts {
		o(p)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: new client: %w", err)
	}
	p.client = client
	return p, nil
}

// SynthesizeSpeech implements tts.Provider.
func (p *Provider) SynthesizeSpeech(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}
	model := p.model
	if strings.HasPrefix(req.Model, "gemini-") {
		model = req.Model
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	contents := genai.Text(tts.StyledText(req.Style, req.Text))

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini tts: generate content: %w: %v", llm.ErrInference, err)
	}
	blob := firstAudio(resp)
	if blob == nil || len(blob.Data) == 0 {
		return nil, fmt.Errorf("gemini tts: no audio data received: %w", llm.ErrInference)
	}
	mime := blob.MIMEType
	if mime == "" {
		mime = fallbackMIME
	}
	return &tts.Speech{Data: blob.Data, MIMEType: mime}, nil
}

func firstAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil {
			return part.InlineData
		}
	}
	return nil
}
