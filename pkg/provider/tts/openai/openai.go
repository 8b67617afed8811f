// Package openai provides a tts.Provider backed by the OpenAI speech API.
// Audio is requested as raw 24 kHz mono PCM16.
package openai

import (
	"context"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultModel supports delivery instructions.
	DefaultModel = oai.SpeechModelGPT4oMiniTTS

	// DefaultVoice is used when neither the provider nor the request names
	// an OpenAI voice.
	DefaultVoice = "onyx"

	pcmMIME = "audio/L16;codec=pcm;rate=24000"

	// maxSpeechBytes bounds the response body. Ten minutes of 24 kHz PCM16.
	maxSpeechBytes = 24000 * 2 * 600
)

// openAIVoices lists voices the speech endpoint accepts. Voice names from
// other backends (e.g. "Charon") are replaced by the provider default.
var openAIVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true, "echo": true,
	"fable": true, "onyx": true, "nova": true, "sage": true, "shimmer": true, "verse": true,
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// Provider implements tts.Provider.
type Provider struct {
	client  oai.Client
	model   string
	voice   string
	baseURL string
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	p := &Provider{model: model, voice: DefaultVoice}
	if p.model == "" {
		p.model = DefaultModel
	}
	for _, o := range opts {
		o(p)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(reqOpts...)
	return p, nil
}

// SynthesizeSpeech implements tts.Provider.
func (p *Provider) SynthesizeSpeech(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}

	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w: %v", llm.ErrInference, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w: %v", llm.ErrInference, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai tts: empty audio: %w", llm.ErrInference)
	}
	return &tts.Speech{Data: data, MIMEType: pcmMIME}, nil
}

func (p *Provider) buildParams(req tts.Request) oai.AudioSpeechNewParams {
	model := p.model
	if strings.HasPrefix(req.Model, "tts-") || strings.HasPrefix(req.Model, "gpt-") {
		model = req.Model
	}
	voice := p.voice
	if v := strings.ToLower(req.Voice); openAIVoices[v] {
		voice = v
	}

	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if req.Style != "" {
		// tts-1 ignores instructions; fold the style into the text instead.
		if strings.HasPrefix(model, "tts-") {
			params.Input = tts.StyledText(req.Style, req.Text)
		} else {
			params.Instructions = param.NewOpt(req.Style)
		}
	}
	return params
}
