// Package coqui provides a tts.Provider backed by a self-hosted Coqui TTS
// server. It needs no cloud credentials, which makes it the last speech
// fallback when every hosted backend is down.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), GET /api/tts with query parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server, POST /tts_to_audio/ with a
//     JSON body and a reference speaker.
//
// Both return a WAV file, which is passed through unchanged.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 2 * time.Minute
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// maxSpeechBytes bounds the WAV response.
	maxSpeechBytes = 64 << 20
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server. This is the
	// default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 2 minutes,
// since CPU synthesis of a full report is slow.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server API.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithSpeaker sets the speaker: a speaker ID in standard mode or a
// reference speaker WAV name in XTTS mode.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) { p.speaker = speaker }
}

// Provider implements tts.Provider against a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	if _, err := url.Parse(serverURL); err != nil {
		return nil, fmt.Errorf("coqui: invalid serverURL: %w", err)
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// xttsRequest is the JSON body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// SynthesizeSpeech implements tts.Provider. The request voice names a voice
// of another backend and is ignored; the style has no channel in Coqui and
// is dropped as well, since a prefix would be read aloud.
func (p *Provider) SynthesizeSpeech(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, tts.ErrEmptyText
	}

	var (
		httpReq *http.Request
		err     error
	)
	switch p.apiMode {
	case APIModeXTTS:
		body, _ := json.Marshal(xttsRequest{Text: text, SpeakerWav: p.speaker, Language: p.language})
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	default:
		params := url.Values{}
		params.Set("text", text)
		if p.speaker != "" {
			params.Set("speaker_id", p.speaker)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w: %v", httpReq.Method, httpReq.URL.Path, llm.ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d: %w", httpReq.Method, httpReq.URL.Path, resp.StatusCode, llm.ErrInference)
	}
	wav, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w: %v", llm.ErrInference, err)
	}
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, fmt.Errorf("coqui: response is not a WAV file: %w", llm.ErrInference)
	}
	return &tts.Speech{Data: wav, MIMEType: "audio/wav"}, nil
}
