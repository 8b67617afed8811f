// Package elevenlabs provides a tts.Provider backed by the ElevenLabs
// stream-input WebSocket API. The whole script is sent in one message and
// the streamed 24 kHz PCM16 chunks are joined into a single payload.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultBaseURL is the ElevenLabs WebSocket endpoint root.
	DefaultBaseURL = "wss://api.elevenlabs.io"

	// DefaultModel is the multilingual low-latency model; it handles
	// Tagalog and English in the same script.
	DefaultModel = "eleven_flash_v2_5"

	// DefaultVoice is the premade "Adam" voice.
	DefaultVoice = "pNInz6obpgDQGcFmaJgB"

	outputFormat = "pcm_24000"
	pcmMIME      = "audio/L16;codec=pcm;rate=24000"

	// maxSpeechBytes bounds the joined audio. Ten minutes of 24 kHz PCM16.
	maxSpeechBytes = 24000 * 2 * 600
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithBaseURL overrides [DefaultBaseURL]. Tests point it at an httptest
// server using the ws:// scheme.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithVoice sets the ElevenLabs voice ID. Request voices are ignored since
// they name voices of other backends.
func WithVoice(voiceID string) Option {
	return func(p *Provider) { p.voice = voiceID }
}

// Provider implements tts.Provider.
type Provider struct {
	apiKey  string
	model   string
	voice   string
	baseURL string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty; an empty
// model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		voice:   DefaultVoice,
		baseURL: DefaultBaseURL,
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for the script and the final flush.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is one message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SynthesizeSpeech implements tts.Provider.
func (p *Provider) SynthesizeSpeech(ctx context.Context, req tts.Request) (*tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.ErrEmptyText
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w: %v", llm.ErrInference, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxSpeechBytes)

	// The stream expects a leading " " message, the text ending in a space,
	// then an empty text to end input.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}},
		{Text: strings.TrimSpace(req.Text) + " ", Flush: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := writeJSON(ctx, conn, m); err != nil {
			return nil, err
		}
	}

	var pcm bytes.Buffer
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && pcm.Len() > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w: %v", llm.ErrInference, err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("elevenlabs: decode message: %w: %v", llm.ErrInference, err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %w: %s", llm.ErrInference, resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w: %v", llm.ErrInference, err)
			}
			if pcm.Len()+len(chunk) > maxSpeechBytes {
				return nil, fmt.Errorf("elevenlabs: audio exceeds %d bytes: %w", maxSpeechBytes, llm.ErrInference)
			}
			pcm.Write(chunk)
		}
		if resp.IsFinal {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	if pcm.Len() == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio: %w", llm.ErrInference)
	}
	return &tts.Speech{Data: pcm.Bytes(), MIMEType: pcmMIME}, nil
}

// streamURL builds the stream-input URL for the configured voice and model.
func (p *Provider) streamURL() string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(p.voice), q.Encode())
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: encode message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("elevenlabs: send: %w: %v", llm.ErrInference, err)
	}
	return nil
}
