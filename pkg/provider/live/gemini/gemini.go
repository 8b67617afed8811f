// Package gemini implements the live.Connector interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio is transmitted as base64-encoded PCM chunks in both directions.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/provider/live"
)

// Compile-time assertions that Connector and conn satisfy the live interfaces.
var (
	_ live.Connector = (*Connector)(nil)
	_ live.Conn      = (*conn)(nil)
)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 5 * time.Second

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Connector.
type Option func(*Connector)

// WithModel sets the default Gemini model used for connections.
func WithModel(model string) Option {
	return func(c *Connector) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Connector) { c.baseURL = url }
}

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) { c.log = l }
}

// ── Connector ─────────────────────────────────────────────────────────────────

// Connector implements live.Connector for Google's Gemini Live API.
type Connector struct {
	apiKey  string
	model   string
	baseURL string
	log     *slog.Logger
}

// New creates a new Gemini Live Connector with the given API key and options.
func New(apiKey string, opts ...Option) *Connector {
	c := &Connector{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials Gemini Live and sends the setup message. The returned
// connection emits [live.EventOpened] when setupComplete arrives.
func (c *Connector) Connect(ctx context.Context, cfg live.Config) (live.Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.baseURL, url.QueryEscape(c.apiKey),
	)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w: %v", live.ErrConnection, err)
	}
	// Agent audio turns can exceed the default 32 KiB read limit.
	ws.SetReadLimit(16 << 20)

	model := cfg.Model
	if model == "" {
		model = c.model
	}

	connCtx, cancel := context.WithCancel(context.Background())
	lc := &conn{
		ws:     ws,
		events: make(chan live.Event, eventBuffer),
		done:   make(chan struct{}),
		ctx:    connCtx,
		cancel: cancel,
		log:    c.log,
	}

	if err := lc.writeJSON(ctx, buildSetup(model, cfg)); err != nil {
		cancel()
		ws.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w: %v", live.ErrConnection, err)
	}

	lc.wg.Go(lc.receiveLoop)
	lc.wg.Go(lc.keepaliveLoop)

	return lc, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

func buildSetup(model string, cfg live.Config) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws     *websocket.Conn
	events chan live.Event
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and translates them into
// events. It owns the events channel and closes it when it exits.
func (c *conn) receiveLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			// Local Close: exit quietly.
			if c.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				c.emit(live.Event{Kind: live.EventClosed})
				return
			}
			c.emit(live.Event{
				Kind: live.EventError,
				Err:  fmt.Errorf("gemini: read: %w: %v", live.ErrConnection, err),
			})
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("gemini: skipping undecodable server message", "err", err)
			continue
		}
		c.handleServerMessage(&msg)
	}
}

func (c *conn) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		c.emit(live.Event{Kind: live.EventOpened})
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		c.emit(live.Event{
			Kind: live.EventError,
			Err:  fmt.Errorf("gemini: remote error %d: %s: %w", msg.Error.Code, text, live.ErrConnection),
		})
	}
	if msg.GoAway != nil {
		c.log.Info("gemini: server announced disconnect")
	}
	if msg.ServerContent != nil {
		c.handleServerContent(msg.ServerContent)
	}
}

func (c *conn) handleServerContent(sc *serverContent) {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		c.emit(live.Event{Kind: live.EventInputTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		c.emit(live.Event{Kind: live.EventOutputTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			c.emit(live.Event{
				Kind:     live.EventAudio,
				Audio:    p.InlineData.Data,
				MIMEType: p.InlineData.MIMEType,
			})
		}
	}
	if sc.Interrupted {
		c.emit(live.Event{Kind: live.EventInterrupted})
	}
	if sc.TurnComplete {
		c.emit(live.Event{Kind: live.EventTurnComplete})
	}
}

// emit delivers ev unless the connection is closing.
func (c *conn) emit(ev live.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			_ = c.ws.Ping(pingCtx)
			cancel()
		}
	}
}

// SendAudio delivers one base64 PCM16 chunk (16 kHz, mono) to the model.
func (c *conn) SendAudio(ctx context.Context, encoded string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("gemini: send audio: %w", live.ErrClosed)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{
				{MIMEType: audio.TransportMIMEType, Data: encoded},
			},
		},
	}
	if err := c.writeJSON(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) && c.ctx.Err() != nil {
			return fmt.Errorf("gemini: send audio: %w", live.ErrClosed)
		}
		return fmt.Errorf("gemini: send audio: %w: %v", live.ErrConnection, err)
	}
	return nil
}

// Events returns the channel on which inbound events arrive.
func (c *conn) Events() <-chan live.Event { return c.events }

// Close terminates the connection and releases all resources. Idempotent.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(c.done) // signals keepaliveLoop via done channel
	_ = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	c.wg.Wait()
	return nil
}
