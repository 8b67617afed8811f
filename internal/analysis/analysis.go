// Package analysis turns a captured wind map into the PAG-ASA report: the
// written analysis, the broadcast script for the reporter persona, the
// one-sentence live update and the synthesised speech for each.
//
// The Analyst only talks to [llm.Provider] and [tts.Provider]; retries,
// fallbacks and circuit breaking are the providers' concern.
package analysis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/observe"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

// SystemPrompt is the PAG-ASA analyst persona shared by every model call
// and by the live conversation.
//
//go:embed prompts/system.md
var SystemPrompt string

// Defaults for [Config].
const (
	DefaultAnalysisModel  = "gemini-2.5-pro"
	DefaultScriptModel    = "gemini-flash-latest"
	DefaultSpeechModel    = "gemini-2.5-flash-preview-tts"
	DefaultVoice          = "Charon"
	DefaultStyle          = "Taglish, deep Filipino reporter accent"
	DefaultLocation       = "Manila, Philippines"
	DefaultThinkingBudget = 32768
)

// LiveUpdatePrefix opens every spoken live update.
const LiveUpdatePrefix = "Emilio Pagasa Umasa here with a live update: "

const reporterIntro = "Magandang araw, Pilipinas! Ito po ang inyong lingkod, Emilio Pagasa Umasa, nag-uulat live mula sa satellite."

// ErrEmptyFrame is returned when a frame carries no image data.
var ErrEmptyFrame = errors.New("analysis: empty frame")

// Config wires an [Analyst].
type Config struct {
	// Inference runs the multimodal map analysis. Required.
	Inference llm.Provider

	// Script writes the broadcast script and the live sentence. Defaults
	// to Inference.
	Script llm.Provider

	// Speech synthesises scripts. Required.
	Speech tts.Provider

	AnalysisModel  string
	ScriptModel    string
	SpeechModel    string
	Voice          string
	Style          string
	Location       string
	ThinkingBudget int

	// SystemPrompt overrides the embedded persona.
	SystemPrompt string

	// Metrics records provider requests. May be nil.
	Metrics *observe.Metrics
}

// Analyst runs the model calls of one analysis cycle. It is safe for
// concurrent use.
type Analyst struct {
	cfg Config

	mu       sync.RWMutex
	location string
	persona  string
}

// New validates cfg, fills in defaults and returns an Analyst.
func New(cfg Config) (*Analyst, error) {
	if cfg.Inference == nil {
		return nil, errors.New("analysis: inference provider is required")
	}
	if cfg.Speech == nil {
		return nil, errors.New("analysis: speech provider is required")
	}
	if cfg.Script == nil {
		cfg.Script = cfg.Inference
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = DefaultAnalysisModel
	}
	if cfg.ScriptModel == "" {
		cfg.ScriptModel = DefaultScriptModel
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = DefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Style == "" {
		cfg.Style = DefaultStyle
	}
	if cfg.ThinkingBudget == 0 {
		cfg.ThinkingBudget = DefaultThinkingBudget
	}
	persona := cfg.SystemPrompt
	if persona == "" {
		persona = SystemPrompt
	}
	loc := cfg.Location
	if loc == "" {
		loc = DefaultLocation
	}
	return &Analyst{cfg: cfg, location: loc, persona: persona}, nil
}

// Persona returns the system prompt every model call carries.
func (a *Analyst) Persona() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.persona
}

// SetPersona replaces the system prompt for subsequent calls. An empty
// value restores the embedded persona. Calls already in flight keep the
// prompt they started with.
func (a *Analyst) SetPersona(prompt string) {
	if strings.TrimSpace(prompt) == "" {
		prompt = SystemPrompt
	}
	a.mu.Lock()
	a.persona = prompt
	a.mu.Unlock()
}

// Location returns the operator location used in analysis prompts.
func (a *Analyst) Location() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.location
}

// SetLocation changes the operator location for subsequent analyses. An
// empty value restores the default.
func (a *Analyst) SetLocation(loc string) {
	if loc == "" {
		loc = DefaultLocation
	}
	a.mu.Lock()
	a.location = loc
	a.mu.Unlock()
}

// Analyze asks the analysis model for the location-aware report on frame.
func (a *Analyst) Analyze(ctx context.Context, frame capture.Frame) (string, error) {
	img, err := frameImage(frame)
	if err != nil {
		return "", fmt.Errorf("analysis: analyze: %w", err)
	}
	resp, err := a.cfg.Inference.RunInference(ctx, llm.Request{
		Model:          a.cfg.AnalysisModel,
		SystemPrompt:   a.Persona(),
		Prompt:         analysisPrompt(a.Location()),
		Images:         []llm.Image{img},
		ThinkingBudget: a.cfg.ThinkingBudget,
	})
	a.cfg.Metrics.RecordProviderRequest(ctx, "llm", "analysis", err)
	if err != nil {
		return "", fmt.Errorf("analysis: analyze: %w", err)
	}
	return resp.Text, nil
}

// Narrate turns a written analysis into the two-minute broadcast script.
func (a *Analyst) Narrate(ctx context.Context, analysisText string) (string, error) {
	if strings.TrimSpace(analysisText) == "" {
		return "", fmt.Errorf("analysis: narrate: %w: empty analysis", llm.ErrInference)
	}
	resp, err := a.cfg.Script.RunInference(ctx, llm.Request{
		Model:        a.cfg.ScriptModel,
		SystemPrompt: a.Persona(),
		Prompt:       scriptPrompt(analysisText),
	})
	a.cfg.Metrics.RecordProviderRequest(ctx, "llm", "script", err)
	if err != nil {
		return "", fmt.Errorf("analysis: narrate: %w", err)
	}
	return resp.Text, nil
}

// LiveSentence asks for a single spoken status sentence about frame.
func (a *Analyst) LiveSentence(ctx context.Context, frame capture.Frame) (string, error) {
	img, err := frameImage(frame)
	if err != nil {
		return "", fmt.Errorf("analysis: live sentence: %w", err)
	}
	resp, err := a.cfg.Script.RunInference(ctx, llm.Request{
		Model:        a.cfg.ScriptModel,
		SystemPrompt: a.Persona(),
		Prompt:       "PAG-ASA, provide a single, concise sentence for a verbal status update based on this map.",
		Images:       []llm.Image{img},
	})
	a.cfg.Metrics.RecordProviderRequest(ctx, "llm", "live_sentence", err)
	if err != nil {
		return "", fmt.Errorf("analysis: live sentence: %w", err)
	}
	return resp.Text, nil
}

// SpeakReport synthesises the broadcast script.
func (a *Analyst) SpeakReport(ctx context.Context, script string) (*goaudio.Float32Buffer, error) {
	return a.speak(ctx, "report", script)
}

// SpeakLiveUpdate synthesises a live update, prefixed with the reporter's
// sign-on.
func (a *Analyst) SpeakLiveUpdate(ctx context.Context, sentence string) (*goaudio.Float32Buffer, error) {
	return a.speak(ctx, "live_update", LiveUpdatePrefix+sentence)
}

func (a *Analyst) speak(ctx context.Context, kind, text string) (*goaudio.Float32Buffer, error) {
	speech, err := a.cfg.Speech.SynthesizeSpeech(ctx, tts.Request{
		Text:  text,
		Voice: a.cfg.Voice,
		Model: a.cfg.SpeechModel,
		Style: a.cfg.Style,
	})
	a.cfg.Metrics.RecordProviderRequest(ctx, "tts", kind, err)
	if err != nil {
		return nil, fmt.Errorf("analysis: speak %s: %w", kind, err)
	}
	buf, err := audio.DecodeSpeech(speech.Data, speech.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("analysis: speak %s: %w", kind, err)
	}
	return buf, nil
}

func frameImage(frame capture.Frame) (llm.Image, error) {
	if len(frame.Data) == 0 {
		return llm.Image{}, ErrEmptyFrame
	}
	mt := frame.MIMEType
	if mt == "" {
		mt = "image/jpeg"
	}
	return llm.Image{Data: frame.Data, MIMEType: mt}, nil
}

func analysisPrompt(location string) string {
	return "Master E here. PAG-ASA, please analyze this wind map snapshot. " +
		"Provide your standard, location-aware report. " +
		"My approximate location is " + location + "."
}

func scriptPrompt(analysisText string) string {
	var b strings.Builder
	b.WriteString("PAG-ASA, based on your full analysis report provided below, create a comprehensive ")
	b.WriteString("2-minute verbal report script for our reporter, Emilio Pagasa Umasa. ")
	b.WriteString("The tone should be informative, calm, and professional, delivered in Taglish suitable for a broadcast. ")
	b.WriteString(`Start with his standard introduction: "`)
	b.WriteString(reporterIntro)
	b.WriteString(`" and end with a concluding safety reminder. `)
	b.WriteString("Here is the full report to summarize:\n\n---\n\n")
	b.WriteString(analysisText)
	return b.String()
}
