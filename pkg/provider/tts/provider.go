// Package tts defines the Provider interface for speech synthesis backends.
//
// A provider turns a complete narration script into one audio payload. The
// payload is returned as-is with its MIME type; callers decode it with
// audio.DecodeSpeech, which understands raw PCM16 and WAV.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when a Request carries no text to speak.
var ErrEmptyText = errors.New("tts: empty text")

// Request describes one synthesis call.
type Request struct {
	// Text is the script to speak.
	Text string

	// Voice is the provider-specific voice name. Empty selects the provider
	// default.
	Voice string

	// Model overrides the provider's model when it belongs to the same
	// backend family.
	Model string

	// Style is a delivery instruction, e.g. "Taglish, deep Filipino reporter
	// accent". Providers without an instruction channel prepend it to the
	// text in parentheses.
	Style string
}

// Speech is a synthesised audio payload.
type Speech struct {
	Data     []byte
	MIMEType string
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// SynthesizeSpeech renders req.Text to audio. Backend failures wrap
	// llm.ErrInference so callers can apply one policy to all remote
	// generation errors.
	SynthesizeSpeech(ctx context.Context, req Request) (*Speech, error)
}

// StyledText returns text prefixed by "(style) " when style is set.
func StyledText(style, text string) string {
	if style == "" {
		return text
	}
	return "(" + style + ") " + text
}
