// Package live defines the Connector interface for bidirectional streaming
// conversation backends.
//
// A Connector opens a [Conn]: a long-lived, stateful session that accepts
// microphone audio as base64 PCM16 text frames at [audio.TransportRate] and
// emits [Event] values for transcripts, agent audio and turn boundaries. The
// payload of audio events is passed through untouched; decoding is the
// consumer's job so malformed frames are detected in one place.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

var (
	// ErrConnection is wrapped by every error that originates from the
	// remote side or the transport: dial failures, protocol errors and
	// unexpected disconnects.
	ErrConnection = errors.New("live: connection error")

	// ErrClosed is returned by [Conn.SendAudio] after the connection closed.
	ErrClosed = errors.New("live: connection closed")
)

// Config is the initial configuration for a new connection.
type Config struct {
	// Model overrides the provider default when non-empty.
	Model string

	// Instructions is the system prompt of the agent.
	Instructions string

	// Voice is the prebuilt voice name for the agent's speech.
	Voice string

	// InputTranscription requests transcripts of the operator's speech.
	InputTranscription bool

	// OutputTranscription requests transcripts of the agent's speech.
	OutputTranscription bool
}

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventOpened is emitted once when the remote side accepted the setup.
	EventOpened EventKind = iota

	// EventInputTranscript carries a fragment of the operator transcript.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the agent transcript.
	EventOutputTranscript

	// EventAudio carries one base64 PCM16 chunk of agent speech.
	EventAudio

	// EventInterrupted reports that the agent stopped its current response.
	EventInterrupted

	// EventTurnComplete marks the end of an agent turn.
	EventTurnComplete

	// EventError carries an error wrapping [ErrConnection].
	EventError

	// EventClosed is emitted when the remote side closed the connection.
	EventClosed
)

// String returns the lower-case name of k.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a single inbound notification. Events of one connection are
// delivered in arrival order; within one server message the order is input
// transcript, output transcript, audio, interrupted, turn complete.
type Event struct {
	Kind EventKind

	// Text is set for transcript events.
	Text string

	// Audio is the base64 payload of an [EventAudio].
	Audio string

	// MIMEType is the declared type of Audio, e.g. "audio/pcm;rate=24000".
	MIMEType string

	// Err is set for [EventError].
	Err error
}

// Conn is an open streaming connection. Callers must call Close when done.
type Conn interface {
	// SendAudio delivers one base64 PCM16 chunk at the transport rate.
	// It returns an error wrapping [ErrClosed] or [ErrConnection] on
	// failure and never retries.
	SendAudio(ctx context.Context, encoded string) error

	// Events returns the inbound event stream. The channel is closed after
	// the connection ends, following a final [EventClosed] or [EventError].
	Events() <-chan Event

	// Close terminates the connection. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Connector opens streaming connections.
type Connector interface {
	// Connect dials the backend and sends the setup. The connection is
	// usable once [EventOpened] arrives on Events.
	Connect(ctx context.Context, cfg Config) (Conn, error)
}
