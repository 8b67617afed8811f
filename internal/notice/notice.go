// Package notice holds the operator-facing alert banner: the most recent
// info, warning or error raised by the analysis cycle, the live-update loop
// or the live conversation, plus a short history.
package notice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level is the severity of a [Notice].
type Level int

const (
	Info Level = iota
	Warning
	Error
)

// String returns "info", "warning" or "error".
func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so levels render as names
// in JSON status responses.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Notice is one banner message.
type Notice struct {
	Level   Level     `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const defaultHistory = 32

// Board keeps the latest notice and a bounded history. It is safe for
// concurrent use.
type Board struct {
	mu      sync.Mutex
	latest  *Notice
	history []Notice
	limit   int
	now     func() time.Time
}

// NewBoard returns an empty Board.
func NewBoard() *Board {
	return &Board{limit: defaultHistory, now: time.Now}
}

// Publish records and logs a notice. source names the component, e.g.
// "cycle" or "conversation".
func (b *Board) Publish(level Level, source, message string) Notice {
	n := Notice{Level: level, Source: source, Message: message, At: b.now()}

	b.mu.Lock()
	b.latest = &n
	b.history = append(b.history, n)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	b.mu.Unlock()

	slog.Log(context.Background(), slogLevel(level), "notice", "source", source, "message", message)
	return n
}

// Latest returns the most recent notice.
func (b *Board) Latest() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return Notice{}, false
	}
	return *b.latest, true
}

// History returns retained notices, oldest first.
func (b *Board) History() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Notice(nil), b.history...)
}

// Dismiss clears the banner. History is kept.
func (b *Board) Dismiss() {
	b.mu.Lock()
	b.latest = nil
	b.mu.Unlock()
}

func slogLevel(l Level) slog.Level {
	switch l {
	case Warning:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
