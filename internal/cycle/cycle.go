// Package cycle orchestrates the PAG-ASA analysis cycle: capture the wind
// map, analyse it, write and synthesise the broadcast report, then present
// it. Cycles run on demand or on an automation timer.
//
// The [Orchestrator] is an actor. One goroutine, started with
// [Orchestrator.Run], owns every piece of cycle state; commands and stage
// results reach it over channels. Remote calls run in worker goroutines and
// report back tagged with their cycle ID so that a late result of a cycle
// that is no longer current is dropped instead of applied.
package cycle

import (
	"errors"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/notice"
)

var (
	// ErrCycleInProgress is returned by Start while a cycle is past Idle
	// and not yet Ready.
	ErrCycleInProgress = errors.New("cycle: a cycle is already in progress")

	// ErrNoReport is returned by TogglePlayback without a report buffer.
	ErrNoReport = errors.New("cycle: no audio report available")

	// ErrNotRunning is returned by commands once the orchestrator stopped.
	ErrNotRunning = errors.New("cycle: orchestrator is not running")
)

// State is the phase of the orchestrator.
type State int

const (
	Idle State = iota
	Capturing
	Analyzing
	GeneratingReport
	Ready
)

// String returns the snake_case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Analyzing:
		return "analyzing"
	case GeneratingReport:
		return "generating_report"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Label is the operator-facing phase label of s.
func (s State) Label() string {
	switch s {
	case Capturing:
		return "Capturing Screen..."
	case Analyzing:
		return "Analyzing Map..."
	case GeneratingReport:
		return "Generating Audio Report..."
	case Ready:
		return "Start New Automated Analysis"
	default:
		return "Start Full Automated Analysis"
	}
}

// startable reports whether a new cycle may begin in s.
func (s State) startable() bool { return s == Idle || s == Ready }

// Trigger records who started a cycle.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerTimer  Trigger = "timer"
)

// Cycle is one capture to report run. It is owned by the orchestrator
// goroutine; readers get copies through [Snapshot].
type Cycle struct {
	ID        string
	Trigger   Trigger
	StartedAt time.Time
	Frame     capture.Frame
	Analysis  string
	Script    string
	Report    *goaudio.Float32Buffer

	// AutoPlayed is set once the report played automatically. A new Cycle
	// starts with it cleared.
	AutoPlayed bool
}

// Snapshot is the presentation view of the orchestrator.
type Snapshot struct {
	State      State          `json:"state"`
	Label      string         `json:"label"`
	CycleID    string         `json:"cycle_id,omitempty"`
	Trigger    Trigger        `json:"trigger,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	Countdown  int            `json:"countdown_seconds"`
	Analysis   string         `json:"analysis,omitempty"`
	Script     string         `json:"script,omitempty"`
	HasReport  bool           `json:"has_report"`
	Playing    bool           `json:"playing"`
	Automation bool           `json:"automation"`
	Queued     bool           `json:"queued"`
	Frame      *capture.Frame `json:"frame,omitempty"`
	Notice     *notice.Notice `json:"notice,omitempty"`
}
