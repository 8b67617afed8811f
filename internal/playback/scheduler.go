// Package playback schedules decoded agent and report audio onto an output
// context.
//
// A [Scheduler] keeps a cursor on the output clock so that consecutive
// chunks play back to back however jittery their arrival: a chunk never
// starts before the previous one ends and never starts in the past. Gaps
// are tolerated; overlap and time compression are not.
//
// Each logical source (conversation, report, live update) owns one
// Scheduler and one [audio.Output].
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/pkg/audio"
)

// ErrNoBuffer is returned by [Player] operations that need a buffer when
// none is loaded.
var ErrNoBuffer = errors.New("playback: no buffer loaded")

// Scheduled describes one buffer placed on the output timeline.
type Scheduled struct {
	Voice    audio.Voice
	StartAt  time.Duration
	Duration time.Duration
}

// Scheduler places buffers back to back on an [audio.Output].
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out audio.Output

	mu     sync.Mutex
	cursor time.Duration
	voices []audio.Voice

	// The cursor is derived from the frame count of the current run of
	// back-to-back buffers rather than summed per buffer, so truncated
	// nanoseconds never accumulate into an overlap.
	chainStart  time.Duration
	chainFrames int64
	chainRate   int
}

// NewScheduler returns a Scheduler with its cursor at zero.
func NewScheduler(out audio.Output) *Scheduler {
	return &Scheduler{out: out}
}

// Schedule plays buf at max(cursor, now) and advances the cursor by the
// buffer's duration.
func (s *Scheduler) Schedule(buf *goaudio.Float32Buffer) (Scheduled, error) {
	if buf == nil {
		return Scheduled{}, fmt.Errorf("playback: schedule: %w", ErrNoBuffer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	startAt := s.cursor
	rate := 0
	if buf.Format != nil {
		rate = buf.Format.SampleRate
	}
	if now := s.out.Now(); now > startAt || rate != s.chainRate {
		startAt = max(startAt, now)
		s.chainStart, s.chainFrames, s.chainRate = startAt, 0, rate
	}
	v, err := s.out.Play(buf, startAt)
	if err != nil {
		return Scheduled{}, fmt.Errorf("playback: schedule at %v: %w", startAt, err)
	}
	d := audio.BufferDuration(buf)
	if rate > 0 {
		s.chainFrames += int64(buf.NumFrames())
		s.cursor = s.chainStart + time.Duration(s.chainFrames)*time.Second/time.Duration(rate)
	} else {
		s.cursor = startAt + d
	}
	s.voices = append(pruneFinished(s.voices), v)
	return Scheduled{Voice: v, StartAt: startAt, Duration: d}, nil
}

// Cursor returns the end position of the last scheduled buffer.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Reset zeroes the cursor. The next buffer starts at the output's current
// time.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.chainStart, s.chainFrames, s.chainRate = 0, 0, 0
	s.mu.Unlock()
}

// Stop stops every voice that has not finished yet. The cursor is left
// alone; call Reset as well when the timeline should restart.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	voices := s.voices
	s.voices = nil
	s.mu.Unlock()
	for _, v := range voices {
		v.Stop()
	}
}

// Interrupt stops all scheduled playback and resets the cursor.
func (s *Scheduler) Interrupt() {
	s.Stop()
	s.Reset()
}

// Pending returns how many scheduled voices have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = pruneFinished(s.voices)
	return len(s.voices)
}

func pruneFinished(voices []audio.Voice) []audio.Voice {
	live := voices[:0]
	for _, v := range voices {
		select {
		case <-v.Done():
		default:
			live = append(live, v)
		}
	}
	clear(voices[len(live):])
	return live
}
