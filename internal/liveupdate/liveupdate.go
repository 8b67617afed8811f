// Package liveupdate runs the short spoken status loop: every interval it
// asks for one sentence about the most recently captured map and plays it
// through its own output.
//
// The loop only reads the last frame of the analysis cycle. Starting or
// stopping it never touches the cycle itself.
package liveupdate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/notice"
	"github.com/MrWong99/pagasa/internal/observe"
	"github.com/MrWong99/pagasa/internal/playback"
	"github.com/MrWong99/pagasa/pkg/audio"
)

// DefaultInterval is the time between updates.
const DefaultInterval = 60 * time.Second

// Status strings shown to the operator.
const (
	StatusGenerating   = "Generating new audio summary..."
	StatusSynthesizing = "Synthesizing speech..."
	StatusPlaying      = "Playing audio update..."
)

// FrameSource provides the most recent captured map.
type FrameSource interface {
	LastFrame() (capture.Frame, bool)
}

// Speaker produces the sentence and its audio.
type Speaker interface {
	LiveSentence(ctx context.Context, frame capture.Frame) (string, error)
	SpeakLiveUpdate(ctx context.Context, sentence string) (*goaudio.Float32Buffer, error)
}

// Config wires a [Loop].
type Config struct {
	Frames  FrameSource
	Speaker Speaker

	// Output is owned by the loop and closed by [Loop.Close].
	Output audio.Output

	// Notices receives a warning when the loop stops on an error. May be
	// nil.
	Notices *notice.Board

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Interval defaults to 60 seconds.
	Interval time.Duration
}

// Option configures a [Loop].
type Option func(*Loop)

// WithTicker replaces time.NewTicker. The factory returns the tick channel
// and a stop function.
func WithTicker(f func(d time.Duration) (<-chan time.Time, func())) Option {
	return func(l *Loop) { l.newTicker = f }
}

// Snapshot is the presentation view of the loop.
type Snapshot struct {
	Running bool   `json:"running"`
	Status  string `json:"status"`
}

// Loop is the start/stop live-update loop. All methods are safe for
// concurrent use.
type Loop struct {
	cfg       Config
	sched     *playback.Scheduler
	newTicker func(d time.Duration) (<-chan time.Time, func())

	mu      sync.Mutex
	running bool
	gen     uint64
	cancel  context.CancelFunc
	status  string
	wg      sync.WaitGroup
}

// New returns a stopped Loop.
func New(cfg Config, opts ...Option) (*Loop, error) {
	if cfg.Frames == nil || cfg.Speaker == nil || cfg.Output == nil {
		return nil, errors.New("liveupdate: frames, speaker and output are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	l := &Loop{
		cfg:   cfg,
		sched: playback.NewScheduler(cfg.Output),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Start runs one update right away and then one per interval. Starting a
// running loop is a no-op. The loop outlives ctx; only Stop ends it.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.running = true
	l.gen++
	l.cancel = cancel
	l.status = ""
	gen := l.gen
	l.wg.Go(func() { l.run(runCtx, gen) })
	slog.Info("live updates started", "interval", l.cfg.Interval)
}

// Stop ends the loop and silences any update that is playing. It does not
// wait for an in-flight request.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.stopLocked()
	l.status = ""
	l.mu.Unlock()
	l.sched.Interrupt()
	slog.Info("live updates stopped")
}

func (l *Loop) stopLocked() {
	l.running = false
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Toggle starts a stopped loop or stops a running one and reports whether
// it runs afterwards.
func (l *Loop) Toggle(ctx context.Context) bool {
	if l.Running() {
		l.Stop()
		return false
	}
	l.Start(ctx)
	return true
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Status returns the latest operator status line.
func (l *Loop) Status() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Snapshot returns running flag and status together.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Running: l.running, Status: l.status}
}

// Close stops the loop, waits for it and closes the output.
func (l *Loop) Close() error {
	l.Stop()
	l.wg.Wait()
	return l.cfg.Output.Close()
}

func (l *Loop) run(ctx context.Context, gen uint64) {
	l.update(ctx, gen)

	ticks, stop := l.newTicker(l.cfg.Interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			l.update(ctx, gen)
			// Ticks that fired during the update are skipped.
			select {
			case <-ticks:
			default:
			}
		}
	}
}

// setStatus updates the status unless a newer Start or Stop happened.
func (l *Loop) setStatus(gen uint64, s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return false
	}
	l.status = s
	return true
}

func (l *Loop) update(ctx context.Context, gen uint64) {
	frame, ok := l.cfg.Frames.LastFrame()
	if !ok {
		slog.Debug("live update skipped: no captured map yet")
		l.cfg.Metrics.RecordLiveUpdate(ctx, "skipped")
		return
	}

	began := time.Now()
	sctx, end := observe.StartStage(ctx, observe.StageLiveUpdate, "")
	err := l.speak(sctx, gen, frame)
	end(err)
	l.cfg.Metrics.RecordStage(ctx, observe.StageLiveUpdate, time.Since(began), err)

	switch {
	case err == nil:
		l.cfg.Metrics.RecordLiveUpdate(ctx, "ok")
	case ctx.Err() != nil:
		// Stopped mid-update.
	default:
		l.cfg.Metrics.RecordLiveUpdate(ctx, "error")
		l.fail(gen, err)
	}
}

func (l *Loop) speak(ctx context.Context, gen uint64, frame capture.Frame) error {
	l.setStatus(gen, StatusGenerating)
	sentence, err := l.cfg.Speaker.LiveSentence(ctx, frame)
	if err != nil {
		return err
	}

	l.setStatus(gen, StatusSynthesizing)
	buf, err := l.cfg.Speaker.SpeakLiveUpdate(ctx, sentence)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sc, err := l.sched.Schedule(buf)
	if err != nil {
		return err
	}
	l.setStatus(gen, StatusPlaying)
	slog.Info("live update playing", "sentence", sentence, "duration", sc.Duration)

	select {
	case <-sc.Voice.Done():
		l.setStatus(gen, fmt.Sprintf("Update complete. Next update in %ds.", int(l.cfg.Interval/time.Second)))
	case <-ctx.Done():
	}
	return nil
}

// fail stops the loop from inside its own goroutine.
func (l *Loop) fail(gen uint64, err error) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.status = fmt.Sprintf("Error: %v. Stopping updates.", err)
	l.stopLocked()
	l.mu.Unlock()

	slog.Warn("live updates stopped on error", "err", err)
	if l.cfg.Notices != nil {
		l.cfg.Notices.Publish(notice.Warning, "liveupdate", "Live updates stopped: "+err.Error())
	}
}
