package cycle_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/cycle"
	"github.com/MrWong99/pagasa/internal/notice"
	"github.com/MrWong99/pagasa/internal/playback"
	"github.com/MrWong99/pagasa/pkg/audio"
	amock "github.com/MrWong99/pagasa/pkg/audio/mock"
	"github.com/MrWong99/pagasa/pkg/provider/llm"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeCapturer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *fakeCapturer) CaptureStillFrame(context.Context) (capture.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return capture.Frame{}, c.err
	}
	return capture.Frame{Data: []byte{0xFF, 0xD8}, MIMEType: "image/jpeg", CapturedAt: time.Now()}, nil
}

func (c *fakeCapturer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeAnalyst struct {
	mu         sync.Mutex
	gate       chan struct{}
	analyzeErr error
	speakErr   error

	analyzeCalls, analyzeDone, narrateCalls int
}

func (a *fakeAnalyst) Analyze(ctx context.Context, _ capture.Frame) (string, error) {
	a.mu.Lock()
	a.analyzeCalls++
	gate, err := a.gate, a.analyzeErr
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.analyzeDone++
		a.mu.Unlock()
	}()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "A typhoon-like system east of Samar.", nil
}

func (a *fakeAnalyst) Narrate(context.Context, string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.narrateCalls++
	return "Magandang araw, Pilipinas!", nil
}

func (a *fakeAnalyst) SpeakReport(context.Context, string) (*goaudio.Float32Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speakErr != nil {
		return nil, a.speakErr
	}
	return audio.PCM16ToBuffer(make([]int16, 2400), audio.OutputRate, 1), nil
}

func (a *fakeAnalyst) counts() (analyze, done, narrate int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.analyzeCalls, a.analyzeDone, a.narrateCalls
}

type manualTicker struct {
	c       chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *manualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// tickers hands out manual tickers and remembers the latest per period.
type tickers struct {
	mu     sync.Mutex
	latest map[time.Duration]*manualTicker
}

func (f *tickers) New(d time.Duration) cycle.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTicker{c: make(chan time.Time)}
	f.latest[d] = t
	return t
}

func (f *tickers) Get(d time.Duration) *manualTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest[d]
}

type fakeStopper struct {
	mu    sync.Mutex
	stops int
}

func (s *fakeStopper) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

func (s *fakeStopper) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// ── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	o       *cycle.Orchestrator
	cap     *fakeCapturer
	an      *fakeAnalyst
	out     *amock.Output
	player  *playback.Player
	board   *notice.Board
	tickers *tickers
	live    *fakeStopper
}

func newHarness(t *testing.T, setup func(h *harness, cfg *cycle.Config)) *harness {
	t.Helper()
	h := &harness{
		cap:     &fakeCapturer{},
		an:      &fakeAnalyst{},
		out:     &amock.Output{},
		board:   notice.NewBoard(),
		tickers: &tickers{latest: map[time.Duration]*manualTicker{}},
		live:    &fakeStopper{},
	}
	h.player = playback.NewPlayer(h.out)
	cfg := cycle.Config{
		Capture:     h.cap,
		Analyst:     h.an,
		Player:      h.player,
		LiveUpdates: h.live,
		Notices:     h.board,
		Countdown:   3 * time.Second,
	}
	if setup != nil {
		setup(h, &cfg)
	}
	o, err := cycle.New(cfg, cycle.WithTickerFactory(h.tickers.New))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitState(t *testing.T, want cycle.State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return h.o.Snapshot().State == want })
}

func tick(t *testing.T, tk *manualTicker) {
	t.Helper()
	select {
	case tk.c <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker not consumed")
	}
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestManualCycle_ReachesReadyAndAutoPlaysOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitState(t, cycle.Ready)

	s := h.o.Snapshot()
	if s.Label != "Start New Automated Analysis" {
		t.Errorf("label = %q", s.Label)
	}
	if s.Analysis == "" || s.Script != "Magandang araw, Pilipinas!" || !s.HasReport {
		t.Errorf("snapshot = %+v", s)
	}
	if !s.Playing {
		t.Error("report not auto-played")
	}
	if s.Countdown != 3 {
		t.Errorf("countdown = %d, want 3", s.Countdown)
	}
	if s.Trigger != cycle.TriggerManual || s.CycleID == "" {
		t.Errorf("trigger=%q id=%q", s.Trigger, s.CycleID)
	}
	if _, ok := h.o.LastFrame(); !ok {
		t.Error("LastFrame not set")
	}
	if h.live.Stops() != 1 {
		t.Errorf("live updates stopped %d times, want 1", h.live.Stops())
	}

	// Toggling twice must not auto-play again behind the operator's back.
	if playing, err := h.o.TogglePlayback(context.Background()); err != nil || playing {
		t.Fatalf("TogglePlayback off: playing=%v err=%v", playing, err)
	}
	if playing, err := h.o.TogglePlayback(context.Background()); err != nil || !playing {
		t.Fatalf("TogglePlayback on: playing=%v err=%v", playing, err)
	}
	if n := len(h.out.PlayCalls()); n != 2 {
		t.Errorf("play calls = %d, want 2", n)
	}
}

func TestStart_RejectedWhileInFlight(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	h := newHarness(t, func(h *harness, _ *cycle.Config) { h.an.gate = gate })
	defer close(gate)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Analyzing)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); !errors.Is(err, cycle.ErrCycleInProgress) {
		t.Errorf("err = %v, want ErrCycleInProgress", err)
	}
	if h.cap.Calls() != 1 {
		t.Errorf("capture calls = %d, want 1", h.cap.Calls())
	}
}

func TestAutomation_CycleZeroRunsImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.o.SetAutomation(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first capture", func() bool { return h.cap.Calls() == 1 })
	if h.tickers.Get(cycle.DefaultInterval) == nil {
		t.Fatal("automation ticker not created with the default interval")
	}
	h.waitState(t, cycle.Ready)
	if s := h.o.Snapshot(); !s.Automation || s.Trigger != cycle.TriggerTimer {
		t.Errorf("snapshot = %+v", s)
	}

	tick(t, h.tickers.Get(cycle.DefaultInterval))
	waitFor(t, "second capture", func() bool { return h.cap.Calls() == 2 })
}

func TestAutomation_StopWhileAnalyzingDropsLateResult(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	h := newHarness(t, func(h *harness, _ *cycle.Config) { h.an.gate = gate })

	if err := h.o.SetAutomation(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Analyzing)
	ticker := h.tickers.Get(cycle.DefaultInterval)

	if on, err := h.o.ToggleAutomation(context.Background()); err != nil || on {
		t.Fatalf("ToggleAutomation: on=%v err=%v", on, err)
	}
	if s := h.o.Snapshot(); s.State != cycle.Idle || s.Automation {
		t.Fatalf("after stop: %+v", s)
	}
	if !ticker.Stopped() {
		t.Error("automation ticker not stopped")
	}

	close(gate)
	waitFor(t, "analysis to return", func() bool { _, done, _ := h.an.counts(); return done == 1 })
	// Give the actor a chance to (wrongly) apply the result.
	if err := h.o.SetAutomation(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	s := h.o.Snapshot()
	if s.State != cycle.Idle || s.Analysis != "" || s.Automation {
		t.Errorf("late result applied: %+v", s)
	}
	if _, _, narrate := h.an.counts(); narrate != 0 {
		t.Errorf("narrate calls = %d, want 0", narrate)
	}
}

func TestCapture_PermissionDeniedStopsAutomation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness, _ *cycle.Config) {
		h.cap.err = capture.ErrPermissionDenied
	})

	if err := h.o.SetAutomation(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "automation off", func() bool { return !h.o.Snapshot().Automation })

	s := h.o.Snapshot()
	if s.State != cycle.Idle {
		t.Errorf("state = %v, want idle", s.State)
	}
	if s.Notice == nil || s.Notice.Level != notice.Error || !strings.Contains(s.Notice.Message, "permission") {
		t.Errorf("notice = %+v", s.Notice)
	}
	if !h.tickers.Get(cycle.DefaultInterval).Stopped() {
		t.Error("automation ticker not stopped")
	}
}

func TestCapture_FailureDependsOnMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		automation bool
		want       cycle.State
	}{
		{"manual", false, cycle.Idle},
		{"automation", true, cycle.Ready},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, func(h *harness, _ *cycle.Config) {
				h.cap.err = errors.Join(capture.ErrCaptureFailed, errors.New("browser crashed"))
			})
			var err error
			if tc.automation {
				err = h.o.SetAutomation(context.Background(), true)
			} else {
				err = h.o.Start(context.Background(), cycle.TriggerManual)
			}
			if err != nil {
				t.Fatal(err)
			}
			h.waitState(t, tc.want)
			s := h.o.Snapshot()
			if s.Automation != tc.automation {
				t.Errorf("automation = %v, want %v", s.Automation, tc.automation)
			}
			if s.Notice == nil || s.Notice.Level != notice.Error {
				t.Errorf("notice = %+v", s.Notice)
			}
		})
	}
}

func TestAnalysisFailure_ManualReturnsIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness, _ *cycle.Config) {
		h.an.analyzeErr = errors.Join(llm.ErrInference, errors.New("quota exhausted"))
	})

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "failure notice", func() bool {
		s := h.o.Snapshot()
		return s.State == cycle.Idle && s.Notice != nil && s.Notice.Level == notice.Error
	})
}

func TestSynthesisFailure_ReadyWithoutReport(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness, _ *cycle.Config) {
		h.an.speakErr = errors.Join(llm.ErrInference, errors.New("tts 503"))
	})

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Ready)

	s := h.o.Snapshot()
	if s.Analysis == "" || s.HasReport || s.Playing {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Script == "" {
		t.Error("script dropped on synthesis failure")
	}
	if _, err := h.o.TogglePlayback(context.Background()); !errors.Is(err, cycle.ErrNoReport) {
		t.Errorf("TogglePlayback err = %v, want ErrNoReport", err)
	}
}

func TestSynthesisFailure_KeepsCountdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Ready)
	countdown := h.tickers.Get(time.Second)
	tick(t, countdown)
	tick(t, countdown)
	waitFor(t, "countdown at 1", func() bool { return h.o.Snapshot().Countdown == 1 })

	h.an.mu.Lock()
	h.an.speakErr = errors.Join(llm.ErrInference, errors.New("tts 503"))
	h.an.mu.Unlock()
	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second cycle ready", func() bool {
		_, _, narrate := h.an.counts()
		return narrate == 2 && h.o.Snapshot().State == cycle.Ready
	})

	if got := h.o.Snapshot().Countdown; got != 1 {
		t.Errorf("countdown = %d, want 1 kept from the previous report", got)
	}
}

func TestAutomation_TicksCoalesceWhileInFlight(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	h := newHarness(t, func(h *harness, _ *cycle.Config) { h.an.gate = gate })

	if err := h.o.SetAutomation(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Analyzing)

	ticker := h.tickers.Get(cycle.DefaultInterval)
	tick(t, ticker)
	tick(t, ticker)
	tick(t, ticker)
	waitFor(t, "queued", func() bool { return h.o.Snapshot().Queued })
	if h.cap.Calls() != 1 {
		t.Fatalf("capture calls = %d while in flight, want 1", h.cap.Calls())
	}

	close(gate)
	waitFor(t, "queued cycle", func() bool { return h.cap.Calls() == 2 })
	h.waitState(t, cycle.Ready)
	time.Sleep(20 * time.Millisecond)
	if n := h.cap.Calls(); n != 2 {
		t.Errorf("capture calls = %d, want 2", n)
	}
	if h.o.Snapshot().Queued {
		t.Error("queue not drained")
	}
}

func TestCountdown_WarnsOnceAtZero(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Ready)

	countdown := h.tickers.Get(time.Second)
	for range 5 {
		tick(t, countdown)
	}
	waitFor(t, "countdown at zero", func() bool { return h.o.Snapshot().Countdown == 0 })

	warnings := 0
	for _, n := range h.board.History() {
		if n.Level == notice.Warning && strings.Contains(n.Message, "15 minutes old") {
			warnings++
		}
	}
	if warnings != 1 {
		t.Errorf("stale warnings = %d, want 1", warnings)
	}
	if h.cap.Calls() != 1 {
		t.Error("countdown triggered a cycle")
	}
}

func TestCountdown_IdleDoesNotCount(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	waitFor(t, "countdown ticker", func() bool { return h.tickers.Get(time.Second) != nil })
	countdown := h.tickers.Get(time.Second)
	tick(t, countdown)
	tick(t, countdown)
	if got := h.o.Snapshot().Countdown; got != 3 {
		t.Errorf("countdown = %d, want 3", got)
	}
	if s := h.o.Snapshot(); s.Label != "Start Full Automated Analysis" {
		t.Errorf("label = %q", s.Label)
	}
}

func TestNewCycleReleasesPreviousReport(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	h := newHarness(t, nil)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Ready)
	first := h.out.PlayCalls()[0].Voice

	h.an.mu.Lock()
	h.an.gate = gate
	h.an.mu.Unlock()
	defer close(gate)

	if err := h.o.Start(context.Background(), cycle.TriggerManual); err != nil {
		t.Fatal(err)
	}
	h.waitState(t, cycle.Analyzing)
	if !first.Stopped() {
		t.Error("previous report still playing")
	}
	if s := h.o.Snapshot(); s.HasReport || s.Playing {
		t.Errorf("snapshot = %+v", s)
	}
	if _, err := h.o.TogglePlayback(context.Background()); !errors.Is(err, cycle.ErrNoReport) {
		t.Errorf("TogglePlayback err = %v, want ErrNoReport", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := cycle.New(cycle.Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}
