package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/google/uuid"

	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/notice"
	"github.com/MrWong99/pagasa/internal/observe"
)

// Defaults for [Config].
const (
	DefaultInterval     = 10 * time.Minute
	DefaultCountdown    = 900 * time.Second
	DefaultStageTimeout = 5 * time.Minute
)

const countdownTick = time.Second

const staleMessage = "Analysis is over 15 minutes old. Please perform a new analysis."

// Capturer grabs one still frame of the map.
type Capturer interface {
	CaptureStillFrame(ctx context.Context) (capture.Frame, error)
}

// Analyst runs the remote calls of a cycle.
type Analyst interface {
	Analyze(ctx context.Context, frame capture.Frame) (string, error)
	Narrate(ctx context.Context, analysisText string) (string, error)
	SpeakReport(ctx context.Context, script string) (*goaudio.Float32Buffer, error)
}

// ReportPlayer plays the synthesised report. *playback.Player implements it.
type ReportPlayer interface {
	Load(buf *goaudio.Float32Buffer)
	Loaded() bool
	Play() error
	Stop()
	Toggle() (bool, error)
	Playing() bool
	Release()
}

// Stopper is anything that must stop when a new cycle starts.
type Stopper interface {
	Stop()
}

// Config wires an [Orchestrator].
type Config struct {
	Capture Capturer
	Analyst Analyst
	Player  ReportPlayer

	// LiveUpdates is stopped whenever a cycle starts. May be nil.
	LiveUpdates Stopper

	// Notices receives operator alerts. Required.
	Notices *notice.Board

	// Metrics may be nil.
	Metrics *observe.Metrics

	// Interval between automated cycles. Defaults to 10 minutes.
	Interval time.Duration

	// Countdown is the freshness ceiling shown to the operator. Defaults
	// to 900 seconds.
	Countdown time.Duration

	// StageTimeout bounds each remote stage. Defaults to 5 minutes.
	StageTimeout time.Duration
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithTickerFactory replaces time.NewTicker for the automation and
// countdown timers.
func WithTickerFactory(f TickerFactory) Option {
	return func(o *Orchestrator) { o.newTicker = f }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type command func(ctx context.Context)

type stageResult struct {
	cycleID string
	stage   State
	frame   capture.Frame
	text    string
	script  string
	report  *goaudio.Float32Buffer
	err     error
}

// Orchestrator runs analysis cycles. Exported methods are safe for
// concurrent use; they block until [Orchestrator.Run] has applied them.
type Orchestrator struct {
	cfg       Config
	newTicker TickerFactory
	now       func() time.Time

	cmds    chan command
	results chan stageResult
	stopped chan struct{}
	running atomic.Bool
	workers sync.WaitGroup

	snap      atomic.Pointer[Snapshot]
	lastFrame atomic.Pointer[capture.Frame]

	// Owned by the Run goroutine.
	state      State
	cur        *Cycle
	inflight   string
	automation bool
	autoTicker Ticker
	queued     bool
	remaining  time.Duration
	warned     bool
}

// New returns an Orchestrator in Idle. Call Run to start it.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case cfg.Capture == nil:
		return nil, errors.New("cycle: capture is required")
	case cfg.Analyst == nil:
		return nil, errors.New("cycle: analyst is required")
	case cfg.Player == nil:
		return nil, errors.New("cycle: player is required")
	case cfg.Notices == nil:
		return nil, errors.New("cycle: notice board is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Countdown <= 0 {
		cfg.Countdown = DefaultCountdown
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	o := &Orchestrator{
		cfg:       cfg,
		newTicker: NewStdTicker,
		now:       time.Now,
		cmds:      make(chan command),
		results:   make(chan stageResult, 4),
		stopped:   make(chan struct{}),
		remaining: cfg.Countdown,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.publish()
	return o, nil
}

// Run drives the orchestrator until ctx is cancelled. It may be called
// once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("cycle: Run called twice")
	}
	countdown := o.newTicker(countdownTick)
	defer func() {
		countdown.Stop()
		o.stopAutomationTicker()
		o.cfg.Player.Stop()
		close(o.stopped)
		o.workers.Wait()
		slog.Info("cycle orchestrator stopped")
	}()

	slog.Info("cycle orchestrator running", "interval", o.cfg.Interval, "countdown", o.cfg.Countdown)
	for {
		var autoC <-chan time.Time
		if o.autoTicker != nil {
			autoC = o.autoTicker.C()
		}
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-o.cmds:
			cmd(ctx)
		case res := <-o.results:
			o.apply(ctx, res)
		case <-autoC:
			o.onAutomationTick(ctx)
		case <-countdown.C():
			o.onCountdownTick()
		}
		o.publish()
	}
}

// exec runs fn on the actor goroutine and waits for it.
func (o *Orchestrator) exec(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	cmd := func(runCtx context.Context) {
		defer close(done)
		fn(runCtx)
	}
	select {
	case o.cmds <- cmd:
	case <-o.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// ── Commands ─────────────────────────────────────────────────────────────────

// Start begins a cycle. It fails with [ErrCycleInProgress] unless the
// orchestrator is Idle or Ready.
func (o *Orchestrator) Start(ctx context.Context, trigger Trigger) error {
	var err error
	if e := o.exec(ctx, func(runCtx context.Context) { err = o.start(runCtx, trigger) }); e != nil {
		return e
	}
	return err
}

// SetAutomation switches the automation timer. Enabling it runs a cycle
// right away when none is in flight, or queues one behind the current
// cycle. Disabling it forces Idle and releases the report audio; in-flight
// results are dropped when they arrive.
func (o *Orchestrator) SetAutomation(ctx context.Context, on bool) error {
	return o.exec(ctx, func(runCtx context.Context) { o.setAutomation(runCtx, on) })
}

// ToggleAutomation flips automation and reports the new setting.
func (o *Orchestrator) ToggleAutomation(ctx context.Context) (bool, error) {
	var on bool
	err := o.exec(ctx, func(runCtx context.Context) {
		o.setAutomation(runCtx, !o.automation)
		on = o.automation
	})
	return on, err
}

// TogglePlayback starts or stops the report. It reports whether the report
// is playing afterwards.
func (o *Orchestrator) TogglePlayback(ctx context.Context) (bool, error) {
	var (
		playing bool
		err     error
	)
	if e := o.exec(ctx, func(context.Context) {
		if !o.cfg.Player.Loaded() {
			err = ErrNoReport
			return
		}
		playing, err = o.cfg.Player.Toggle()
	}); e != nil {
		return false, e
	}
	return playing, err
}

// Snapshot returns the latest published state. It never blocks on the
// actor.
func (o *Orchestrator) Snapshot() Snapshot {
	s := *o.snap.Load()
	s.Playing = o.cfg.Player.Playing()
	if n, ok := o.cfg.Notices.Latest(); ok {
		s.Notice = &n
	}
	return s
}

// LastFrame returns the most recently captured frame.
func (o *Orchestrator) LastFrame() (capture.Frame, bool) {
	f := o.lastFrame.Load()
	if f == nil {
		return capture.Frame{}, false
	}
	return *f, true
}

// ── Actor internals ──────────────────────────────────────────────────────────

func (o *Orchestrator) start(ctx context.Context, trigger Trigger) error {
	if !o.state.startable() {
		return fmt.Errorf("%w (state=%s)", ErrCycleInProgress, o.state)
	}
	o.cfg.Player.Release()
	if o.cfg.LiveUpdates != nil {
		o.cfg.LiveUpdates.Stop()
	}

	c := &Cycle{ID: uuid.NewString(), Trigger: trigger, StartedAt: o.now()}
	o.cur = c
	o.inflight = c.ID
	o.state = Capturing
	slog.Info("cycle started", "cycle_id", c.ID, "trigger", trigger)
	o.cfg.Notices.Publish(notice.Info, "cycle", "Capturing the wind map...")

	o.launch(ctx, c.ID, observe.StageCapture, func(sctx context.Context) stageResult {
		frame, err := o.cfg.Capture.CaptureStillFrame(sctx)
		return stageResult{stage: Capturing, frame: frame, err: err}
	})
	return nil
}

// launch runs work on a worker goroutine and posts its result back.
func (o *Orchestrator) launch(ctx context.Context, cycleID, stage string, work func(ctx context.Context) stageResult) {
	o.workers.Go(func() {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		defer cancel()
		sctx, end := observe.StartStage(sctx, stage, cycleID)
		began := time.Now()

		res := work(sctx)
		res.cycleID = cycleID

		end(res.err)
		o.cfg.Metrics.RecordStage(ctx, stage, time.Since(began), res.err)
		select {
		case o.results <- res:
		case <-ctx.Done():
		}
	})
}

func (o *Orchestrator) apply(ctx context.Context, res stageResult) {
	if res.cycleID != o.inflight || res.stage != o.state {
		slog.Debug("discarding stale stage result",
			"cycle_id", res.cycleID, "stage", res.stage, "state", o.state, "err", res.err)
		return
	}
	c := o.cur

	switch res.stage {
	case Capturing:
		if res.err != nil {
			o.captureFailed(ctx, res.err)
			return
		}
		c.Frame = res.frame
		frame := res.frame
		o.lastFrame.Store(&frame)
		o.state = Analyzing
		o.cfg.Notices.Publish(notice.Info, "cycle", "Performing deep analysis... This may take a moment.")
		o.launch(ctx, c.ID, observe.StageAnalysis, func(sctx context.Context) stageResult {
			text, err := o.cfg.Analyst.Analyze(sctx, frame)
			return stageResult{stage: Analyzing, text: text, err: err}
		})

	case Analyzing:
		if res.err != nil {
			slog.Error("analysis failed", "cycle_id", c.ID, "err", res.err)
			o.cfg.Notices.Publish(notice.Error, "cycle", "Failed to perform analysis. See the log for details.")
			o.finish(ctx, "analysis_failed", o.fallbackState())
			return
		}
		c.Analysis = res.text
		o.state = GeneratingReport
		o.cfg.Notices.Publish(notice.Info, "cycle", "Generating 2-minute audio report...")
		analysisText, cycleID := res.text, c.ID
		o.launch(ctx, cycleID, observe.StageScript, func(sctx context.Context) stageResult {
			return o.generateReport(sctx, cycleID, analysisText)
		})

	case GeneratingReport:
		c.Script = res.script
		if res.err != nil {
			slog.Error("report generation failed", "cycle_id", c.ID, "err", res.err)
			o.cfg.Notices.Publish(notice.Error, "cycle", "Failed to generate audio report. See the log for details.")
			o.enterReady(ctx, "no_audio")
			return
		}
		c.Report = res.report
		o.cfg.Player.Load(res.report)
		o.enterReady(ctx, "ready")
	}
}

// generateReport writes the script and synthesises it. A synthesis failure
// still returns the script.
func (o *Orchestrator) generateReport(ctx context.Context, cycleID, analysisText string) stageResult {
	script, err := o.cfg.Analyst.Narrate(ctx, analysisText)
	if err != nil {
		return stageResult{stage: GeneratingReport, err: err}
	}
	began := time.Now()
	sctx, end := observe.StartStage(ctx, observe.StageSpeech, cycleID)
	buf, err := o.cfg.Analyst.SpeakReport(sctx, script)
	end(err)
	o.cfg.Metrics.RecordStage(ctx, observe.StageSpeech, time.Since(began), err)
	return stageResult{stage: GeneratingReport, script: script, report: buf, err: err}
}

func (o *Orchestrator) captureFailed(ctx context.Context, err error) {
	if errors.Is(err, capture.ErrPermissionDenied) {
		slog.Warn("capture permission denied", "cycle_id", o.inflight, "err", err)
		o.cfg.Notices.Publish(notice.Error, "cycle",
			`Screen capture permission was denied. Please click "Start Analysis" again and allow permission to proceed.`)
		o.stopAutomationTicker()
		o.automation = false
		o.queued = false
		o.finish(ctx, "permission_denied", Idle)
		return
	}
	slog.Error("capture failed", "cycle_id", o.inflight, "err", err)
	o.cfg.Notices.Publish(notice.Error, "cycle", "Screen capture was cancelled or failed.")
	o.finish(ctx, "capture_failed", o.fallbackState())
}

// fallbackState keeps the timer alive in automation and returns manual
// runs to Idle.
func (o *Orchestrator) fallbackState() State {
	if o.automation {
		return Ready
	}
	return Idle
}

func (o *Orchestrator) enterReady(ctx context.Context, outcome string) {
	c := o.cur
	// Only a fresh report restarts the staleness countdown.
	if outcome == "ready" {
		o.remaining = o.cfg.Countdown
		o.warned = false
	}
	if c.Report != nil && !c.AutoPlayed {
		if err := o.cfg.Player.Play(); err != nil {
			slog.Warn("auto-play report", "cycle_id", c.ID, "err", err)
		} else {
			c.AutoPlayed = true
		}
		o.cfg.Notices.Publish(notice.Info, "cycle", "Analysis complete. Playing audio report now.")
	} else if outcome == "ready" {
		o.cfg.Notices.Publish(notice.Info, "cycle", "Analysis complete.")
	}
	o.finish(ctx, outcome, Ready)
}

// finish ends the in-flight cycle and runs a queued automation tick.
func (o *Orchestrator) finish(ctx context.Context, outcome string, next State) {
	c := o.cur
	o.state = next
	o.inflight = ""
	o.cfg.Metrics.RecordCycle(ctx, string(c.Trigger), outcome, o.now().Sub(c.StartedAt))
	slog.Info("cycle finished", "cycle_id", c.ID, "outcome", outcome, "state", next)

	if o.queued && o.automation {
		o.queued = false
		if err := o.start(ctx, TriggerTimer); err != nil {
			slog.Warn("queued cycle did not start", "err", err)
		}
	}
}

func (o *Orchestrator) setAutomation(ctx context.Context, on bool) {
	if on == o.automation {
		return
	}
	if on {
		o.automation = true
		o.autoTicker = o.newTicker(o.cfg.Interval)
		o.cfg.Notices.Publish(notice.Info, "cycle",
			fmt.Sprintf("Automation started. A new analysis runs every %s.", o.cfg.Interval))
		if o.state.startable() {
			if err := o.start(ctx, TriggerTimer); err != nil {
				slog.Warn("automation: first cycle did not start", "err", err)
			}
		} else {
			o.queued = true
		}
		return
	}

	o.automation = false
	o.queued = false
	o.stopAutomationTicker()
	if o.inflight != "" {
		slog.Info("automation stopped mid-cycle, result will be dropped", "cycle_id", o.inflight, "state", o.state)
		o.cfg.Metrics.RecordCycle(ctx, string(o.cur.Trigger), "cancelled", o.now().Sub(o.cur.StartedAt))
	}
	o.inflight = ""
	o.state = Idle
	o.cfg.Player.Release()
	if o.cur != nil {
		o.cur.Report = nil
	}
	o.cfg.Notices.Publish(notice.Info, "cycle", "Automation stopped.")
}

func (o *Orchestrator) stopAutomationTicker() {
	if o.autoTicker != nil {
		o.autoTicker.Stop()
		o.autoTicker = nil
	}
}

func (o *Orchestrator) onAutomationTick(ctx context.Context) {
	if !o.automation {
		return
	}
	if !o.state.startable() {
		if !o.queued {
			slog.Debug("automation tick while cycle in flight, queued", "state", o.state)
		}
		o.queued = true
		return
	}
	if err := o.start(ctx, TriggerTimer); err != nil {
		slog.Warn("automation tick did not start a cycle", "err", err)
	}
}

func (o *Orchestrator) onCountdownTick() {
	counting := o.state == Ready ||
		(o.automation && (o.state == Analyzing || o.state == GeneratingReport))
	if !counting || o.remaining <= 0 {
		return
	}
	o.remaining -= countdownTick
	if o.remaining <= 0 {
		o.remaining = 0
		if !o.warned {
			o.warned = true
			o.cfg.Notices.Publish(notice.Warning, "cycle", staleMessage)
		}
	}
}

// publish stores a fresh snapshot for lock-free readers.
func (o *Orchestrator) publish() {
	s := &Snapshot{
		State:      o.state,
		Label:      o.state.Label(),
		Countdown:  int(o.remaining / time.Second),
		Automation: o.automation,
		Queued:     o.queued,
	}
	if c := o.cur; c != nil {
		s.CycleID = c.ID
		s.Trigger = c.Trigger
		started := c.StartedAt
		s.StartedAt = &started
		s.Analysis = c.Analysis
		s.Script = c.Script
		s.HasReport = c.Report != nil
		if len(c.Frame.Data) > 0 {
			f := c.Frame
			s.Frame = &f
		}
	}
	o.snap.Store(s)
}
