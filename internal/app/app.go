// Package app wires the PAG-ASA subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds every subsystem from
// the config and the providers created by main.go, Run serves the control
// API and drives the cycle orchestrator until the context ends, and
// Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithDisplay,
// WithAudio, etc.). When an option is not provided, New creates the real
// device from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pagasa/internal/analysis"
	"github.com/MrWong99/pagasa/internal/capture"
	"github.com/MrWong99/pagasa/internal/capture/browser"
	"github.com/MrWong99/pagasa/internal/config"
	"github.com/MrWong99/pagasa/internal/control"
	"github.com/MrWong99/pagasa/internal/conversation"
	"github.com/MrWong99/pagasa/internal/cycle"
	"github.com/MrWong99/pagasa/internal/health"
	"github.com/MrWong99/pagasa/internal/liveupdate"
	"github.com/MrWong99/pagasa/internal/notice"
	"github.com/MrWong99/pagasa/internal/observe"
	"github.com/MrWong99/pagasa/internal/playback"
	"github.com/MrWong99/pagasa/internal/resilience"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/provider/live"
	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

// serverShutdownTimeout bounds the graceful HTTP shutdown in Run.
const serverShutdownTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	// Inference runs the map analysis. Required.
	Inference llm.Provider

	// Script writes the broadcast scripts. Nil reuses Inference.
	Script llm.Provider

	// Speech synthesises reports and live updates. Required.
	Speech tts.Provider

	// Live opens conversation connections. Required.
	Live live.Connector

	// Breakers reports the circuit breakers per provider slot. May be nil.
	Breakers func() map[string][]resilience.BreakerStatus
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	// Injected or built from config.
	display     capture.Display
	mic         audio.Microphone
	outputs     audio.OutputFactory
	metrics     *observe.Metrics
	cycleOpts   []cycle.Option
	liveOpts    []liveupdate.Option
	devicesDone context.CancelFunc

	// Subsystems, initialised in New.
	notices      *notice.Board
	analyst      *analysis.Analyst
	player       *playback.Player
	orchestrator *cycle.Orchestrator
	liveUpdates  *liveupdate.Loop
	conversation *conversation.Manager
	health       *health.Handler
	control      *control.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	mu   sync.Mutex
	addr net.Addr

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDisplay injects the map display instead of creating one from config.
func WithDisplay(d capture.Display) Option {
	return func(a *App) { a.display = d }
}

// WithAudio injects the microphone and output factory instead of opening
// the configured device.
func WithAudio(mic audio.Microphone, outputs audio.OutputFactory) Option {
	return func(a *App) {
		a.mic = mic
		a.outputs = outputs
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCycleOptions passes options to [cycle.New].
func WithCycleOptions(opts ...cycle.Option) Option {
	return func(a *App) { a.cycleOpts = append(a.cycleOpts, opts...) }
}

// WithLiveUpdateOptions passes options to [liveupdate.New].
func WithLiveUpdateOptions(opts ...liveupdate.Option) Option {
	return func(a *App) { a.liveOpts = append(a.liveOpts, opts...) }
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing runs until
// [App.Run] is called, but audio devices are opened here so that a missing
// device fails startup.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Inference == nil || providers.Speech == nil || providers.Live == nil {
		return nil, errors.New("app: inference, speech and live providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		notices:   notice.NewBoard(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ok := false
	defer func() {
		if !ok {
			a.closeAll()
		}
	}()

	// ── 1. Devices ───────────────────────────────────────────────────────
	if err := a.initDevices(ctx); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	// ── 2. Analyst ───────────────────────────────────────────────────────
	if err := a.initAnalyst(); err != nil {
		return nil, fmt.Errorf("app: init analyst: %w", err)
	}

	// ── 3. Live updates + cycle orchestrator ─────────────────────────────
	if err := a.initCycle(); err != nil {
		return nil, fmt.Errorf("app: init cycle: %w", err)
	}

	// ── 4. Conversation ──────────────────────────────────────────────────
	a.conversation = conversation.NewManager(conversation.Config{
		Microphone: a.mic,
		Outputs:    a.outputs,
		Connector:  providers.Live,
		Live: live.Config{
			Model:               cfg.Providers.Live.Model,
			Voice:               cfg.Analysis.Voice,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Instructions: a.analyst.Persona,
		Notices:      a.notices,
		Metrics:      a.metrics,
	})
	a.closers = append(a.closers, a.conversation.Close)

	// ── 5. Control surface ───────────────────────────────────────────────
	if err := a.initControl(); err != nil {
		return nil, fmt.Errorf("app: init control: %w", err)
	}

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDevices opens the configured audio device and map display unless
// they were injected.
func (a *App) initDevices(ctx context.Context) error {
	if a.mic == nil || a.outputs == nil {
		devCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		a.devicesDone = cancel
		d, err := openDevices(devCtx, a.cfg.Audio)
		if err != nil {
			return err
		}
		if d.close != nil {
			a.closers = append(a.closers, d.close)
		}
		if a.mic == nil {
			a.mic = d.mic
		}
		if a.outputs == nil {
			a.outputs = d.outputs
		}
	}

	if a.display == nil {
		cc := a.cfg.Capture
		switch cc.Display {
		case config.DisplayFile:
			a.display = &capture.FileDisplay{Path: cc.File}
		default:
			a.display = browser.New(browser.Options{
				MapURL:          cc.MapURL,
				Width:           cc.Width,
				Height:          cc.Height,
				Settle:          cc.Settle,
				InstallBrowsers: cc.InstallBrowsers,
			})
		}
	}
	return nil
}

// initAnalyst builds the analyst, reading the persona override if set.
func (a *App) initAnalyst() error {
	ac := a.cfg.Analysis
	prompt := ac.Prompt
	if prompt == "" && ac.PromptFile != "" {
		b, err := os.ReadFile(ac.PromptFile)
		if err != nil {
			return fmt.Errorf("read prompt file: %w", err)
		}
		prompt = string(b)
	}
	analyst, err := analysis.New(analysis.Config{
		Inference:      a.providers.Inference,
		Script:         a.providers.Script,
		Speech:         a.providers.Speech,
		AnalysisModel:  ac.AnalysisModel,
		ScriptModel:    ac.ScriptModel,
		SpeechModel:    ac.SpeechModel,
		Voice:          ac.Voice,
		Style:          ac.Style,
		Location:       ac.Location,
		ThinkingBudget: ac.ThinkingBudget,
		SystemPrompt:   prompt,
		Metrics:        a.metrics,
	})
	if err != nil {
		return err
	}
	a.analyst = analyst
	return nil
}

// initCycle builds the report player, the live-update loop and the
// orchestrator. The report and the live updates play on separate outputs.
func (a *App) initCycle() error {
	format := audio.Format{SampleRate: audio.OutputRate, Channels: 1}

	reportOut, err := a.outputs.NewOutput(format)
	if err != nil {
		return fmt.Errorf("open report output: %w", err)
	}
	a.closers = append(a.closers, reportOut.Close)
	a.player = playback.NewPlayer(reportOut)

	liveOut, err := a.outputs.NewOutput(format)
	if err != nil {
		return fmt.Errorf("open live-update output: %w", err)
	}
	// The loop reads frames from the orchestrator, which stops the loop
	// whenever a cycle starts.
	loop, err := liveupdate.New(liveupdate.Config{
		Frames:   frameFunc(func() (capture.Frame, bool) { return a.orchestrator.LastFrame() }),
		Speaker:  a.analyst,
		Output:   liveOut,
		Notices:  a.notices,
		Metrics:  a.metrics,
		Interval: a.cfg.LiveUpdate.Interval,
	}, a.liveOpts...)
	if err != nil {
		_ = liveOut.Close()
		return err
	}
	a.liveUpdates = loop
	a.closers = append(a.closers, loop.Close)

	orch, err := cycle.New(cycle.Config{
		Capture:      capture.NewPipeline(a.display, capture.WithQuality(a.cfg.Capture.JPEGQuality)),
		Analyst:      a.analyst,
		Player:       a.player,
		LiveUpdates:  loop,
		Notices:      a.notices,
		Metrics:      a.metrics,
		Interval:     a.cfg.Cycle.Interval,
		Countdown:    a.cfg.Cycle.Countdown,
		StageTimeout: a.cfg.Cycle.StageTimeout,
	}, a.cycleOpts...)
	if err != nil {
		return err
	}
	a.orchestrator = orch
	return nil
}

// frameFunc adapts a function to [liveupdate.FrameSource].
type frameFunc func() (capture.Frame, bool)

func (f frameFunc) LastFrame() (capture.Frame, bool) { return f() }

// initControl builds the health probes and the control server.
func (a *App) initControl() error {
	var checkers []health.Checker
	if a.providers.Breakers != nil {
		for _, slot := range []string{"inference", "script", "speech"} {
			checkers = append(checkers, health.Breakers(slot, func() []resilience.BreakerStatus {
				return a.providers.Breakers()[slot]
			}))
		}
	}
	a.health = health.New(checkers...)

	srv, err := control.New(control.Config{
		Cycle:        a.orchestrator,
		Conversation: a.conversation,
		LiveUpdates:  a.liveUpdates,
		Location:     a.analyst.Location,
		Breakers:     a.providers.Breakers,
		Health:       a.health,
		Metrics:      a.metrics,
		Version:      a.version,
	})
	if err != nil {
		return err
	}
	a.control = srv
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and drives the cycle orchestrator until ctx
// is cancelled or the HTTP server fails. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.control.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orchestrator.Run(gctx)
	})
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.autoStart(gctx)
	})

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	return g.Wait()
}

// autoStart applies the configured startup toggles and then reports ready.
func (a *App) autoStart(ctx context.Context) error {
	if a.cfg.Cycle.AutoStart {
		if err := a.orchestrator.SetAutomation(ctx, true); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: start automation: %w", err)
		}
	}
	if a.cfg.LiveUpdate.AutoStart {
		a.liveUpdates.Start(ctx)
	}
	a.health.SetReady(true)
	return nil
}

// Addr returns the address Run listens on, or nil before Run.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Handler returns the control handler served by Run.
func (a *App) Handler() http.Handler { return a.control.Handler() }

// Notices returns the operator notice board.
func (a *App) Notices() *notice.Board { return a.notices }

// ApplyConfig applies the hot-reloadable part of a config change.
// Sections that need a restart are logged.
func (a *App) ApplyConfig(diff config.ConfigDiff) {
	if diff.LocationChanged {
		a.analyst.SetLocation(diff.NewLocation)
		slog.Info("location updated", "location", a.analyst.Location())
	}
	if diff.PromptChanged {
		a.analyst.SetPersona(diff.NewPrompt)
		// An open live conversation keeps its persona until reconnected.
		slog.Info("analyst persona updated", "bytes", len(a.analyst.Persona()))
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config change requires restart", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers
// are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.health.SetReady(false)

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		if a.devicesDone != nil {
			a.devicesDone()
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	if a.devicesDone != nil {
		a.devicesDone()
	}
}
