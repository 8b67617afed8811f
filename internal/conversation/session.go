// Package conversation runs the live voice conversation with the PAG-ASA
// agent: microphone audio streams to a [live.Conn], agent speech is played
// back gap-free through a [playback.Scheduler], and transcripts are folded
// into a turn log.
//
// A [Session] is single-use. The [Manager] owns at most one active session
// and remembers the last one so its turn log survives a stop.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pagasa/internal/notice"
	"github.com/MrWong99/pagasa/internal/observe"
	"github.com/MrWong99/pagasa/internal/playback"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/provider/live"
)

const defaultOutboundQueue = 32

var (
	// ErrNotIdle is returned by [Session.Open] on a session that was
	// already opened or closed.
	ErrNotIdle = errors.New("conversation: session is not idle")

	// ErrClosed is returned by [Session.Open] when Close won the race
	// against a pending open.
	ErrClosed = errors.New("conversation: session closed")
)

// State is the lifecycle position of a [Session].
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closing
	Closed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Turn is one completed exchange.
type Turn struct {
	Input  string    `json:"input"`
	Output string    `json:"output"`
	At     time.Time `json:"at"`
}

// Pending holds the transcripts of the turn in progress.
type Pending struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Config holds the dependencies of a [Session].
type Config struct {
	// Microphone captures the operator's voice. Required.
	Microphone audio.Microphone

	// Outputs creates the 24 kHz mono output for agent speech. Required.
	Outputs audio.OutputFactory

	// Connector opens the live connection. Required.
	Connector live.Connector

	// Live is passed to Connect.
	Live live.Config

	// Instructions, when set, replaces Live.Instructions at every connect
	// so a reloaded persona reaches the next session.
	Instructions func() string

	// Notices receives remote errors. May be nil.
	Notices *notice.Board

	// Metrics records frame counts and the active-session gauge. May be nil.
	Metrics *observe.Metrics

	// OutboundQueue bounds the encoded chunks waiting to be sent. When full
	// the oldest chunk is dropped. Defaults to 32.
	OutboundQueue int
}

// Session is one live conversation. All exported methods are safe for
// concurrent use.
type Session struct {
	cfg Config
	id  string
	now func() time.Time

	mu       sync.Mutex
	state    State
	starting bool
	err      error
	turns    []Turn
	input    strings.Builder
	output   strings.Builder
	src      audio.Source
	conn     live.Conn
	out      audio.Output
	sched    *playback.Scheduler
	cancel   context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewSession returns an idle session.
func NewSession(cfg Config) *Session {
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = defaultOutboundQueue
	}
	return &Session{
		cfg:  cfg,
		id:   uuid.NewString(),
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// Open acquires the microphone and output, then dials the live backend.
// It returns once the connection is dialled; the session moves to [Open]
// when the remote side accepts the setup.
//
// A device failure wraps [audio.ErrDeviceUnavailable] and leaves the
// session [Idle]. A dial failure wraps [live.ErrConnection] and closes the
// session.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle || s.starting {
		s.mu.Unlock()
		return fmt.Errorf("conversation: open: %w", ErrNotIdle)
	}
	s.starting = true
	s.mu.Unlock()

	src, err := s.cfg.Microphone.Open(ctx)
	if err != nil {
		s.abortStart()
		return fmt.Errorf("conversation: open microphone: %w", deviceErr(err))
	}
	out, err := s.cfg.Outputs.NewOutput(audio.Format{SampleRate: audio.OutputRate, Channels: 1})
	if err != nil {
		_ = src.Close()
		s.abortStart()
		return fmt.Errorf("conversation: open output: %w", deviceErr(err))
	}
	sched := playback.NewScheduler(out)
	sched.Reset()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.starting = false
	if s.state != Idle {
		s.mu.Unlock()
		cancel()
		_ = src.Close()
		_ = out.Close()
		return fmt.Errorf("conversation: open: %w", ErrClosed)
	}
	s.src, s.out, s.sched, s.cancel = src, out, sched, cancel
	s.state = Connecting
	s.mu.Unlock()

	slog.Info("conversation connecting", "session_id", s.id, "model", s.cfg.Live.Model)

	lc := s.cfg.Live
	if s.cfg.Instructions != nil {
		lc.Instructions = s.cfg.Instructions()
	}
	conn, err := s.cfg.Connector.Connect(ctx, lc)
	if err != nil {
		if !errors.Is(err, live.ErrConnection) {
			err = fmt.Errorf("%w: %w", live.ErrConnection, err)
		}
		err = fmt.Errorf("conversation: connect: %w", err)
		s.release(err)
		return err
	}

	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("conversation: open: %w", ErrClosed)
	}
	s.conn = conn
	s.wg.Go(func() { s.eventLoop(runCtx, conn) })
	s.mu.Unlock()
	return nil
}

func (s *Session) abortStart() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

func deviceErr(err error) error {
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
}

// Close ends the session from any state and waits for its goroutines. It is
// safe to call more than once and before Open.
func (s *Session) Close() error {
	s.release(nil)
	s.wg.Wait()
	return nil
}

// release tears everything down exactly once. It never waits for the
// session goroutines, so the event loop may call it.
func (s *Session) release(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasOpen := s.state == Open
		s.state = Closing
		if cause != nil && s.err == nil {
			s.err = cause
		}
		src, conn, out, sched, cancel := s.src, s.conn, s.out, s.sched, s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if src != nil {
			_ = src.Close()
		}
		if conn != nil {
			_ = conn.Close()
		}
		if sched != nil {
			sched.Stop()
		}
		if out != nil {
			_ = out.Close()
		}

		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		close(s.done)

		if wasOpen {
			s.cfg.Metrics.SessionClosed(context.Background())
		}
		if cause != nil {
			slog.Warn("conversation closed", "session_id", s.id, "err", cause)
		} else {
			slog.Info("conversation closed", "session_id", s.id)
		}
	})
}

// ── Inbound ──────────────────────────────────────────────────────────────────

func (s *Session) eventLoop(ctx context.Context, conn live.Conn) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.release(nil)
				return
			}
			if !s.handle(ctx, conn, ev) {
				return
			}
		}
	}
}

// handle applies one event and reports whether the loop should continue.
func (s *Session) handle(ctx context.Context, conn live.Conn, ev live.Event) bool {
	switch ev.Kind {
	case live.EventOpened:
		s.startCapture(ctx, conn)

	case live.EventInputTranscript:
		s.mu.Lock()
		s.input.WriteString(ev.Text)
		s.mu.Unlock()

	case live.EventOutputTranscript:
		s.mu.Lock()
		s.output.WriteString(ev.Text)
		s.mu.Unlock()

	case live.EventAudio:
		s.playChunk(ctx, ev.Audio)

	case live.EventInterrupted:
		s.mu.Lock()
		sched := s.sched
		s.mu.Unlock()
		sched.Interrupt()

	case live.EventTurnComplete:
		s.mu.Lock()
		s.turns = append(s.turns, Turn{Input: s.input.String(), Output: s.output.String(), At: s.now()})
		s.input.Reset()
		s.output.Reset()
		n := len(s.turns)
		s.mu.Unlock()
		slog.Debug("conversation turn complete", "session_id", s.id, "turns", n)

	case live.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("remote error")
		}
		if !errors.Is(err, live.ErrConnection) {
			err = fmt.Errorf("%w: %w", live.ErrConnection, err)
		}
		if s.cfg.Notices != nil {
			s.cfg.Notices.Publish(notice.Error, "conversation", "An error occurred with the connection.")
		}
		s.release(fmt.Errorf("conversation: %w", err))
		return false

	case live.EventClosed:
		s.release(nil)
		return false
	}
	return true
}

// playChunk decodes one agent audio chunk and schedules it. Malformed
// chunks never reach the scheduler.
func (s *Session) playChunk(ctx context.Context, encoded string) {
	samples, err := audio.DecodeInbound(encoded)
	if err != nil {
		s.cfg.Metrics.RecordFrame(ctx, observe.FrameMalformed)
		slog.Warn("conversation: dropping malformed audio chunk", "session_id", s.id, "err", err)
		return
	}
	s.cfg.Metrics.RecordFrame(ctx, observe.FrameReceived)
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	sched := s.sched
	s.mu.Unlock()
	if _, err := sched.Schedule(audio.PCM16ToBuffer(samples, audio.OutputRate, 1)); err != nil {
		slog.Warn("conversation: schedule audio", "session_id", s.id, "err", err)
	}
}

// ── Outbound ─────────────────────────────────────────────────────────────────

func (s *Session) startCapture(ctx context.Context, conn live.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting {
		return
	}
	s.state = Open
	queue := make(chan string, s.cfg.OutboundQueue)
	src := s.src
	s.wg.Go(func() { s.captureLoop(ctx, src, queue) })
	s.wg.Go(func() { s.sendLoop(ctx, conn, queue) })

	s.cfg.Metrics.SessionOpened(ctx)
	slog.Info("conversation open", "session_id", s.id)
}

func (s *Session) captureLoop(ctx context.Context, src audio.Source, queue chan string) {
	conf := &audio.Conformer{TargetRate: audio.TransportRate}
	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			samples := conf.Conform(f)
			if len(samples) == 0 {
				continue
			}
			enc, err := audio.EncodeOutbound(samples, audio.TransportRate)
			if err != nil {
				slog.Warn("conversation: encode microphone frame", "session_id", s.id, "err", err)
				continue
			}
			s.enqueue(ctx, queue, enc)
		}
	}
}

// enqueue never blocks: when the queue is full the oldest chunk makes room.
func (s *Session) enqueue(ctx context.Context, queue chan string, enc string) {
	for {
		select {
		case queue <- enc:
			return
		default:
		}
		select {
		case <-queue:
			s.cfg.Metrics.RecordFrame(ctx, observe.FrameDropped)
		default:
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, conn live.Conn, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case enc := <-queue:
			if err := conn.SendAudio(ctx, enc); err != nil {
				s.cfg.Metrics.RecordFrame(ctx, observe.FrameSendError)
				slog.Debug("conversation: send audio", "session_id", s.id, "err", err)
				continue
			}
			s.cfg.Metrics.RecordFrame(ctx, observe.FrameSent)
		}
	}
}

// ── Accessors ────────────────────────────────────────────────────────────────

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// TurnLog returns a copy of the completed turns in order.
func (s *Session) TurnLog() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Pending returns the partial transcripts of the current turn.
func (s *Session) Pending() Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pending{Input: s.input.String(), Output: s.output.String()}
}

// Done is closed once the session reached [Closed].
func (s *Session) Done() <-chan struct{} { return s.done }
