package playback

import (
	"log/slog"
	"sync"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/pkg/audio"
)

// Player plays one loaded buffer on demand, like a report's play/stop
// button.
//
// Every start bumps a generation counter; the completion watcher only
// clears the playing flag when its generation is still current, so a stale
// completion never overrides a later explicit start or stop.
type Player struct {
	sched *Scheduler

	mu      sync.Mutex
	buf     *goaudio.Float32Buffer
	voice   audio.Voice
	playing bool
	gen     uint64
	wg      sync.WaitGroup
}

// NewPlayer returns a Player scheduling through its own [Scheduler] on out.
func NewPlayer(out audio.Output) *Player {
	return &Player{sched: NewScheduler(out)}
}

// Load replaces the buffer. Any current playback is stopped.
func (p *Player) Load(buf *goaudio.Float32Buffer) {
	p.Stop()
	p.mu.Lock()
	p.buf = buf
	p.mu.Unlock()
}

// Loaded reports whether a buffer is available.
func (p *Player) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf != nil
}

// Play starts the buffer from the beginning, stopping any current
// playback first.
func (p *Player) Play() error {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil {
		return ErrNoBuffer
	}
	p.sched.Reset()
	sc, err := p.sched.Schedule(p.buf)
	if err != nil {
		return err
	}
	p.gen++
	gen := p.gen
	p.voice = sc.Voice
	p.playing = true

	p.wg.Go(func() {
		<-sc.Voice.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.gen == gen {
			p.playing = false
			p.voice = nil
		}
	})
	return nil
}

// Stop halts playback. Stopping an idle player is a no-op.
func (p *Player) Stop() {
	p.mu.Lock()
	p.gen++
	v := p.voice
	p.voice = nil
	p.playing = false
	p.mu.Unlock()
	if v != nil {
		v.Stop()
	}
}

// Toggle stops when playing and plays otherwise. It reports whether the
// player is playing afterwards.
func (p *Player) Toggle() (bool, error) {
	if p.Playing() {
		p.Stop()
		return false, nil
	}
	if err := p.Play(); err != nil {
		return false, err
	}
	return true, nil
}

// Playing reports whether a buffer is currently audible.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Release stops playback and drops the buffer.
func (p *Player) Release() {
	p.Stop()
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
	slog.Debug("playback: buffer released")
}

// Wait blocks until all completion watchers have returned. Watchers return
// when their voice finishes or is stopped.
func (p *Player) Wait() {
	p.wg.Wait()
}
