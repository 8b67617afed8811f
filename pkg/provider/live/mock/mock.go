// Package mock provides test doubles for the live package.
//
// Connector records every Connect call and returns the configured Conn.
// Conn exposes the inbound event stream to the test: call Emit to deliver
// server events and Finish to end the stream, and inspect Sent for the
// audio the component under test pushed.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pagasa/pkg/provider/live"
)

// Compile-time interface assertions.
var (
	_ live.Connector = (*Connector)(nil)
	_ live.Conn      = (*Conn)(nil)
)

// Connector is a mock implementation of [live.Connector].
type Connector struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect when ConnectErr is nil.
	ConnectResult *Conn

	// ConnectErr is returned by Connect when non-nil.
	ConnectErr error

	// ConnectCalls records the Config of every Connect call.
	ConnectCalls []live.Config
}

// Connect implements [live.Connector].
func (c *Connector) Connect(_ context.Context, cfg live.Config) (live.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectCalls = append(c.ConnectCalls, cfg)
	if c.ConnectErr != nil {
		return nil, c.ConnectErr
	}
	return c.ConnectResult, nil
}

// Calls returns a copy of the recorded Connect configs.
func (c *Connector) Calls() []live.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.Config(nil), c.ConnectCalls...)
}

// Conn is a mock implementation of [live.Conn].
type Conn struct {
	events     chan live.Event
	done       chan struct{}
	finishOnce sync.Once
	emitMu     sync.RWMutex

	mu         sync.Mutex
	sent       []string
	sendErr    error
	closed     bool
	closeCalls int
}

// NewConn returns a Conn with an event buffer of the given size.
func NewConn(buffer int) *Conn {
	return &Conn{
		events: make(chan live.Event, buffer),
		done:   make(chan struct{}),
	}
}

// SetSendErr makes subsequent SendAudio calls fail with err.
func (c *Conn) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// SendAudio implements [live.Conn].
func (c *Conn) SendAudio(_ context.Context, encoded string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, encoded)
	return nil
}

// Events implements [live.Conn].
func (c *Conn) Events() <-chan live.Event { return c.events }

// Emit delivers ev to the consumer. It blocks while the buffer is full and
// is a no-op after Finish.
func (c *Conn) Emit(ev live.Event) {
	c.emitMu.RLock()
	defer c.emitMu.RUnlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Finish closes the event stream.
func (c *Conn) Finish() {
	c.finishOnce.Do(func() {
		close(c.done)
		c.emitMu.Lock()
		close(c.events)
		c.emitMu.Unlock()
	})
}

// Close implements [live.Conn]. It finishes the event stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.closed = true
	c.mu.Unlock()
	c.Finish()
	return nil
}

// Sent returns a copy of every chunk accepted by SendAudio.
func (c *Conn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
