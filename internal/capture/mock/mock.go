// Package mock provides test doubles for [capture.Display] and
// [capture.Handle].
package mock

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/MrWong99/pagasa/internal/capture"
)

var (
	_ capture.Display = (*Display)(nil)
	_ capture.Handle  = (*Handle)(nil)
)

// Display is a mock [capture.Display]. Each Acquire hands out a fresh
// [Handle] serving Image and records it for inspection.
type Display struct {
	mu sync.Mutex

	// Image is returned by GrabFrame on every handle.
	Image []byte

	// AcquireErr is returned by Acquire when non-nil.
	AcquireErr error

	// GrabErr is returned by GrabFrame when non-nil.
	GrabErr error

	// AcquireFunc, when set, runs before Acquire returns. Tests use it to
	// block a capture in flight.
	AcquireFunc func(ctx context.Context) error

	handles []*Handle
}

// Acquire implements [capture.Display].
func (d *Display) Acquire(ctx context.Context) (capture.Handle, error) {
	d.mu.Lock()
	fn, acquireErr := d.AcquireFunc, d.AcquireErr
	d.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if acquireErr != nil {
		d.handles = append(d.handles, nil)
		return nil, acquireErr
	}
	h := &Handle{data: d.Image, grabErr: d.GrabErr}
	d.handles = append(d.handles, h)
	return h, nil
}

// SetAcquireErr changes the Acquire error for subsequent calls.
func (d *Display) SetAcquireErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AcquireErr = err
}

// AcquireCalls returns how many times Acquire was called.
func (d *Display) AcquireCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// Handles returns the handles handed out so far. Refused acquisitions are
// recorded as nil.
func (d *Display) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// Handle is a mock [capture.Handle].
type Handle struct {
	mu       sync.Mutex
	data     []byte
	grabErr  error
	grabs    int
	releases int
}

// GrabFrame implements [capture.Handle].
func (h *Handle) GrabFrame(_ context.Context) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grabs++
	if h.grabErr != nil {
		return nil, h.grabErr
	}
	return h.data, nil
}

// Release implements [capture.Handle].
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases++
	return nil
}

// Grabs returns how many frames were grabbed.
func (h *Handle) Grabs() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grabs
}

// Releases returns how many times Release was called.
func (h *Handle) Releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.releases
}

// PNG returns a w×h PNG image with a busy colour pattern.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(x*y + 3*y), B: uint8((x ^ y) * 5), A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
