// Package capture grabs a single still frame of the wind map for analysis.
//
// A [Display] hands out a [Handle] when the operator grants access. The
// [Pipeline] takes exactly one image from the handle, releases it on every
// path and re-encodes the image as JPEG.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	// Registered decoders for display images.
	_ "image/gif"
	_ "image/png"
)

// DefaultJPEGQuality is the quality of encoded frames.
const DefaultJPEGQuality = 90

var (
	// ErrPermissionDenied is returned when the display declined access.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrCaptureFailed is returned when grabbing or encoding a frame failed.
	ErrCaptureFailed = errors.New("capture: capture failed")
)

// Frame is one encoded still image.
type Frame struct {
	Data       []byte    `json:"-"`
	MIMEType   string    `json:"mime_type"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CapturedAt time.Time `json:"captured_at"`
}

// Display is a source of frames that must be acquired before use.
type Display interface {
	// Acquire asks for access. A refusal returns an error wrapping
	// [ErrPermissionDenied].
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an acquired display.
type Handle interface {
	// GrabFrame returns the current picture in any registered image format.
	GrabFrame(ctx context.Context) ([]byte, error)

	// Release frees the display. It is safe to call more than once.
	Release() error
}

// Pipeline captures still frames from a Display.
type Pipeline struct {
	display Display
	quality int
	now     func() time.Time
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithQuality overrides the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(p *Pipeline) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

// NewPipeline returns a Pipeline reading from display.
func NewPipeline(display Display, opts ...Option) *Pipeline {
	p := &Pipeline{display: display, quality: DefaultJPEGQuality, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CaptureStillFrame acquires the display, grabs one image, releases the
// display and returns the image as JPEG. The display is released before the
// image is decoded. Every failure other than a refusal wraps
// [ErrCaptureFailed], cancellation included.
func (p *Pipeline) CaptureStillFrame(ctx context.Context) (Frame, error) {
	h, err := p.display.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return Frame{}, fmt.Errorf("capture: acquire: %w", err)
		}
		return Frame{}, fmt.Errorf("capture: acquire: %w: %w", ErrCaptureFailed, err)
	}
	// The display is held only for the grab; decoding works on our copy.
	release := sync.OnceFunc(func() {
		if err := h.Release(); err != nil {
			slog.Warn("capture: release display", "err", err)
		}
	})
	defer release()

	raw, err := h.GrabFrame(ctx)
	release()
	if err != nil {
		return Frame{}, fmt.Errorf("capture: grab frame: %w: %w", ErrCaptureFailed, err)
	}
	at := p.now()

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Frame{}, fmt.Errorf("capture: decode frame: %w: %w", ErrCaptureFailed, err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
		return Frame{}, fmt.Errorf("capture: encode jpeg: %w: %w", ErrCaptureFailed, err)
	}
	b := img.Bounds()
	slog.Debug("captured still frame", "width", b.Dx(), "height", b.Dy(), "bytes", buf.Len())
	return Frame{
		Data:       buf.Bytes(),
		MIMEType:   "image/jpeg",
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: at,
	}, nil
}
