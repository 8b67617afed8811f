package timeline

import (
	"context"
	"time"

	"github.com/MrWong99/pagasa/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputFactory = (*Factory)(nil)

// DefaultPeriod is the render window used by [Factory] when Period is zero.
const DefaultPeriod = 20 * time.Millisecond

// Factory creates real-time driven timelines. It is the output device of
// headless deployments: audio is rendered on the wall clock and handed to
// the sink returned by NewSink, or discarded.
type Factory struct {
	// Ctx bounds the lifetime of every driver goroutine.
	Ctx context.Context

	// Period is the render window. Defaults to [DefaultPeriod].
	Period time.Duration

	// NewSink optionally returns a sink for each new output.
	NewSink func(format audio.Format) (Sink, error)
}

// NewOutput implements [audio.OutputFactory].
func (f *Factory) NewOutput(format audio.Format) (audio.Output, error) {
	ctx := f.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	period := f.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	tl := New(format)
	var sink Sink
	if f.NewSink != nil {
		s, err := f.NewSink(tl.Format())
		if err != nil {
			return nil, err
		}
		sink = s
	}
	tl.Drive(ctx, period, sink)
	return tl, nil
}
