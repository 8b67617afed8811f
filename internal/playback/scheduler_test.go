package playback_test

import (
	"errors"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/MrWong99/pagasa/internal/playback"
	"github.com/MrWong99/pagasa/pkg/audio"
	"github.com/MrWong99/pagasa/pkg/audio/mock"
	"github.com/MrWong99/pagasa/pkg/audio/timeline"
)

// chunk returns a mono 24 kHz buffer lasting d.
func chunk(d time.Duration) *goaudio.Float32Buffer {
	n := int(d * 24000 / time.Second)
	return &goaudio.Float32Buffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: 24000},
		Data:   make([]float32, n),
	}
}

func TestScheduler_BackToBack(t *testing.T) {
	t.Parallel()
	out := &mock.Output{}
	s := playback.NewScheduler(out)

	for range 3 {
		if _, err := s.Schedule(chunk(100 * time.Millisecond)); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}
	calls := out.PlayCalls()
	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}
	for i, c := range calls {
		if c.At != want[i] {
			t.Errorf("chunk %d at %v, want %v", i, c.At, want[i])
		}
	}
	if s.Cursor() != 300*time.Millisecond {
		t.Errorf("cursor = %v", s.Cursor())
	}
}

// Chunks arriving late or early with random jitter must never overlap and
// never start in the past.
// TestScheduler_OddLengthChunksNeverOverlap renders real chunks whose
// length is not a whole number of nanoseconds. Any overlap shows up as a
// frame where two chunks are mixed.
func TestScheduler_OddLengthChunksNeverOverlap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		frames int
		count  int
	}{
		{name: "two chunks", frames: 1001, count: 2},
		{name: "long run", frames: 1001, count: 40},
		{name: "tiny chunks", frames: 7, count: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tl := timeline.New(audio.Format{SampleRate: 24000, Channels: 1})
			defer tl.Close()
			s := playback.NewScheduler(tl)

			for range tt.count {
				buf := &goaudio.Float32Buffer{
					Format: &goaudio.Format{NumChannels: 1, SampleRate: 24000},
					Data:   make([]float32, tt.frames),
				}
				for i := range buf.Data {
					buf.Data[i] = 0.25
				}
				if _, err := s.Schedule(buf); err != nil {
					t.Fatalf("Schedule: %v", err)
				}
			}

			total := tt.frames * tt.count
			dst := make([]float32, total+100)
			tl.Render(dst)
			for i := range total {
				if dst[i] != 0.25 {
					t.Fatalf("frame %d = %v, want 0.25", i, dst[i])
				}
			}
			if dst[total] != 0 {
				t.Errorf("frame %d = %v, want silence after the last chunk", total, dst[total])
			}
			if want := time.Duration(total) * time.Second / 24000; s.Cursor() != want {
				t.Errorf("Cursor() = %v, want %v", s.Cursor(), want)
			}
		})
	}
}

func TestScheduler_MonotonicUnderJitter(t *testing.T) {
	t.Parallel()
	out := &mock.Output{}
	s := playback.NewScheduler(out)

	arrivals := []time.Duration{0, 20, 180, 190, 195, 600, 610, 615, 2000}
	var prevEnd time.Duration
	for i, ms := range arrivals {
		out.SetNow(ms * time.Millisecond)
		sc, err := s.Schedule(chunk(100 * time.Millisecond))
		if err != nil {
			t.Fatalf("Schedule %d: %v", i, err)
		}
		if sc.StartAt < prevEnd {
			t.Errorf("chunk %d starts at %v before previous end %v", i, sc.StartAt, prevEnd)
		}
		if sc.StartAt < out.Now() {
			t.Errorf("chunk %d starts at %v in the past (now %v)", i, sc.StartAt, out.Now())
		}
		prevEnd = sc.StartAt + sc.Duration
	}
}

func TestScheduler_ResetStartsAtNow(t *testing.T) {
	t.Parallel()
	out := &mock.Output{}
	s := playback.NewScheduler(out)

	_, _ = s.Schedule(chunk(time.Second))
	s.Reset()
	out.SetNow(250 * time.Millisecond)
	sc, err := s.Schedule(chunk(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if sc.StartAt != 250*time.Millisecond {
		t.Errorf("start = %v, want now (250ms)", sc.StartAt)
	}
}

func TestScheduler_StopAndInterrupt(t *testing.T) {
	t.Parallel()
	out := &mock.Output{}
	s := playback.NewScheduler(out)

	_, _ = s.Schedule(chunk(100 * time.Millisecond))
	_, _ = s.Schedule(chunk(100 * time.Millisecond))
	out.PlayCalls()[0].Voice.Finish()
	if got := s.Pending(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}

	s.Interrupt()
	for i, c := range out.PlayCalls() {
		select {
		case <-c.Voice.Done():
		default:
			t.Errorf("voice %d still playing after Interrupt", i)
		}
	}
	if out.PlayCalls()[0].Voice.Stopped() {
		t.Error("finished voice should not be stopped again")
	}
	if s.Cursor() != 0 {
		t.Errorf("cursor = %v after Interrupt", s.Cursor())
	}
}

func TestScheduler_Errors(t *testing.T) {
	t.Parallel()
	out := &mock.Output{PlayErr: errors.New("device gone")}
	s := playback.NewScheduler(out)

	if _, err := s.Schedule(nil); !errors.Is(err, playback.ErrNoBuffer) {
		t.Errorf("nil buffer: err = %v", err)
	}
	if _, err := s.Schedule(chunk(time.Second)); err == nil {
		t.Error("expected play error")
	}
	if s.Cursor() != 0 {
		t.Errorf("failed play moved cursor to %v", s.Cursor())
	}
}
