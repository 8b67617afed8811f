package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/pagasa/pkg/provider/tts"
	ttsmock "github.com/MrWong99/pagasa/pkg/provider/tts/mock"
)

func TestTTSFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	secondary := &ttsmock.Provider{SynthesizeResult: &tts.Speech{Data: []byte{1, 0}, MIMEType: "audio/L16;rate=24000"}}

	fb := NewTTSFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	req := tts.Request{Text: "Ingat po.", Voice: "Charon", Style: "calm"}
	speech, err := fb.SynthesizeSpeech(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(speech.Data) != 2 {
		t.Errorf("data = %v", speech.Data)
	}
	if got := secondary.Calls(); len(got) != 1 || got[0] != req {
		t.Errorf("secondary calls = %+v", got)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errTest}, "gemini", FallbackConfig{})
	_, err := fb.SynthesizeSpeech(context.Background(), tts.Request{Text: "x"})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v", err)
	}
	if st := fb.Statuses(); len(st) != 1 || st[0].Name != "gemini" {
		t.Errorf("statuses = %+v", st)
	}
}
