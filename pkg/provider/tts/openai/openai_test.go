package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name      string
		req       tts.Request
		wantModel string
		wantVoice string
		wantInput string
		wantInstr string
	}{
		{
			name:      "foreign voice falls back to default",
			req:       tts.Request{Text: "hi", Voice: "Charon", Style: "calm"},
			wantModel: DefaultModel,
			wantVoice: DefaultVoice,
			wantInput: "hi",
			wantInstr: "calm",
		},
		{
			name:      "openai voice kept",
			req:       tts.Request{Text: "hi", Voice: "Nova"},
			wantModel: DefaultModel,
			wantVoice: "nova",
			wantInput: "hi",
		},
		{
			name:      "tts-1 folds style into input",
			req:       tts.Request{Text: "hi", Model: "tts-1", Style: "calm"},
			wantModel: "tts-1",
			wantVoice: DefaultVoice,
			wantInput: "(calm) hi",
		},
		{
			name:      "gemini model ignored",
			req:       tts.Request{Text: "hi", Model: "gemini-2.5-flash-preview-tts"},
			wantModel: DefaultModel,
			wantVoice: DefaultVoice,
			wantInput: "hi",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := p.buildParams(tc.req)
			if got.Model != tc.wantModel {
				t.Errorf("model = %q, want %q", got.Model, tc.wantModel)
			}
			if string(got.Voice) != tc.wantVoice {
				t.Errorf("voice = %q, want %q", got.Voice, tc.wantVoice)
			}
			if got.Input != tc.wantInput {
				t.Errorf("input = %q, want %q", got.Input, tc.wantInput)
			}
			if got.Instructions.Value != tc.wantInstr {
				t.Errorf("instructions = %q, want %q", got.Instructions.Value, tc.wantInstr)
			}
			if got.ResponseFormat != "pcm" {
				t.Errorf("format = %q, want pcm", got.ResponseFormat)
			}
		})
	}
}

func TestSynthesizeSpeech_HTTP(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0x10, 0x00, 0xf0, 0xff})
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: "Ingat po."})
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if len(speech.Data) != 4 || speech.MIMEType != pcmMIME {
		t.Errorf("speech = %+v", speech)
	}
	if body["input"] != "Ingat po." || body["response_format"] != "pcm" {
		t.Errorf("request body = %v", body)
	}
}

func TestSynthesizeSpeech_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"))
	if _, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: ""}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty text: err = %v", err)
	}
	if _, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: "hi"}); !errors.Is(err, llm.ErrInference) {
		t.Errorf("server error: err = %v, want ErrInference", err)
	}
}

func TestNew_MissingKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error")
	}
}
