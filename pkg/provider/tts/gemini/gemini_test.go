package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
	"github.com/MrWong99/pagasa/pkg/provider/tts/gemini"
)

type request struct {
	Path     string
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
		SpeechConfig       struct {
			VoiceConfig struct {
				PrebuiltVoiceConfig struct {
					VoiceName string `json:"voiceName"`
				} `json:"prebuiltVoiceConfig"`
			} `json:"voiceConfig"`
		} `json:"speechConfig"`
	} `json:"generationConfig"`
}

func server(t *testing.T, status int, body string) (*httptest.Server, func() request) {
	t.Helper()
	var (
		mu   sync.Mutex
		last request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		req.Path = r.URL.Path
		mu.Lock()
		last = req
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() request {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

// The payload decodes to the four bytes 00 01 02 03.
const audioBody = `{"candidates": [{"content": {"role": "model", "parts": [
  {"inlineData": {"mimeType": "audio/L16;codec=pcm;rate=24000", "data": "AAECAw=="}}
]}}]}`

func TestSynthesizeSpeech(t *testing.T) {
	t.Parallel()

	srv, last := server(t, http.StatusOK, audioBody)
	p, err := gemini.New(context.Background(), "key", "", gemini.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	speech, err := p.SynthesizeSpeech(context.Background(), tts.Request{
		Text:  "Magandang gabi.",
		Style: "Taglish, deep Filipino reporter accent",
	})
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if string(speech.Data) != "\x00\x01\x02\x03" {
		t.Errorf("data = %v", speech.Data)
	}
	if speech.MIMEType != "audio/L16;codec=pcm;rate=24000" {
		t.Errorf("mime = %q", speech.MIMEType)
	}

	req := last()
	if !strings.Contains(req.Path, gemini.DefaultModel+":generateContent") {
		t.Errorf("path = %q", req.Path)
	}
	if got := req.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Errorf("modalities = %v", got)
	}
	if got := req.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != gemini.DefaultVoice {
		t.Errorf("voice = %q, want %q", got, gemini.DefaultVoice)
	}
	want := "(Taglish, deep Filipino reporter accent) Magandang gabi."
	if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != want {
		t.Errorf("contents = %+v", req.Contents)
	}
}

func TestSynthesizeSpeech_VoiceOverride(t *testing.T) {
	t.Parallel()

	srv, last := server(t, http.StatusOK, audioBody)
	p, err := gemini.New(context.Background(), "key", "", gemini.WithBaseURL(srv.URL+"/"), gemini.WithVoice("Kore"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: "hi", Voice: "Puck"}); err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if got := last().GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Errorf("voice = %q, want Puck", got)
	}
}

func TestSynthesizeSpeech_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		text   string
		want   error
	}{
		{"empty text", http.StatusOK, audioBody, "  ", tts.ErrEmptyText},
		{"server error", http.StatusInternalServerError, `{"error": {"code": 500, "message": "boom"}}`, "hi", llm.ErrInference},
		{"no audio part", http.StatusOK, `{"candidates": [{"content": {"parts": [{"text": "no"}]}}]}`, "hi", llm.ErrInference},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := server(t, tc.status, tc.body)
			p, err := gemini.New(context.Background(), "key", "", gemini.WithBaseURL(srv.URL+"/"))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = p.SynthesizeSpeech(context.Background(), tts.Request{Text: tc.text})
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestNew_MissingKey(t *testing.T) {
	t.Parallel()
	if _, err := gemini.New(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
