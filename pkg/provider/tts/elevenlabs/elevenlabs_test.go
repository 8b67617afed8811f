package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/pagasa/pkg/provider/llm"
	"github.com/MrWong99/pagasa/pkg/provider/tts"
)

// fakeServer records the request and the text messages it received and
// replies with reply once the end-of-input message arrives.
type fakeServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	path   string
	query  string
	apiKey string
	texts  []textMessage
}

func newFakeServer(t *testing.T, reply func(ctx context.Context, conn *websocket.Conn)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.path, fs.query, fs.apiKey = r.URL.Path, r.URL.RawQuery, r.Header.Get("xi-api-key")
		fs.mu.Unlock()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			fs.mu.Lock()
			fs.texts = append(fs.texts, m)
			fs.mu.Unlock()
			if m.Text == "" {
				break
			}
		}
		reply(ctx, conn)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) wsURL() string { return "ws" + strings.TrimPrefix(fs.srv.URL, "http") }

func send(ctx context.Context, conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func audioMsg(pcm []byte, final bool) audioResponse {
	return audioResponse{Audio: base64.StdEncoding.EncodeToString(pcm), IsFinal: final}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	p, err := New("key", "", WithVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := "wss://api.elevenlabs.io/v1/text-to-speech/voice-1/stream-input?model_id=eleven_flash_v2_5&output_format=pcm_24000"
	if got := p.streamURL(); got != want {
		t.Errorf("streamURL() = %q, want %q", got, want)
	}
}

func TestSynthesizeSpeech_JoinsChunks(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t, func(ctx context.Context, conn *websocket.Conn) {
		send(ctx, conn, audioMsg([]byte{1, 2}, false))
		send(ctx, conn, audioResponse{Message: "progress"})
		send(ctx, conn, audioMsg([]byte{3, 4}, true))
	})
	p, err := New("secret", "", WithBaseURL(fs.wsURL()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	speech, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: "Signal no. 3 ", Voice: "Charon", Style: "calm"})
	if err != nil {
		t.Fatalf("SynthesizeSpeech: %v", err)
	}
	if string(speech.Data) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("data = %v, want [1 2 3 4]", speech.Data)
	}
	if speech.MIMEType != pcmMIME {
		t.Errorf("MIME = %q, want %q", speech.MIMEType, pcmMIME)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.apiKey != "secret" {
		t.Errorf("xi-api-key = %q, want secret", fs.apiKey)
	}
	if fs.path != "/v1/text-to-speech/"+DefaultVoice+"/stream-input" {
		t.Errorf("path = %q, request voice must not leak into the URL", fs.path)
	}
	if !strings.Contains(fs.query, "output_format=pcm_24000") {
		t.Errorf("query = %q, want pcm_24000 output", fs.query)
	}
	if len(fs.texts) != 3 {
		t.Fatalf("messages = %d, want 3", len(fs.texts))
	}
	if fs.texts[0].Text != " " || fs.texts[0].VoiceSettings == nil {
		t.Errorf("first message = %+v, want blank text with voice settings", fs.texts[0])
	}
	if fs.texts[1].Text != "Signal no. 3 " || !fs.texts[1].Flush {
		t.Errorf("script message = %+v", fs.texts[1])
	}
}

func TestSynthesizeSpeech_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		reply func(ctx context.Context, conn *websocket.Conn)
	}{
		{
			name:  "server error message",
			reply: func(ctx context.Context, conn *websocket.Conn) { send(ctx, conn, audioResponse{Error: "quota exceeded"}) },
		},
		{
			name: "closed without audio",
			reply: func(_ context.Context, conn *websocket.Conn) {
				_ = conn.Close(websocket.StatusNormalClosure, "done")
			},
		},
		{
			name: "bad base64",
			reply: func(ctx context.Context, conn *websocket.Conn) {
				send(ctx, conn, audioResponse{Audio: "!!!", IsFinal: true})
			},
		},
		{
			name:  "final without audio",
			reply: func(ctx context.Context, conn *websocket.Conn) { send(ctx, conn, audioResponse{IsFinal: true}) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := newFakeServer(t, tt.reply)
			p, _ := New("key", "", WithBaseURL(fs.wsURL()))
			_, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: "hello"})
			if !errors.Is(err, llm.ErrInference) {
				t.Fatalf("err = %v, want ErrInference", err)
			}
		})
	}
}

func TestSynthesizeSpeech_EmptyText(t *testing.T) {
	t.Parallel()
	p, _ := New("key", "")
	if _, err := p.SynthesizeSpeech(context.Background(), tts.Request{Text: "  "}); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}
