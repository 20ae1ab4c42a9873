package backend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// stringResolver resolves every ref to fixed bytes.
type stringResolver struct {
	data string
	name string
}

func (r stringResolver) Resolve(context.Context, string) (io.ReadCloser, string, error) {
	return io.NopCloser(strings.NewReader(r.data)), r.name, nil
}

func TestCompletionSendsFullHistory(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "generated"}}},
		})
	}))
	defer srv.Close()

	c := NewCompletion(CompletionConfig{APIBase: srv.URL, APIKey: "key-1", SystemPrompt: "be brief", Logger: testLogger()})
	history := []domain.ContextEntry{
		{Role: domain.RoleUser, Text: "hi"},
		{Role: domain.RoleAssistant, Text: "hello"},
		{Role: domain.RoleUser, Text: "how are you"},
	}

	text, err := c.Complete(context.Background(), "u1", history)
	if err != nil {
		t.Fatal(err)
	}
	if text != "generated" {
		t.Fatalf("got %q", text)
	}
	// system preamble + 3 history entries, in order
	if len(gotReq.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != "system" || gotReq.Messages[3].Content != "how are you" {
		t.Fatalf("history mapped wrong: %+v", gotReq.Messages)
	}
}

func TestCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewCompletion(CompletionConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := c.Complete(context.Background(), "u1", nil); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestImageGenerateReturnsURLRefs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Prompt != "a red fox in snow" {
			t.Errorf("unexpected prompt %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/fox.png"}},
		})
	}))
	defer srv.Close()

	g := NewImage(ImageConfig{APIBase: srv.URL, Logger: testLogger()})
	refs, err := g.Generate(context.Background(), "a red fox in snow")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "url:https://img.example/fox.png" {
		t.Fatalf("got refs %v", refs)
	}
}

func TestImageGenerateEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	g := NewImage(ImageConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := g.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error when API returns no images")
	}
}

func TestWhisperTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatal(err)
		}
		if got := r.FormValue("model"); got != "whisper-large-v3" {
			t.Errorf("model = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "ogg-bytes" || hdr.Filename != "voice.ogg" {
			t.Errorf("got file %q name %q", data, hdr.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer srv.Close()

	w := NewWhisper(WhisperConfig{
		APIBase:  srv.URL,
		Resolver: stringResolver{data: "ogg-bytes", name: "voice.ogg"},
		Logger:   testLogger(),
	})
	text, err := w.Transcribe(context.Background(), "telegram:file-1")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Fatalf("got %q", text)
	}
}

func TestTTSSynthesizeCachesAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speechRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Input != "say this" {
			t.Errorf("input = %q", req.Input)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	cache, err := media.NewCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tts := NewTTS(TTSConfig{APIBase: srv.URL, Cache: cache, Logger: testLogger()})

	ref, err := tts.Synthesize(context.Background(), "say this")
	if err != nil {
		t.Fatal(err)
	}
	rc, name, err := cache.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "mp3-bytes" || name != "reply.mp3" {
		t.Fatalf("cached %q name %q", data, name)
	}
}
