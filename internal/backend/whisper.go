package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

// Whisper implements domain.Transcriber using an OpenAI-compatible Whisper
// API. Media refs are dereferenced through the resolver registry; only the
// owning channel adapter knows how to fetch the audio bytes.
type Whisper struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	resolver domain.MediaResolver
	client   *http.Client
	logger   *slog.Logger
}

type WhisperConfig struct {
	APIBase  string // e.g. "https://api.groq.com/openai/v1" or "https://api.openai.com/v1"
	APIKey   string
	Model    string // e.g. "whisper-large-v3" (Groq) or "whisper-1" (OpenAI)
	Language string // optional ISO-639-1 language code
	Resolver domain.MediaResolver
	Logger   *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	return &Whisper{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		resolver: cfg.Resolver,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:   cfg.Logger,
	}
}

type transcriptionResult struct {
	Text string `json:"text"`
}

// Transcribe fetches the audio behind mediaRef and converts it to text.
func (w *Whisper) Transcribe(ctx context.Context, mediaRef string) (string, error) {
	audio, filename, err := w.resolver.Resolve(ctx, mediaRef)
	if err != nil {
		return "", fmt.Errorf("resolve media: %w", err)
	}
	defer audio.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	if w.language != "" {
		writer.WriteField("language", w.language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiBase+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result transcriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}

	w.logger.Info("transcription complete", "text_len", len(result.Text))
	return result.Text, nil
}
