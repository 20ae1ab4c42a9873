package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/media"
)

// TTS implements domain.SpeechSynthesizer using an OpenAI-compatible
// audio/speech endpoint. Synthesized audio lands in the media blob cache;
// the returned ref is what channel adapters upload from.
type TTS struct {
	apiBase string
	apiKey  string
	model   string
	voice   string
	cache   *media.Cache
	client  *http.Client
	logger  *slog.Logger
}

type TTSConfig struct {
	APIBase string
	APIKey  string
	Model   string // e.g. "tts-1"
	Voice   string // e.g. "alloy", "echo", "nova"
	Cache   *media.Cache
	Logger  *slog.Logger
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &TTS{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		voice:   cfg.Voice,
		cache:   cfg.Cache,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  cfg.Logger,
	}
}

type speechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

// Synthesize converts text to MP3 audio and returns a cache ref for it.
func (t *TTS) Synthesize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(speechRequest{Model: t.model, Input: text, Voice: t.voice})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, t.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiBase+"/audio/speech", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		return req, nil
	}, t.logger)
	if err != nil {
		return "", fmt.Errorf("TTS request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("TTS API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	ref, err := t.cache.Put(resp.Body, "reply.mp3")
	if err != nil {
		return "", fmt.Errorf("cache synthesized audio: %w", err)
	}

	t.logger.Info("speech synthesis done", "text_len", len(text), "ref", ref)
	return ref, nil
}
