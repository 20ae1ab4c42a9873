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

// Image implements domain.ImageSynthesizer against an OpenAI-compatible
// images/generations endpoint. Results come back as hosted URLs, returned
// as "url:" media refs.
type Image struct {
	apiBase string
	apiKey  string
	model   string
	size    string
	client  *http.Client
	logger  *slog.Logger
}

type ImageConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Size    string // e.g. "1024x1024"
	Logger  *slog.Logger
}

func NewImage(cfg ImageConfig) *Image {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	return &Image{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		size:    cfg.Size,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		logger:  cfg.Logger,
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Generate renders the prompt and returns image refs.
func (g *Image) Generate(ctx context.Context, prompt string) ([]string, error) {
	body, err := json.Marshal(imageRequest{
		Model:  g.model,
		Prompt: prompt,
		N:      1,
		Size:   g.size,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/images/generations", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		return req, nil
	}, g.logger)
	if err != nil {
		return nil, fmt.Errorf("image request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("image API %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("image API returned no images")
	}

	refs := make([]string, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		refs = append(refs, media.Ref("url", d.URL))
	}

	g.logger.Info("image generation done", "prompt_len", len(prompt), "images", len(refs))
	return refs, nil
}
