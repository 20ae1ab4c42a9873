package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"
)

// Completion implements domain.Completer against an OpenAI-compatible
// chat/completions endpoint.
type Completion struct {
	apiBase      string
	apiKey       string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
	logger       *slog.Logger
}

type CompletionConfig struct {
	APIBase      string
	APIKey       string
	Model        string
	SystemPrompt string // optional preamble prepended to every request
	MaxTokens    int
	Logger       *slog.Logger
}

func NewCompletion(cfg CompletionConfig) *Completion {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Completion{
		apiBase:      cfg.APIBase,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		logger:       cfg.Logger,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the user's full ordered context and returns the generated
// reply text.
func (c *Completion) Complete(ctx context.Context, userID string, history []domain.ContextEntry) (string, error) {
	msgs := make([]chatMessage, 0, len(history)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: c.systemPrompt})
	}
	for _, e := range history {
		msgs = append(msgs, chatMessage{Role: string(e.Role), Content: e.Text})
	}

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	}, c.logger)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion API %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}

	text := parsed.Choices[0].Message.Content
	c.logger.Info("completion done", "user", userID, "history_len", len(history), "reply_len", len(text))
	return text, nil
}
