package summary

import (
	"context"
	"net/http"
	"strings"
	"time"

	"peertutor/api/internal/logger"
	"peertutor/api/internal/store"
)

const anthropicVersion = "2023-06-01"

type ClaudeConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
}

// Claude calls the Anthropic Messages API.
type Claude struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *jsonClient
}

func NewClaude(cfg ClaudeConfig, log *logger.Logger) *Claude {
	if log == nil {
		log = logger.Nop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Claude{
		apiKey:    strings.TrimSpace(cfg.APIKey),
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		client: &jsonClient{
			provider:   store.ProviderClaude,
			httpClient: &http.Client{Timeout: timeout},
			log:        log,
			maxRetries: cfg.MaxRetries,
			backoff:    500 * time.Millisecond,
		},
	}
}

func (p *Claude) Name() string { return store.ProviderClaude }

type messagesRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	Messages  []messagesMessage `json:"messages"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
}

func (p *Claude) Generate(ctx context.Context, prompt string) (Result, error) {
	if p.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	var resp messagesResponse
	err := p.client.postJSON(ctx, p.baseURL+"/v1/messages",
		map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": anthropicVersion,
		},
		messagesRequest{
			Model:     p.model,
			MaxTokens: p.maxTokens,
			Messages:  []messagesMessage{{Role: "user", Content: prompt}},
		},
		&resp,
	)
	if err != nil {
		return Result{}, err
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return Result{}, ErrEmptyOutput
	}
	return Result{Content: text, Provider: store.ProviderClaude}, nil
}
