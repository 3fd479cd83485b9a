package summary

import (
	"context"
	"net/http"
	"strings"
	"time"

	"peertutor/api/internal/logger"
	"peertutor/api/internal/store"
)

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
}

// OpenAI calls the Responses API.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *jsonClient
}

func NewOpenAI(cfg OpenAIConfig, log *logger.Logger) *OpenAI {
	if log == nil {
		log = logger.Nop()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4.1-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		model:   model,
		client: &jsonClient{
			provider:   store.ProviderOpenAI,
			httpClient: &http.Client{Timeout: timeout},
			log:        log,
			maxRetries: cfg.MaxRetries,
			backoff:    500 * time.Millisecond,
		},
	}
}

func (p *OpenAI) Name() string { return store.ProviderOpenAI }

type responsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
}

func (p *OpenAI) Generate(ctx context.Context, prompt string) (Result, error) {
	if p.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	var resp responsesResponse
	err := p.client.postJSON(ctx, p.baseURL+"/v1/responses",
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		responsesRequest{Model: p.model, Input: prompt},
		&resp,
	)
	if err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(extractOutputText(resp))
	if text == "" {
		return Result{}, ErrEmptyOutput
	}
	return Result{Content: text, Provider: store.ProviderOpenAI}, nil
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				out.WriteString(c.Text)
			}
		}
	}
	return out.String()
}
