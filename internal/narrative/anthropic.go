package narrative

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic calls the messages API.
type Anthropic struct {
	opts       Options
	httpClient *http.Client
}

// NewAnthropic constructs an Anthropic provider.
func NewAnthropic(opts Options) *Anthropic {
	opts = withDefaults(opts, "https://api.anthropic.com/v1", "claude-3-haiku-20240307")
	return &Anthropic{opts: opts, httpClient: newHTTPClient(opts.Timeout)}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Generate(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":       p.opts.Model,
		"max_tokens":  p.opts.MaxTokens,
		"temperature": p.opts.Temperature,
		"system":      systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	headers := map[string]string{
		"x-api-key":         p.opts.APIKey,
		"anthropic-version": anthropicVersion,
	}
	if err := postJSON(ctx, p.httpClient, p.opts.BaseURL+"/messages", headers, payload, &response); err != nil {
		return "", err
	}
	for _, block := range response.Content {
		if block.Type == "text" || block.Type == "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", errors.New("anthropic returned no text content")
}
