package narrative

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const systemPrompt = "You are a technical journalist."

// OpenAI calls the chat completions API.
type OpenAI struct {
	opts       Options
	httpClient *http.Client
}

// NewOpenAI constructs an OpenAI provider.
func NewOpenAI(opts Options) *OpenAI {
	opts = withDefaults(opts, "https://api.openai.com/v1", "gpt-4-turbo-preview")
	return &OpenAI{opts: opts, httpClient: newHTTPClient(opts.Timeout)}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	payload := map[string]any{
		"model": p.opts.Model,
		"messages": []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		"max_tokens":  p.opts.MaxTokens,
		"temperature": p.opts.Temperature,
	}

	var response struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	headers := map[string]string{"Authorization": "Bearer " + p.opts.APIKey}
	if err := postJSON(ctx, p.httpClient, p.opts.BaseURL+"/chat/completions", headers, payload, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
