package narrative

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// Gemini calls the generateContent API.
type Gemini struct {
	opts       Options
	httpClient *http.Client
}

// NewGemini constructs a Gemini provider.
func NewGemini(opts Options) *Gemini {
	opts = withDefaults(opts, "https://generativelanguage.googleapis.com/v1beta", "gemini-1.5-flash")
	return &Gemini{opts: opts, httpClient: newHTTPClient(opts.Timeout)}
}

func (p *Gemini) Name() string { return "gemini" }

func (p *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Parts []part `json:"parts"`
	}
	payload := map[string]any{
		"contents": []content{{Parts: []part{{Text: prompt}}}},
		"generationConfig": map[string]any{
			"temperature":     p.opts.Temperature,
			"maxOutputTokens": p.opts.MaxTokens,
		},
	}

	var response struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}
	endpoint := p.opts.BaseURL + "/models/" + url.PathEscape(p.opts.Model) + ":generateContent"
	headers := map[string]string{"x-goog-api-key": p.opts.APIKey}
	if err := postJSON(ctx, p.httpClient, endpoint, headers, payload, &response); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, c := range response.Candidates {
		for _, pt := range c.Content.Parts {
			b.WriteString(pt.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	return strings.TrimSpace(b.String()), nil
}
