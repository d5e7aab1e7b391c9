package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/outage-watch/internal/config"
)

// Provider turns a prompt into prose using a hosted language model.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options are the model parameters shared by every provider.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewProviderFromConfig picks the provider named in cfg. It returns nil when
// narratives are disabled or no API key is configured.
func NewProviderFromConfig(cfg config.NarrativeConfig) (Provider, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	opts := Options{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return NewOpenAI(opts), nil
	case "anthropic":
		return NewAnthropic(opts), nil
	case "gemini":
		return NewGemini(opts), nil
	case "":
		return nil, fmt.Errorf("narrative.provider is required")
	default:
		return nil, fmt.Errorf("unknown narrative provider: %s", cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func withDefaults(opts Options, baseURL, model string) Options {
	if opts.BaseURL == "" {
		opts.BaseURL = baseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = model
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 500
	}
	return opts
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, headers map[string]string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
