package narrative

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/outage-watch/internal/cache"
	"github.com/miradorstack/outage-watch/internal/models"
)

const (
	cacheKeyPrefix  = "narrative:"
	defaultLanguage = "English"
)

// GeneratorOptions tune prompt construction and caching.
type GeneratorOptions struct {
	Language    string
	EnableCache bool
	CacheTTL    time.Duration
}

// Generator produces a human-readable summary for a batch of changes.
// A Generator without a provider is disabled and never produces text.
type Generator struct {
	provider Provider
	cache    cache.Provider
	opts     GeneratorOptions
	logger   *slog.Logger
}

// NewGenerator wires a provider and cache. provider may be nil.
func NewGenerator(provider Provider, store cache.Provider, opts GeneratorOptions, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = cache.NoopProvider{}
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = defaultLanguage
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	logger = logger.With(slog.String("component", "narrative"))
	if provider == nil {
		logger.Warn("narrative provider not configured - generation disabled")
	}
	return &Generator{provider: provider, cache: store, opts: opts, logger: logger}
}

// Enabled reports whether a provider is configured.
func (g *Generator) Enabled() bool { return g != nil && g.provider != nil }

// Generate returns the narrative and true, or "" and false when disabled, when
// changes is empty, or when the provider fails. Failures never propagate.
func (g *Generator) Generate(ctx context.Context, changes []models.ChangeEvent) (string, bool) {
	if !g.Enabled() || len(changes) == 0 {
		return "", false
	}

	key := CacheKey(changes)
	if g.opts.EnableCache {
		cached, err := g.cache.Get(ctx, key)
		switch {
		case err == nil:
			g.logger.Debug("returning cached narrative", slog.String("key", key))
			return string(cached), true
		case !errors.Is(err, cache.ErrCacheMiss):
			g.logger.Warn("narrative cache read failed", slog.String("error", err.Error()))
		}
	}

	text, err := g.provider.Generate(ctx, BuildPrompt(changes, g.opts.Language))
	if err != nil {
		g.logger.Error("narrative generation failed",
			slog.String("provider", g.provider.Name()),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		g.logger.Warn("narrative provider returned empty text", slog.String("provider", g.provider.Name()))
		return "", false
	}

	article := fmt.Sprintf("%s\n\n---\n*Summary generated by %s from public status reports.*", text, g.provider.Name())
	if g.opts.EnableCache {
		if err := g.cache.Set(ctx, key, []byte(article), g.opts.CacheTTL); err != nil {
			g.logger.Warn("narrative cache write failed", slog.String("error", err.Error()))
		}
	}
	g.logger.Info("narrative generated", slog.String("provider", g.provider.Name()), slog.Int("changes", len(changes)))
	return article, true
}

// ClearCache removes the cached narrative for changes.
func (g *Generator) ClearCache(ctx context.Context, changes []models.ChangeEvent) error {
	if g == nil {
		return nil
	}
	return g.cache.Del(ctx, CacheKey(changes))
}

// CacheKey identifies a batch by its sorted service:kind pairs.
func CacheKey(changes []models.ChangeEvent) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, c.ServiceID+":"+string(c.Kind))
	}
	sort.Strings(parts)
	return cacheKeyPrefix + strings.Join(parts, "|")
}

// BuildPrompt renders the instruction and one context block per change.
func BuildPrompt(changes []models.ChangeEvent, language string) string {
	blocks := make([]string, 0, len(changes))
	for _, c := range changes {
		blocks = append(blocks, strings.Join([]string{
			"Service: " + c.ServiceID,
			"Change type: " + string(c.Kind),
			"Current status: " + string(c.NewStatus),
			"Failure reports: " + groupThousands(c.NewReportCount),
			"Severity: " + string(c.NewSeverity),
			"Time: " + c.OccurredAt.UTC().Format("15:04 UTC"),
		}, "\n"))
	}

	var b strings.Builder
	b.WriteString("Act as a technology journalist specialising in infrastructure.\n")
	b.WriteString("Using the instability data below, write a short, informative and objective article.\n\n")
	b.WriteString("Requirements:\n")
	b.WriteString("- 200-300 words.\n")
	fmt.Fprintf(&b, "- Write in %s.\n", language)
	b.WriteString("- Explain the potential impact for users.\n")
	b.WriteString("- Mention affected regions when the data includes them.\n")
	b.WriteString("- Keep a professional tone.\n\n")
	b.WriteString("Instability data:\n")
	b.WriteString(strings.Join(blocks, "\n\n---\n\n"))
	b.WriteString("\n\nArticle:")
	return b.String()
}

func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return s
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	return string(out)
}
