package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/utils"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; outage-watch/1.0)"
	maxBodyBytes     = 4 << 20
)

// ErrServiceNotFound is returned when the status site has no page for a service.
var ErrServiceNotFound = errors.New("service not found on status site")

// FetchError describes a service that could not be fetched within a cycle.
type FetchError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.Service, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusPageFetcher scrapes a service's public status page into a snapshot.
type StatusPageFetcher struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewStatusPageFetcher constructs a fetcher targeting baseURL.
func NewStatusPageFetcher(baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *StatusPageFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StatusPageFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "fetcher")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Fetch retrieves and parses the status page for serviceID. A missing page
// yields a permanent ErrServiceNotFound; everything else is worth retrying.
func (f *StatusPageFetcher) Fetch(ctx context.Context, serviceID string) (models.Snapshot, error) {
	if f == nil {
		return models.Snapshot{}, fmt.Errorf("status fetcher not initialised")
	}
	if f.baseURL == "" {
		return models.Snapshot{}, utils.Permanent(fmt.Errorf("status base URL not configured"))
	}
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return models.Snapshot{}, utils.Permanent(fmt.Errorf("service id is required"))
	}

	pageURL := f.ServiceURL(serviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return models.Snapshot{}, utils.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return models.Snapshot{}, utils.Permanent(fmt.Errorf("%s: %w", serviceID, ErrServiceNotFound))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Snapshot{}, fmt.Errorf("status page returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	page, err := parsePage(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("parse status page: %w", err)
	}

	snap, err := models.NewSnapshot(models.Snapshot{
		ServiceID:       f.DisplayName(serviceID),
		ServiceURL:      pageURL,
		Status:          page.status,
		ReportCount:     page.reports,
		Severity:        models.SeverityForReports(page.reports),
		AffectedRegions: page.regions,
		Description:     page.description,
		ObservedAt:      f.now(),
	})
	if err != nil {
		return models.Snapshot{}, utils.Permanent(err)
	}

	f.logger.Debug("status fetched",
		slog.String("service", snap.ServiceID),
		slog.String("status", string(snap.Status)),
		slog.Int("reports", snap.ReportCount),
	)
	return snap, nil
}

// ServiceURL returns the status page URL for serviceID.
func (f *StatusPageFetcher) ServiceURL(serviceID string) string {
	return f.baseURL + "/status/" + url.PathEscape(strings.ToLower(strings.TrimSpace(serviceID)))
}

// DisplayName title-cases a configured service identifier.
func (f *StatusPageFetcher) DisplayName(serviceID string) string {
	// Casers carry state and Fetch runs concurrently.
	return cases.Title(language.English).String(strings.TrimSpace(serviceID))
}
