package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/outage-watch/internal/models"
	"github.com/miradorstack/outage-watch/internal/utils"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func htmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"text/html"}},
	}
}

const outagePage = `<html><head><meta name="description" content="Fallback description"></head><body>
<h1 class="entry-title">User reports indicate problems at Google</h1>
<div class="reports-count">12,345</div>
<ul>
  <li class="location-item">New York</li>
  <li class="location-item">London</li>
  <li class="location-item">New York</li>
</ul>
<div class="entry-content"><p>Users are reporting problems related to login and search results.</p></div>
</body></html>`

func TestFetchParsesOutagePage(t *testing.T) {
	f := NewStatusPageFetcher("https://status.example.com/", "test-agent", time.Second, nil)
	f.httpClient.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/status/google" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("User-Agent"); got != "test-agent" {
			t.Fatalf("unexpected user agent: %q", got)
		}
		return htmlResponse(http.StatusOK, outagePage), nil
	})

	snap, err := f.Fetch(context.Background(), "google")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.ServiceID != "Google" {
		t.Fatalf("expected title-cased name, got %q", snap.ServiceID)
	}
	if snap.ServiceURL != "https://status.example.com/status/google" {
		t.Fatalf("unexpected url: %s", snap.ServiceURL)
	}
	if snap.Status != models.StatusDown || snap.ReportCount != 12345 || snap.Severity != models.SeverityCritical {
		t.Fatalf("unexpected parse: %+v", snap)
	}
	if len(snap.AffectedRegions) != 2 || snap.AffectedRegions[0] != "New York" || snap.AffectedRegions[1] != "London" {
		t.Fatalf("expected deduplicated regions, got %v", snap.AffectedRegions)
	}
	if !strings.HasPrefix(snap.Description, "Users are reporting") {
		t.Fatalf("unexpected description: %q", snap.Description)
	}
}

func TestFetchHealthyPageFallsBackToRegexAndMeta(t *testing.T) {
	page := `<html><head><meta name="description" content="No current problems"></head>
<body><h1>Google status</h1><p>Fewer than 12 reports in the last hour</p></body></html>`
	f := NewStatusPageFetcher("https://status.example.com", "", time.Second, nil)
	f.httpClient.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		return htmlResponse(http.StatusOK, page), nil
	})

	snap, err := f.Fetch(context.Background(), "google")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Status != models.StatusUp || snap.ReportCount != 12 || snap.Severity != models.SeverityLow {
		t.Fatalf("unexpected parse: %+v", snap)
	}
	if snap.Description != "No current problems" {
		t.Fatalf("expected meta description, got %q", snap.Description)
	}
}

func TestFetchChartOnlyMeansIssues(t *testing.T) {
	page := `<html><body><h1>Slack</h1><div class="chart-container"></div></body></html>`
	f := NewStatusPageFetcher("https://status.example.com", "", time.Second, nil)
	f.httpClient.Transport = roundTripFunc(func(*http.Request) (*http.Response, error) {
		return htmlResponse(http.StatusOK, page), nil
	})

	snap, err := f.Fetch(context.Background(), "slack")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Status != models.StatusIssues {
		t.Fatalf("expected issues, got %s", snap.Status)
	}
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewStatusPageFetcher(srv.URL, "", time.Second, nil)
	_, err := f.Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
	if !utils.IsPermanent(err) {
		t.Fatalf("expected not-found to be permanent")
	}
}

func TestFetchServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewStatusPageFetcher(srv.URL, "", time.Second, nil)
	_, err := f.Fetch(context.Background(), "google")
	if err == nil {
		t.Fatalf("expected error")
	}
	if utils.IsPermanent(err) {
		t.Fatalf("5xx must be retryable, got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	f := NewStatusPageFetcher("https://status.example.com", "", time.Second, nil)
	if got := f.DisplayName("amazon-web-services"); got != "Amazon-Web-Services" {
		t.Fatalf("unexpected display name: %q", got)
	}
}

func TestFetchErrorUnwraps(t *testing.T) {
	err := &FetchError{Service: "google", Attempts: 3, Err: ErrServiceNotFound}
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected unwrap to reach cause")
	}
	if !strings.Contains(err.Error(), "3 attempt") {
		t.Fatalf("unexpected message: %s", err)
	}
}
