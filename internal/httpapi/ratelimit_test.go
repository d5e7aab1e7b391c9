package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientKeyPrecedence(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := ClientKey(req); got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}

	req.Header.Set("X-Real-IP", "192.0.2.7")
	if got := ClientKey(req); got != "192.0.2.7" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.1.1.1")
	if got := ClientKey(req); got != "203.0.113.5" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestRateLimiterRefillsPerClient(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(60)
	l.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("a") {
		t.Fatalf("expected bucket to be exhausted")
	}
	if !l.Allow("b") {
		t.Fatalf("other clients must have their own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatalf("expected one token after a second")
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(10)
	l.now = func() time.Time { return now }
	l.Allow("idle")

	now = now.Add(2 * limiterIdleTTL)
	l.Allow("fresh")
	if _, ok := l.clients["idle"]; ok {
		t.Fatalf("expected idle client to be swept")
	}
	if len(l.clients) != 1 {
		t.Fatalf("expected only the fresh client, got %d", len(l.clients))
	}
}
