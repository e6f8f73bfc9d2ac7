package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"setorstok/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := resp.Header.Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:3000" {
		t.Fatalf("expected configured CORS origin, got %q", got)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	server := newTestServer(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "rider-agus", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		resp, err := http.Post(server.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("login attempt %d failed: %v", i+1, err)
		}
		resp.Body.Close()

		if i < 5 && resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, resp.StatusCode)
		}
		if i == 5 && resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", resp.StatusCode)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	server := newTestServer(t)
	veryLong := strings.Repeat("a", (8<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	resp, err := http.Post(server.URL+"/api/v1/auth/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("oversized login request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", resp.StatusCode)
	}
}

func TestWriteErrorRedactsInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, errors.New("pq: relation daily_reports does not exist"))

	var payload map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload failed: %v", err)
	}
	if payload["error"] != "internal server error" {
		t.Fatalf("5xx detail leaked to client: %q", payload["error"])
	}

	rec = httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, errors.New("bad date"))
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload failed: %v", err)
	}
	if payload["error"] != "bad date" {
		t.Fatalf("4xx message should pass through, got %q", payload["error"])
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 100, 500); got != 500 {
		t.Fatalf("expected capped limit 500, got %d", got)
	}
	if got := parsePositiveLimit("", 100, 500); got != 100 {
		t.Fatalf("expected fallback limit 100, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 100, 500); got != 100 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}
