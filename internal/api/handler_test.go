package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/resumeforge/aiqueue/internal/cache"
	"github.com/resumeforge/aiqueue/internal/counter"
	"github.com/resumeforge/aiqueue/internal/provider"
	"github.com/resumeforge/aiqueue/internal/queue"
	"github.com/resumeforge/aiqueue/internal/ratelimit"
	"github.com/resumeforge/aiqueue/internal/storage/sqlite"
	"github.com/resumeforge/aiqueue/pkg/types"
)

// fixedClient returns the same completion for every call, or the
// configured error.
type fixedClient struct {
	err error
}

func (f *fixedClient) GenerateCompletion(ctx context.Context, req *types.Request) (*types.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Response{
		ID:        "resp_fixed",
		RequestID: req.ID,
		Content:   "Generated summary text",
		Provider:  "anthropic",
		Model:     "claude-sonnet-4-20250514",
		Usage:     types.TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}, nil
}

func (f *fixedClient) AvailableProviders() []string { return []string{"anthropic", "openai"} }

func (f *fixedClient) HealthStatus() map[string]types.ProviderHealth {
	return map[string]types.ProviderHealth{
		"anthropic": {Status: types.ProviderHealthy},
		"openai":    {Status: types.ProviderHealthy},
	}
}

type appOpts struct {
	client    provider.Client
	perMinute int
	noHistory bool
}

func setupTestApp(t *testing.T, opts appOpts) (*fiber.App, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "api_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	var history *sqlite.SQLiteStore
	if !opts.noHistory {
		dbPath := filepath.Join(tempDir, "test.db")
		history, err = sqlite.New(dbPath)
		if err != nil {
			if removeErr := os.RemoveAll(tempDir); removeErr != nil {
				t.Logf("Failed to remove temp dir: %v", removeErr)
			}
			t.Fatalf("Failed to create store: %v", err)
		}
	}

	counterStore := counter.NewMemoryStore()
	cacheStore := cache.NewMemoryStore()

	perMinute := opts.perMinute
	if perMinute == 0 {
		perMinute = 1000
	}
	limiter := ratelimit.New(counterStore, ratelimit.Config{
		RequestsPerMinute: perMinute,
		RequestsPerHour:   10000,
	})

	client := opts.client
	if client == nil {
		client = &fixedClient{}
	}

	responseCache := cache.New(cacheStore, time.Hour)
	qcfg := queue.Config{ConcurrentRequests: 2}

	app := fiber.New()
	var q *queue.Queue
	if history != nil {
		q = queue.New(limiter, responseCache, client, history, qcfg)
		SetupRoutes(app, q, history)
	} else {
		q = queue.New(limiter, responseCache, client, nil, qcfg)
		SetupRoutes(app, q, nil)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := q.Shutdown(ctx); shutdownErr != nil {
			t.Logf("Failed to shut down queue: %v", shutdownErr)
		}
		if history != nil {
			if closeErr := history.Close(); closeErr != nil {
				t.Logf("Failed to close store: %v", closeErr)
			}
		}
		counterStore.Close()
		cacheStore.Close()
		if removeErr := os.RemoveAll(tempDir); removeErr != nil {
			t.Logf("Failed to remove temp dir: %v", removeErr)
		}
	}

	return app, cleanup
}

func submitBody(owner, prompt string) string {
	return `{"owner_id": "` + owner + `", "prompt": "` + prompt + `", "kind": "content-generation", "priority": "normal"}`
}

func TestHealthEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestSubmitRequest(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", "Summarize my experience")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result types.Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result.Content != "Generated summary text" {
		t.Errorf("Content mismatch: got %s", result.Content)
	}
	if result.RequestID == "" {
		t.Error("RequestID should not be empty")
	}
	if result.Cached {
		t.Error("First response should not be cached")
	}
	if result.Provider != "anthropic" {
		t.Errorf("Provider mismatch: got %s", result.Provider)
	}
}

func TestSubmitRequestValidation(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	cases := []struct {
		name string
		body string
	}{
		{"missing owner", `{"prompt": "Hello"}`},
		{"missing prompt", `{"owner_id": "user-1"}`},
		{"malformed json", `{not json`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}

			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestSubmitRequestCached(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	body := submitBody("user-1", "Summarize my experience")
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var result types.Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !result.Cached {
		t.Error("Second identical request should be served from cache")
	}
}

func TestSubmitRequestRateLimited(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{perMinute: 1})
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", "First prompt")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("First request should succeed: %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", "Second prompt")))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", resp.StatusCode)
	}

	var errResp types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if errResp.ResetTime == nil {
		t.Error("ResetTime should be set on 429 responses")
	}
}

func TestSubmitRequestProviderError(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{
		client: &fixedClient{err: &provider.Error{
			Provider:   "anthropic",
			StatusCode: 400,
			Message:    "invalid request",
		}},
	})
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", "Hello")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", resp.StatusCode)
	}
}

func TestQueueStatusEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", "Hello")))
	req.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/queue/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var status types.QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if status.Completed != 1 {
		t.Errorf("Expected 1 completed, got %d", status.Completed)
	}
	if status.TotalProcessed != 1 {
		t.Errorf("Expected 1 total processed, got %d", status.TotalProcessed)
	}
}

func TestRateLimitStatusEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{perMinute: 10})
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", "Hello")))
	req.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/ratelimit/user-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var status types.RateLimitStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if status.RequestsRemaining != 9 {
		t.Errorf("Expected 9 remaining, got %d", status.RequestsRemaining)
	}
	if status.IsLimited {
		t.Error("Owner should not be limited")
	}
}

func TestClearQueueEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/v1/queue/clear", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestProvidersEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var body struct {
		Providers []string `json:"providers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(body.Providers) != 2 {
		t.Errorf("Expected 2 providers, got %d", len(body.Providers))
	}
}

func TestProviderHealthEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health map[string]types.ProviderHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if health["anthropic"].Status != types.ProviderHealthy {
		t.Errorf("Expected healthy anthropic, got %s", health["anthropic"].Status)
	}
}

func TestGetRequestHistory(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	body := `{"id": "req_hist1", "owner_id": "user-1", "prompt": "Hello"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/requests/req_hist1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var entry types.RequestLogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if entry.ID != "req_hist1" {
		t.Errorf("ID mismatch: got %s", entry.ID)
	}
	if entry.Status != types.RecordCompleted {
		t.Errorf("Status mismatch: got %s", entry.Status)
	}
	if entry.Usage == nil || entry.Usage.TotalTokens != 30 {
		t.Error("Usage should be recorded for completed requests")
	}
}

func TestGetRequestNotFound(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/req_missing", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

func TestListRequestsEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	for _, prompt := range []string{"First", "Second", "Third"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", prompt)))
		req.Header.Set("Content-Type", "application/json")
		if _, err := app.Test(req, -1); err != nil {
			t.Fatalf("Request failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/requests?owner=user-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var listResp types.ListRequestLogResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if listResp.Total != 3 {
		t.Errorf("Expected 3 total requests, got %d", listResp.Total)
	}
	if len(listResp.Requests) != 3 {
		t.Errorf("Expected 3 requests, got %d", len(listResp.Requests))
	}
}

func TestRequestStatsEndpoint(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{})
	defer cleanup()

	for _, prompt := range []string{"First", "Second"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewBufferString(submitBody("user-1", prompt)))
		req.Header.Set("Content-Type", "application/json")
		if _, err := app.Test(req, -1); err != nil {
			t.Fatalf("Request failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/stats", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var counts map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if counts[string(types.RecordCompleted)] != 2 {
		t.Errorf("Expected 2 completed, got %d", counts[string(types.RecordCompleted)])
	}
}

func TestHistoryDisabled(t *testing.T) {
	app, cleanup := setupTestApp(t, appOpts{noHistory: true})
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/req_x", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("Expected status 501, got %d", resp.StatusCode)
	}
}
