package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eggbackend/internal/pipeline"
)

func geminiTextResponse(text string) string {
	body := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	out, _ := json.Marshal(body)
	return string(out)
}

// newTestGeminiClient points a client at the test server with an injected
// sleep so backoff is observable without waiting.
func newTestGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var sleeps []time.Duration
	client := &GeminiClient{
		apiKey:      "test-key",
		baseURL:     srv.URL,
		httpClient:  srv.Client(),
		maxAttempts: 4,
		baseDelay:   100 * time.Millisecond,
		timeout:     5 * time.Second,
		sleep:       func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return client, &sleeps
}

func TestGenerateContentSuccess(t *testing.T) {
	var requests int
	var gotKey string
	client, sleeps := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotKey = r.Header.Get("x-goog-api-key")
		w.Write([]byte(geminiTextResponse("hello from the model")))
	})

	text, err := client.GenerateContent(context.Background(), "extraction", "gemini-3-pro-preview", []GeminiPart{{Text: "hi"}}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello from the model" {
		t.Fatalf("unexpected text: %q", text)
	}
	if requests != 1 {
		t.Fatalf("expected a single request, got %d", requests)
	}
	if gotKey != "test-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("success on first attempt must not sleep, got %v", *sleeps)
	}
}

func TestGenerateContentBackoffSequence(t *testing.T) {
	var requests int
	client, sleeps := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(geminiTextResponse("recovered")))
	})

	text, err := client.GenerateContent(context.Background(), "extraction", "gemini-3-pro-preview", []GeminiPart{{Text: "hi"}}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("unexpected text: %q", text)
	}
	if requests != 4 {
		t.Fatalf("expected 4 attempts, got %d", requests)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *sleeps)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d: got %v, want %v", i, (*sleeps)[i], d)
		}
	}
}

func TestGenerateContentRetryAfterOverridesBackoff(t *testing.T) {
	var requests int
	client, sleeps := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(geminiTextResponse("ok")))
	})

	if _, err := client.GenerateContent(context.Background(), "stt", "gemini-3-pro-preview", []GeminiPart{{Text: "hi"}}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*sleeps) != 1 {
		t.Fatalf("expected one sleep, got %v", *sleeps)
	}
	if (*sleeps)[0] != 2*time.Second {
		t.Fatalf("Retry-After must win over the base delay, got %v", (*sleeps)[0])
	}
}

func TestGenerateContentNonTransientFailsImmediately(t *testing.T) {
	var requests int
	client, _ := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"invalid argument"}}`))
	})

	_, err := client.GenerateContent(context.Background(), "extraction", "gemini-3-pro-preview", []GeminiPart{{Text: "hi"}}, true)
	var exErr *pipeline.ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *pipeline.ExtractionError, got %v", err)
	}
	if exErr.Transient {
		t.Fatal("a 400 must be permanent")
	}
	if exErr.StatusCode != http.StatusBadRequest || exErr.Attempts != 1 {
		t.Fatalf("unexpected error detail: %+v", exErr)
	}
	if requests != 1 {
		t.Fatalf("a permanent failure must not retry, got %d requests", requests)
	}
}

func TestGenerateContentExhaustsRetries(t *testing.T) {
	var requests int
	client, _ := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GenerateContent(context.Background(), "extraction", "gemini-3-pro-preview", []GeminiPart{{Text: "hi"}}, true)
	var exErr *pipeline.ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *pipeline.ExtractionError, got %v", err)
	}
	if !exErr.Transient {
		t.Fatal("an exhausted retry budget stays transient")
	}
	if exErr.Attempts != 4 || exErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected error detail: %+v", exErr)
	}
	if requests != 4 {
		t.Fatalf("expected the full retry budget, got %d requests", requests)
	}
}

func TestGenerateContentEmptyResponseIsPermanent(t *testing.T) {
	client, _ := newTestGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	})

	_, err := client.GenerateContent(context.Background(), "extraction", "gemini-3-pro-preview", []GeminiPart{{Text: "hi"}}, true)
	var exErr *pipeline.ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *pipeline.ExtractionError, got %v", err)
	}
	if exErr.Transient {
		t.Fatal("an empty 200 response must not be retried")
	}
}

func TestNormalizeModel(t *testing.T) {
	if got := NormalizeModel("gemini-3-flash"); got != "gemini-3-flash" {
		t.Fatalf("supported model must pass through, got %s", got)
	}
	if got := NormalizeModel("gemini-1.5-pro"); got != defaultGeminiModel {
		t.Fatalf("unsupported model must fall back, got %s", got)
	}
	if got := NormalizeModel(""); got != defaultGeminiModel {
		t.Fatalf("empty model must fall back, got %s", got)
	}
}
