package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"eggbackend/internal/config"
	"eggbackend/internal/pipeline"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-3-pro-preview"
)

// GeminiPart is one content part of a Gemini request. Either Text or
// InlineData is set.
type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inlineData,omitempty"`
}

// GeminiInlineData carries base64-encoded media bytes.
type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []GeminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GeminiClient calls the Gemini generateContent API with a shared outbound
// rate limiter, a per-attempt timeout, and bounded exponential backoff on
// transient failures. All failures surface as *pipeline.ExtractionError.
type GeminiClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration

	// sleep is swapped out in tests for deterministic backoff checks.
	sleep func(time.Duration)
}

// NewGeminiClient creates a Gemini client from config.
func NewGeminiClient(cfg *config.Config) *GeminiClient {
	return &GeminiClient{
		apiKey:      cfg.GeminiAPIKey,
		baseURL:     geminiBaseURL,
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(rate.Limit(cfg.GeminiRateLimitRPS), 1),
		maxAttempts: cfg.GeminiRetryMaxAttempts,
		baseDelay:   cfg.GeminiRetryBaseDelay,
		timeout:     cfg.GeminiRequestTimeout,
		sleep:       time.Sleep,
	}
}

// NormalizeModel enforces the supported model family, falling back to the
// default when an unsupported model is configured.
func NormalizeModel(model string) string {
	if !strings.HasPrefix(model, "gemini-3") {
		log.Printf("⚠️ Unsupported Gemini model %q, falling back to %s", model, defaultGeminiModel)
		return defaultGeminiModel
	}
	return model
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// GenerateContent runs one model call with retries. kind labels the call
// for metrics ("stt", "extraction", "comments"). When jsonOutput is set
// the model is asked for an application/json response.
func (c *GeminiClient) GenerateContent(ctx context.Context, kind, model string, parts []GeminiPart, jsonOutput bool) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
	}
	if jsonOutput {
		payload.GenerationConfig = &geminiGenerationConfig{ResponseMIMEType: "application/json"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &pipeline.ExtractionError{Attempts: 0, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)

	var (
		lastStatus int
		lastErr    error
		retryAfter time.Duration
	)
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.baseDelay << (attempt - 2)
			if retryAfter > delay {
				delay = retryAfter
			}
			if m := GetMetrics(); m != nil {
				m.RecordGeminiRetry()
			}
			c.sleep(delay)
			if ctx.Err() != nil {
				return "", &pipeline.ExtractionError{StatusCode: lastStatus, Attempts: attempt - 1, Transient: true, Err: ctx.Err()}
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", &pipeline.ExtractionError{Attempts: attempt, Transient: true, Err: err}
			}
		}
		if m := GetMetrics(); m != nil {
			m.RecordGeminiRequest(kind)
		}

		text, status, ra, err := c.doRequest(ctx, url, body)
		if err == nil {
			return text, nil
		}
		retryAfter = ra

		if status == 0 {
			// Network error or attempt timeout: retry.
			lastStatus, lastErr = 0, err
			continue
		}
		if !transientStatus(status) {
			return "", &pipeline.ExtractionError{StatusCode: status, Attempts: attempt, Transient: false, Err: err}
		}
		lastStatus, lastErr = status, err
	}

	return "", &pipeline.ExtractionError{StatusCode: lastStatus, Attempts: c.maxAttempts, Transient: true, Err: lastErr}
}

// doRequest performs a single attempt. A zero status means the request
// never produced an HTTP response (network error, attempt timeout).
func (c *GeminiClient) doRequest(ctx context.Context, url string, body []byte) (text string, status int, retryAfter time.Duration, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", 0, 0, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		var apiErr geminiResponse
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != nil {
			msg = apiErr.Error.Message
		}
		return "", resp.StatusCode, retryAfter, fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, msg)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", resp.StatusCode, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	var sb strings.Builder
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		break
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", resp.StatusCode, 0, fmt.Errorf("gemini returned an empty response")
	}
	return out, resp.StatusCode, 0, nil
}
