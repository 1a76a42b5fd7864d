package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Result is one classification outcome.
type Result struct {
	Label      string
	Confidence float64
}

// ClientConfig configures the classification client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5-nano",
		Timeout: 4 * time.Second,
	}
}

// Client calls an OpenAI-compatible chat completions endpoint to label text.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
	retryWait   func(attempt int) time.Duration
}

// NewClient creates a classification client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		minInterval: 100 * time.Millisecond,
		retryWait: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt-1)) * time.Second
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// labelPayload is the strict JSON shape the model is instructed to return.
type labelPayload struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify sends text to the AI service and returns the predicted label and
// confidence. Rate-limit and server errors are retried with exponential
// backoff; any other failure is surfaced to the caller, who decides the
// fail-open policy.
func (c *Client) Classify(ctx context.Context, text string, labels []string) (Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	if c.apiKey == "" {
		return Result{}, fmt.Errorf("API key not configured")
	}

	// Throttle so a burst of candidates cannot hammer the service.
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	systemPrompt := fmt.Sprintf(
		"Classify the user's text into exactly one of these labels: %s. "+
			"Respond with only a JSON object {\"label\": \"...\", \"confidence\": 0.0-1.0}.",
		strings.Join(labels, ", "))

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens:   32,
		Temperature: 0,
	}

	maxRetries := 3
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(c.retryWait(i)):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return Result{}, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return Result{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return Result{}, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var chat chatResponse
		if err := json.Unmarshal(body, &chat); err != nil {
			return Result{}, fmt.Errorf("failed to parse response: %w", err)
		}
		if chat.Error != nil {
			return Result{}, fmt.Errorf("API error: %s", chat.Error.Message)
		}
		if len(chat.Choices) == 0 {
			return Result{}, fmt.Errorf("no completion returned")
		}

		return parseLabel(chat.Choices[0].Message.Content, labels)
	}

	return Result{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseLabel decodes the model's JSON answer and validates the label.
func parseLabel(content string, labels []string) (Result, error) {
	content = strings.TrimSpace(content)
	// Models occasionally fence the JSON; strip that before decoding.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var payload labelPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Result{}, fmt.Errorf("malformed label payload %q: %w", content, err)
	}

	payload.Label = strings.ToLower(strings.TrimSpace(payload.Label))
	for _, l := range labels {
		if payload.Label == strings.ToLower(l) {
			return Result{Label: payload.Label, Confidence: payload.Confidence}, nil
		}
	}
	return Result{}, fmt.Errorf("label %q not in candidate set", payload.Label)
}
