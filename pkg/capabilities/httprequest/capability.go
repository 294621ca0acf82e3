// Package httprequest implements the http.request capability, which calls an
// external HTTP endpoint and exposes the response as node output.
package httprequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/engageflow/flows/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

type Capability struct {
	method  string
	url     string
	headers map[string]string
	body    string
	timeout time.Duration
	retry   RetryConfig
}

func NewCapability(config map[string]any) (*Capability, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http.request requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)
	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if str, ok := v.(string); ok {
				headers[k] = str
			}
		}
	}

	timeout := defaultTimeout
	if raw, ok := config["timeout"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}

		timeout = parsed
	}

	retry := RetryConfig{Attempts: 1}
	if retryConfig, ok := config["retry"].(map[string]any); ok {
		if attempts, ok := retryConfig["attempts"].(float64); ok {
			retry.Attempts = int(attempts)
		}

		if delay, ok := retryConfig["delay"].(float64); ok {
			retry.Delay = time.Duration(delay) * time.Second
		}
	}

	return &Capability{
		method:  strings.ToUpper(method),
		url:     url,
		headers: headers,
		body:    body,
		timeout: timeout,
		retry:   retry,
	}, nil
}

func (c *Capability) Execute(ctx context.Context, scope protocol.ExecutionScope, logger *slog.Logger) (map[string]any, error) {
	logger.InfoContext(ctx, "Executing HTTP request", "method", c.method, "url", c.url)

	client := &http.Client{Timeout: c.timeout}

	var lastErr error

	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 1 && c.retry.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retry.Delay):
			}
		}

		output, err := c.doRequest(ctx, client)
		if err == nil {
			return output, nil
		}

		lastErr = err

		logger.WarnContext(ctx, "HTTP request attempt failed", "attempt", attempt, "error", err)
	}

	return nil, fmt.Errorf("http request failed after %d attempts: %w", c.retry.Attempts, lastErr)
}

func (c *Capability) doRequest(ctx context.Context, client *http.Client) (map[string]any, error) {
	var bodyReader io.Reader
	if c.body != "" {
		bodyReader = strings.NewReader(c.body)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	var body any = string(raw)

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			body = decoded
		}
	}

	return map[string]any{
		"status": resp.StatusCode,
		"body":   body,
	}, nil
}
