// Package orchestrator queries the backend that computes multi-part answers.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"japagenie/internal/domain"
	"japagenie/internal/metrics"
)

// DefaultTimeout bounds a single backend query.
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 4096

// Client is safe for concurrent use.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client // nil uses SharedHTTPClient(Timeout)
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	return &Client{
		url:     cfg.URL,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

type queryRequest struct {
	UserQuery string `json:"user_query"`
}

// Query sends text to the backend. A timeout yields domain.ErrBackendTimeout
// and a non-2xx answer yields *domain.BackendError.
func (c *Client) Query(ctx context.Context, text string) (*domain.OrchestrationResult, error) {
	metrics.BackendRequests.Inc()
	start := time.Now()
	defer func() { metrics.BackendLatency.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(queryRequest{UserQuery: text})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			metrics.BackendTimeouts.Inc()
			return nil, fmt.Errorf("query %s: %w", c.url, domain.ErrBackendTimeout)
		}
		metrics.BackendErrors.Inc()
		return nil, fmt.Errorf("query %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.BackendErrors.Inc()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.BackendError{Status: resp.StatusCode, Body: string(b)}
	}

	var result domain.OrchestrationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if isTimeout(ctx, err) {
			metrics.BackendTimeouts.Inc()
			return nil, fmt.Errorf("read response: %w", domain.ErrBackendTimeout)
		}
		metrics.BackendErrors.Inc()
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("backend answered",
		"text", result.Text != "",
		"image", result.ImageURL != "",
		"audio", result.AudioURL != "",
		"elapsed", time.Since(start),
	)
	return &result, nil
}

// isTimeout reports whether err came from the request deadline rather
// than from the caller cancelling ctx's parent.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
