// Package mux is a REST client for the Mux video API: direct uploads, assets,
// transcript delivery and webhook signatures.
package mux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/vidscribe/vidscribe/internal/apperr"
	"github.com/vidscribe/vidscribe/internal/metrics"
)

const serviceName = "mux"

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 4096

type Config struct {
	BaseURL     string
	StreamURL   string
	TokenID     string
	TokenSecret string
	Timeout     time.Duration

	// Retry settings for idempotent requests. Zero values pick defaults.
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration

	Metrics *metrics.Metrics
}

// HTTPClient talks to the Mux REST API with basic auth. GET and DELETE
// requests are retried on transient failures; POSTs are sent once.
type HTTPClient struct {
	baseURL     string
	streamURL   string
	tokenID     string
	tokenSecret string
	httpClient  *http.Client
	retry       failsafe.Executor[[]byte]
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = 2 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	policy := retrypolicy.NewBuilder[[]byte]().
		WithBackoff(cfg.RetryBase, cfg.RetryMax).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ []byte, err error) bool {
			return err != nil && apperr.IsRetryable(err)
		}).
		Build()

	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		streamURL:   strings.TrimRight(cfg.StreamURL, "/"),
		tokenID:     cfg.TokenID,
		tokenSecret: cfg.TokenSecret,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retry:       failsafe.With[[]byte](policy),
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// envelope is the {"data": ...} wrapper Mux puts around every resource.
type envelope[T any] struct {
	Data T `json:"data"`
}

type errorBody struct {
	Error struct {
		Type     string   `json:"type"`
		Messages []string `json:"messages"`
	} `json:"error"`
}

type noRetryKey struct{}

// WithoutRetry marks ctx so idempotent requests made with it are sent once.
// Callers that run their own retry loop use it to keep attempts bounded.
func WithoutRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryKey{}, true)
}

func retryAllowed(ctx context.Context, method string) bool {
	if method != http.MethodGet && method != http.MethodDelete {
		return false
	}
	off, _ := ctx.Value(noRetryKey{}).(bool)
	return !off
}

// doJSON issues an API request and decodes the data envelope into out. The
// latency of the whole call, retries included, is recorded under op.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	defer c.metrics.ObserveUpstream(serviceName, op, time.Now())

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		payload = b
	}

	call := func() ([]byte, error) {
		return c.send(ctx, method, c.baseURL+path, payload, true)
	}

	var (
		body []byte
		err  error
	)
	if retryAllowed(ctx, method) {
		body, err = c.retry.WithContext(ctx).Get(call)
	} else {
		body, err = call()
	}
	if err != nil {
		return asUpstream(err)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &apperr.UpstreamError{Service: serviceName, Message: "decode response", Err: err}
	}
	return nil
}

// send performs one HTTP round trip. Non-2xx responses come back as
// *apperr.UpstreamError, or *apperr.NotFoundError for 404.
func (c *HTTPClient) send(ctx context.Context, method, url string, payload []byte, auth bool) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		req.SetBasicAuth(c.tokenID, c.tokenSecret)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperr.UpstreamError{Service: serviceName, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("mux request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &apperr.UpstreamError{Service: serviceName, Message: "read response", Err: err}
		}
		return respBody, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusNotFound {
		return nil, &apperr.NotFoundError{Resource: "mux resource", ID: url}
	}
	return nil, &apperr.UpstreamError{
		Service:    serviceName,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(respBody),
	}
}

func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if len(eb.Error.Messages) > 0 {
			return strings.Join(eb.Error.Messages, "; ")
		}
		if eb.Error.Type != "" {
			return eb.Error.Type
		}
	}
	return strings.TrimSpace(string(body))
}

// asUpstream unwraps retry-policy errors back to the typed failure of the
// last attempt.
func asUpstream(err error) error {
	var upstream *apperr.UpstreamError
	if errors.As(err, &upstream) {
		return upstream
	}
	var notFound *apperr.NotFoundError
	if errors.As(err, &notFound) {
		return notFound
	}
	return &apperr.UpstreamError{Service: serviceName, Err: err}
}
