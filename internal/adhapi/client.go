// Package adhapi is the HTTP client for the ADH server's recognition,
// synthesis and agent endpoints.
package adhapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/sentio/internal/reliability"
)

const (
	DefaultBaseURL  = "http://localhost:8000"
	DefaultBasePath = "/adh"
	DefaultVersion  = "v0"
)

type Config struct {
	BaseURL  string
	BasePath string
	Version  string
	UserID   string
	// Timeout bounds whole non-streaming requests. Zero means no timeout.
	Timeout time.Duration

	// MaxRetries applies to idempotent GET calls only.
	MaxRetries int
	RetryBase  time.Duration
	RetryCap   time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	base     *url.URL
	basePath string
	version  string
	userID   string
	timeout  time.Duration

	maxRetries int
	retryBase  time.Duration
	retryCap   time.Duration

	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", raw)
	}

	basePath := strings.TrimRight(strings.TrimSpace(cfg.BasePath), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = DefaultVersion
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 2 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Agent streams are bounded by the turn context, not a client timeout.
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:       base,
		basePath:   basePath,
		version:    version,
		userID:     cfg.UserID,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		retryCap:   cfg.RetryCap,
		http:       httpClient,
		log:        logger.With("component", "adhapi"),
	}, nil
}

// Endpoint returns the absolute URL for service ("asr", "tts", "agent",
// "common") and action, e.g. /adh/asr/v0/infer.
func (c *Client) Endpoint(service, action string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + c.basePath + "/" + service + "/" + c.version + "/" + action
	return u.String()
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("adh http status %d: %s", e.StatusCode, e.Body)
}

// APIError is a 2xx response whose envelope carries a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("adh api error %d: %s", e.Code, e.Message)
}

// ErrorCode is a short label for metrics and logs.
func ErrorCode(err error) string {
	var se *StatusError
	var ae *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%d", se.StatusCode)
	case errors.As(err, &ae):
		return "api_error"
	default:
		return "transport"
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Request-Id", uuid.NewString())
	req.Header.Set("User-Id", c.userID)
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return res, nil
}

// call performs a JSON request and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.maxRetries
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, c.retryBase, c.retryCap)
			c.log.Debug("retrying request", "endpoint", endpoint, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		lastErr = c.callOnce(ctx, method, endpoint, body, out)
		if lastErr == nil || !retryable(ctx, lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	res, err := c.send(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.StatusCode)
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return false
	}
	return reliability.IsTransient(err)
}
