package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/yungbote/pathsync/internal/pkg/errors"
	"github.com/yungbote/pathsync/internal/pkg/httpx"
	"github.com/yungbote/pathsync/internal/pkg/logger"
)

const (
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// Client talks to the authoring platform's admin API. It is the only
// component that performs network I/O; everything above it consumes
// typed results.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
	tracer  trace.Tracer
}

type ClientConfig struct {
	BaseURL string
	Token   string
	// Timeout applies to unary calls only; the event stream manages its
	// own lifetime through context.
	Timeout time.Duration
}

func NewClient(cfg ClientConfig, baseLog *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: timeout},
		log:     baseLog.With("component", "APIClient"),
		tracer:  otel.Tracer("pathsync/api"),
	}, nil
}

// do runs one JSON request with bounded retries on transient failures.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	backoff := initialBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryAfter, err := c.once(ctx, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == maxAttempts || !httpx.IsRetryableError(err) {
			break
		}
		sleep := httpx.JitterSleep(backoff)
		if retryAfter > 0 {
			sleep = retryAfter
		}
		c.log.Debug("retrying request", "method", method, "path", path, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, query url.Values, body, out any) (time.Duration, error) {
	ctx, span := c.tracer.Start(ctx, method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		statusErr := &apperrors.StatusError{Code: resp.StatusCode, Message: msg}
		span.SetStatus(codes.Error, statusErr.Error())
		return httpx.RetryAfterDuration(resp, 0, maxBackoff), statusErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return 0, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return 0, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8*1024))
	if err != nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

// FormatError flattens any transport error into the message stored on a
// cache's error field.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
