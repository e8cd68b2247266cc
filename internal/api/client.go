// Package api is a typed client for the BudgetFlow REST API.
//
// Requests go through an authenticating http.RoundTripper (see
// internal/authtransport); the client maps outcomes to the error kinds
// NetworkError, HTTPError and authtransport.ErrAuthenticationFailed.
package api

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

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/budgetflow/budgetflow/internal/authtransport"
	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// DefaultTimeout bounds a whole request including a refresh-retry.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader correlates client and server logs.
const RequestIDHeader = "X-Request-Id"

// maxErrorBody limits how much of an error response is read.
const maxErrorBody = 64 << 10

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout       time.Duration
	baseTransport http.RoundTripper
}

// WithTimeout bounds each request. Defaults to DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithBaseTransport sets the transport for unauthenticated calls such as the
// sign-in exchange. Defaults to http.DefaultTransport.
func WithBaseTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// Client performs BudgetFlow API calls.
type Client struct {
	baseURL  *url.URL
	authed   *http.Client
	plain    *http.Client
	validate *validator.Validate
}

// New creates a Client for baseURL. transport attaches credentials to every
// call except the sign-in exchange.
func New(baseURL string, transport http.RoundTripper, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	if transport == nil {
		return nil, errors.New("missing transport")
	}

	cfg := &clientConfig{
		timeout:       DefaultTimeout,
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		baseURL:  u,
		authed:   &http.Client{Transport: transport, Timeout: cfg.timeout},
		plain:    &http.Client{Transport: cfg.baseTransport, Timeout: cfg.timeout},
		validate: validator.New(),
	}, nil
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Do sends an authenticated JSON request and decodes the response into out.
// in and out may be nil. path is relative to the base URL.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, c.authed, method, path, nil, in, out)
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, query url.Values, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	target := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	// bytes.Reader bodies get GetBody set, so the transport can replay them
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return classify(ctx, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	slog.DebugContext(ctx, "api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp, method, path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// classify maps a transport failure onto the client's error kinds.
func classify(ctx context.Context, op string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	if errors.Is(err, authtransport.ErrAuthenticationFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var storageErr *tokenstore.StorageError
	if errors.As(err, &storageErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &NetworkError{Op: op, Err: err}
}

// newHTTPError reads the API's error detail. FastAPI sends either
// {"detail": "..."} or {"detail": [{"msg": "..."}]} for validation errors.
func newHTTPError(resp *http.Response, method, path string) *HTTPError {
	httpErr := &HTTPError{Status: resp.StatusCode, Method: method, Path: path}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return httpErr
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &envelope) != nil || len(envelope.Detail) == 0 {
		return httpErr
	}

	var detail string
	if json.Unmarshal(envelope.Detail, &detail) == nil {
		httpErr.Message = detail
		return httpErr
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(envelope.Detail, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		httpErr.Message = strings.Join(msgs, "; ")
	}
	return httpErr
}
