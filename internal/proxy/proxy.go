// Package proxy is a local gateway that forwards API calls through the
// authenticating transport, so tools without their own credentials can share
// the signed-in session.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/budgetflow/budgetflow/internal/authtransport"
	"github.com/budgetflow/budgetflow/internal/observability"
)

// DefaultMaxBodyBytes caps buffered request bodies.
const DefaultMaxBodyBytes int64 = 10 << 20

// Option configures a Proxy.
type Option func(*config)

type config struct {
	maxBodyBytes int64
	logger       *slog.Logger
}

// WithMaxBodyBytes caps how much of a request body is buffered for replay.
func WithMaxBodyBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Proxy represents the gateway server
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a gateway forwarding /v1/ to baseURL through transport.
func New(baseURL string, transport http.RoundTripper, opts ...Option) (*Proxy, error) {
	upstream, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", baseURL)
	}
	if transport == nil {
		return nil, errors.New("missing transport")
	}

	cfg := &config{
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.Out.Host = upstream.Host
			// Credentials come from the local session only
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		// FlushInterval: -1 flushes only when the upstream flushes.
		FlushInterval: -1,
		Transport:     transport,
		ErrorHandler:  upstreamError,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, HealthResponse{Status: "ok", Upstream: upstream.String()}, http.StatusOK)
	})

	mux.Handle("/v1/", applyMiddlewares(reverseProxyHandler,
		Logging(cfg.logger),
		observability.TraceContext,
		Recovery,
		ReplayableBody(cfg.maxBodyBytes),
	))

	return &Proxy{mux: mux}, nil
}

// upstreamError turns transport failures into JSON responses. A terminal
// authentication failure is reported as 401 so callers know to sign in again.
func upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, authtransport.ErrAuthenticationFailed):
		slog.WarnContext(ctx, "upstream authentication failed", "error", err)
		writeJSONError(ctx, w, CodeAuthenticationFailed, "authentication failed, sign in again with `budgetflow signin`", http.StatusUnauthorized)
	case errors.Is(err, context.Canceled):
		// Client went away, nobody to answer
		slog.DebugContext(ctx, "client cancelled request", "path", r.URL.Path)
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(ctx, w, CodeUpstreamTimeout, "upstream timed out", http.StatusGatewayTimeout)
	default:
		slog.ErrorContext(ctx, "upstream request failed", "error", err)
		writeJSONError(ctx, w, CodeUpstreamUnavailable, "upstream unavailable", http.StatusBadGateway)
	}
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
