// Package authtransport attaches stored bearer credentials to outgoing requests
// and survives one mid-flight credential expiry per request.
package authtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// ErrAuthenticationFailed is terminal for a request: no refresh token exists,
// the refresh was rejected or failed, or the single retry also got a 401.
// Callers are expected to force a new sign-in.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Refresher yields a fresh credential pair after stale was rejected.
type Refresher interface {
	Refresh(ctx context.Context, stale string) (tokenstore.Pair, error)
}

type retriedKey struct{}

// Transport is an http.RoundTripper adding Authorization: Bearer headers from
// Store. On a 401 it asks Refresher for new credentials and re-sends the
// request exactly once.
type Transport struct {
	// Base is the underlying transport. http.DefaultTransport when nil.
	Base http.RoundTripper

	// Store is read on every request; credentials are never cached here.
	Store tokenstore.Store

	// Refresher is optional. Without it, 401 responses are terminal.
	Refresher Refresher
}

// Compile-time check that Transport implements http.RoundTripper
var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := t.accessToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// A request re-entering the transport after a refresh-retry never refreshes again
	if retried, _ := ctx.Value(retriedKey{}).(bool); retried {
		drain(resp)
		return nil, fmt.Errorf("%w: %s %s rejected after token refresh", ErrAuthenticationFailed, req.Method, req.URL.Path)
	}
	if t.Refresher == nil {
		drain(resp)
		return nil, fmt.Errorf("%w: %s %s unauthorized", ErrAuthenticationFailed, req.Method, req.URL.Path)
	}

	retry, err := rewind(req)
	if err != nil {
		drain(resp)
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	drain(resp)

	slog.DebugContext(ctx, "access token rejected, refreshing", "method", req.Method, "path", req.URL.Path)

	pair, err := t.Refresher.Refresh(ctx, token)
	if err != nil {
		closeBody(retry)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var storageErr *tokenstore.StorageError
		if errors.As(err, &storageErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	retry = retry.WithContext(context.WithValue(ctx, retriedKey{}, true))
	resp, err = t.base().RoundTrip(authorize(retry, pair.AccessToken))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, fmt.Errorf("%w: %s %s rejected after token refresh", ErrAuthenticationFailed, req.Method, req.URL.Path)
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// accessToken returns the stored access token, or "" when none is stored.
func (t *Transport) accessToken(ctx context.Context) (string, error) {
	if t.Store == nil {
		return "", nil
	}
	pair, err := t.Store.Get(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// authorize returns a clone of req carrying token. RoundTrippers must not
// modify the caller's request.
func authorize(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Del("Authorization")
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}

// rewind prepares req for a second dispatch with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replaying request body: %w", err)
	}
	out.Body = body
	return out, nil
}

// drain discards the rest of resp's body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req != nil && req.Body != nil {
		_ = req.Body.Close()
	}
}
