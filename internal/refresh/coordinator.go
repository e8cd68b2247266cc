// Package refresh coordinates credential refreshes across concurrent requests.
//
// Any number of requests may discover an expired access token at the same
// time. The Coordinator makes sure exactly one refresh network call is in
// flight; every other caller waits for that call and shares its result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

var (
	// ErrNoRefreshToken is returned when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed wraps failures of the refresh network call.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// DefaultTimeout bounds one refresh cycle, independent of waiter contexts.
const DefaultTimeout = 30 * time.Second

// TokenRefresher performs the refresh network call.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds each refresh cycle.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// Coordinator is a single-flight refresh state machine. It is Idle when
// inflight is nil and Refreshing otherwise.
type Coordinator struct {
	store     tokenstore.Store
	refresher TokenRefresher
	timeout   time.Duration

	mu       sync.Mutex
	inflight *call
}

// call is one refresh cycle shared by its waiters.
type call struct {
	done    chan struct{}
	pair    tokenstore.Pair
	err     error
	waiters int
	cancel  context.CancelFunc
}

// New creates a Coordinator persisting refreshed credentials to store.
func New(store tokenstore.Store, refresher TokenRefresher, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if refresher == nil {
		return nil, fmt.Errorf("missing token refresher")
	}

	c := &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Refresh returns a fresh credential pair, starting a refresh or joining the
// one in flight.
//
// stale is the access token the caller saw rejected. If the store already
// holds a different access token, another request has completed a refresh in
// the meantime and the stored pair is returned without a network call.
//
// Cancelling ctx only abandons this caller's wait. The shared refresh keeps
// running for the other waiters and is cancelled once none are left.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (tokenstore.Pair, error) {
	if err := ctx.Err(); err != nil {
		return tokenstore.Pair{}, err
	}

	c.mu.Lock()
	cl := c.inflight
	if cl == nil {
		current, err := c.store.Get(ctx)
		if err == nil && current.AccessToken != "" && current.AccessToken != stale {
			c.mu.Unlock()
			return current, nil
		}

		// Detached from the first caller: its cancellation must not fail the others
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		cl = &call{done: make(chan struct{}), cancel: cancel}
		c.inflight = cl
		go c.run(callCtx, cl)
	}
	cl.waiters++
	c.mu.Unlock()

	select {
	case <-cl.done:
		c.leave(ctx, cl)
		return cl.pair, cl.err
	case <-ctx.Done():
		c.leave(ctx, cl)
		return tokenstore.Pair{}, ctx.Err()
	}
}

// leave removes a waiter. The last waiter leaving an unfinished call cancels it
// and returns the Coordinator to Idle so the next caller starts a fresh cycle.
func (c *Coordinator) leave(ctx context.Context, cl *call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl.waiters--
	if cl.waiters > 0 {
		return
	}

	select {
	case <-cl.done:
	default:
		slog.DebugContext(ctx, "all waiters left, cancelling token refresh")
		cl.cancel()
		if c.inflight == cl {
			c.inflight = nil
		}
	}
}

// run executes one refresh cycle and releases its waiters.
func (c *Coordinator) run(ctx context.Context, cl *call) {
	defer cl.cancel()

	pair, err := c.refresh(ctx)

	c.mu.Lock()
	cl.pair, cl.err = pair, err
	if c.inflight == cl {
		c.inflight = nil
	}
	c.mu.Unlock()

	close(cl.done)
}

// refresh performs the network call and persists the result. Stored
// credentials are left untouched on failure; signing out is the caller's call.
func (c *Coordinator) refresh(ctx context.Context) (tokenstore.Pair, error) {
	current, err := c.store.Get(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return tokenstore.Pair{}, ErrNoRefreshToken
	}
	if err != nil {
		return tokenstore.Pair{}, fmt.Errorf("reading refresh token: %w", err)
	}
	if current.RefreshToken == "" {
		return tokenstore.Pair{}, ErrNoRefreshToken
	}

	slog.DebugContext(ctx, "refreshing access token")

	next, err := c.refresher.Refresh(ctx, current.RefreshToken)
	if err != nil {
		slog.WarnContext(ctx, "token refresh failed", "error", err)
		return tokenstore.Pair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if next.AccessToken == "" {
		return tokenstore.Pair{}, fmt.Errorf("%w: response carried no access token", ErrRefreshFailed)
	}

	rotated := next.RefreshToken != "" && next.RefreshToken != current.RefreshToken
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}

	// The server may already have rotated the refresh token, so the result is
	// saved even when every waiter has left in the meantime.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	if err := c.store.Save(saveCtx, next); err != nil {
		slog.ErrorContext(ctx, "failed to persist refreshed tokens", "error", err)
		return tokenstore.Pair{}, fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	slog.InfoContext(ctx, "access token refreshed", "refresh_token_rotated", rotated)
	return next, nil
}
