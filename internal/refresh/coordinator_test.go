package refresh

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

type memStore struct {
	mu      sync.Mutex
	pair    tokenstore.Pair
	saveErr error
	saves   int
}

func (m *memStore) Get(ctx context.Context) (tokenstore.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair.IsZero() {
		return tokenstore.Pair{}, tokenstore.ErrNotFound
	}
	return m.pair, nil
}

func (m *memStore) Save(ctx context.Context, pair tokenstore.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.pair = pair
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = tokenstore.Pair{}
	return nil
}

func (m *memStore) current() tokenstore.Pair {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair
}

type fakeRefresher struct {
	calls     atomic.Int32
	release   chan struct{}
	cancelled chan struct{}
	pair      tokenstore.Pair
	err       error
	gotToken  atomic.Value
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	f.calls.Add(1)
	f.gotToken.Store(refreshToken)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			if f.cancelled != nil {
				close(f.cancelled)
			}
			return tokenstore.Pair{}, ctx.Err()
		}
	}
	return f.pair, f.err
}

func waitForWaiters(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.inflight != nil && c.inflight.waiters == n
	}, 2*time.Second, time.Millisecond)
}

func newCoordinator(t *testing.T, store tokenstore.Store, r TokenRefresher, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(store, r, opts...)
	require.NoError(t, err)
	return c
}

func TestCoordinator_SingleFlight(t *testing.T) {
	const n = 8
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}
	refresher := &fakeRefresher{
		release: make(chan struct{}),
		pair:    tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"},
	}
	c := newCoordinator(t, store, refresher)

	results := make([]tokenstore.Pair, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background(), "a1")
		}()
	}

	waitForWaiters(t, c, n)
	close(refresher.release)
	wg.Wait()

	assert.Equal(t, int32(1), refresher.calls.Load(), "exactly one refresh network call")
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"}, results[i])
	}
	assert.Equal(t, tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"}, store.current())
	assert.Equal(t, "r1", refresher.gotToken.Load())
}

func TestCoordinator_StaleTokenSkipsNetworkCall(t *testing.T) {
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"}}
	refresher := &fakeRefresher{}
	c := newCoordinator(t, store, refresher)

	pair, err := c.Refresh(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a2", pair.AccessToken)
	assert.Zero(t, refresher.calls.Load())
}

func TestCoordinator_NoRefreshToken(t *testing.T) {
	tests := []struct {
		name string
		pair tokenstore.Pair
	}{
		{name: "empty store"},
		{name: "access token only", pair: tokenstore.Pair{AccessToken: "a1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &fakeRefresher{}
			c := newCoordinator(t, &memStore{pair: tt.pair}, refresher)

			_, err := c.Refresh(context.Background(), tt.pair.AccessToken)
			require.ErrorIs(t, err, ErrNoRefreshToken)
			assert.Zero(t, refresher.calls.Load())
		})
	}
}

func TestCoordinator_FailureReleasesAllWaitersAndKeepsCredentials(t *testing.T) {
	const n = 5
	original := tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}
	store := &memStore{pair: original}
	refresher := &fakeRefresher{release: make(chan struct{}), err: errors.New("invalid refresh token")}
	c := newCoordinator(t, store, refresher)

	errs := make(chan error, n)
	for range n {
		go func() {
			_, err := c.Refresh(context.Background(), "a1")
			errs <- err
		}()
	}
	waitForWaiters(t, c, n)
	close(refresher.release)

	for range n {
		require.ErrorIs(t, <-errs, ErrRefreshFailed)
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, original, store.current(), "credentials are never cleared automatically")

	// Back to Idle: the next refresh issues a new call
	_, err := c.Refresh(context.Background(), "a1")
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, int32(2), refresher.calls.Load())
}

func TestCoordinator_PersistsRotatedRefreshToken(t *testing.T) {
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}
	refresher := &fakeRefresher{pair: tokenstore.Pair{AccessToken: "a2", RefreshToken: "r2"}}
	c := newCoordinator(t, store, refresher)

	pair, err := c.Refresh(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, tokenstore.Pair{AccessToken: "a2", RefreshToken: "r2"}, pair)
	assert.Equal(t, pair, store.current())
}

func TestCoordinator_RetainsRefreshTokenWhenNotRotated(t *testing.T) {
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}
	refresher := &fakeRefresher{pair: tokenstore.Pair{AccessToken: "a2"}}
	c := newCoordinator(t, store, refresher)

	_, err := c.Refresh(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"}, store.current())
}

func TestCoordinator_SaveFailure(t *testing.T) {
	storageErr := &tokenstore.StorageError{Op: "save", Err: errors.New("keyring locked")}
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}, saveErr: storageErr}
	c := newCoordinator(t, store, &fakeRefresher{pair: tokenstore.Pair{AccessToken: "a2"}})

	_, err := c.Refresh(context.Background(), "a1")
	var target *tokenstore.StorageError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}, store.current())
}

func TestCoordinator_WaiterCancellationDoesNotCancelSharedRefresh(t *testing.T) {
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}
	refresher := &fakeRefresher{
		release:   make(chan struct{}),
		cancelled: make(chan struct{}),
		pair:      tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"},
	}
	c := newCoordinator(t, store, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	cancelledErr := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "a1")
		cancelledErr <- err
	}()

	stayingResult := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background(), "a1")
		stayingResult <- err
	}()

	waitForWaiters(t, c, 2)
	cancel()
	require.ErrorIs(t, <-cancelledErr, context.Canceled)
	waitForWaiters(t, c, 1)

	close(refresher.release)
	require.NoError(t, <-stayingResult)

	select {
	case <-refresher.cancelled:
		t.Fatal("shared refresh was cancelled by a single waiter")
	default:
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, "a2", store.current().AccessToken)
}

func TestCoordinator_LastWaiterLeavingCancelsRefresh(t *testing.T) {
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}
	refresher := &fakeRefresher{
		release:   make(chan struct{}),
		cancelled: make(chan struct{}),
		pair:      tokenstore.Pair{AccessToken: "a2", RefreshToken: "r1"},
	}
	c := newCoordinator(t, store, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "a1")
		done <- err
	}()

	waitForWaiters(t, c, 1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	select {
	case <-refresher.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh kept running with no waiters left")
	}
	assert.Equal(t, "a1", store.current().AccessToken)

	// The abandoned cycle is gone; a new caller starts a fresh one
	refresher.release = nil
	pair, err := c.Refresh(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a2", pair.AccessToken)
	assert.Equal(t, int32(2), refresher.calls.Load())
}

// committedRefresher completes the exchange only after release, ignoring
// cancellation, like a server that already rotated the refresh token.
type committedRefresher struct {
	entered chan struct{}
	release chan struct{}
	pair    tokenstore.Pair
}

func (r *committedRefresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	close(r.entered)
	<-r.release
	return r.pair, nil
}

func TestCoordinator_PersistsCompletedRefreshAfterLastWaiterLeft(t *testing.T) {
	kv, err := tokenstore.NewFileKV(filepath.Join(t.TempDir(), "auth.json"))
	require.NoError(t, err)
	store, err := tokenstore.NewKVStore(kv)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}))

	refresher := &committedRefresher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		pair:    tokenstore.Pair{AccessToken: "a2", RefreshToken: "r2"},
	}
	c := newCoordinator(t, store, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "a1")
		done <- err
	}()

	<-refresher.entered
	waitForWaiters(t, c, 1)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(refresher.release)

	want := tokenstore.Pair{AccessToken: "a2", RefreshToken: "r2"}
	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background())
		return err == nil && got == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_RefreshTimeout(t *testing.T) {
	store := &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}
	refresher := &fakeRefresher{release: make(chan struct{})}
	c := newCoordinator(t, store, refresher, WithTimeout(20*time.Millisecond))

	_, err := c.Refresh(context.Background(), "a1")
	require.ErrorIs(t, err, ErrRefreshFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_CancelledBeforeStart(t *testing.T) {
	refresher := &fakeRefresher{}
	c := newCoordinator(t, &memStore{pair: tokenstore.Pair{AccessToken: "a1", RefreshToken: "r1"}}, refresher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Refresh(ctx, "a1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, refresher.calls.Load())
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, &fakeRefresher{})
	require.Error(t, err)
	_, err = New(&memStore{}, nil)
	require.Error(t, err)
}
