// Package session signs the user in and out and reports the local session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// Exchanger trades an identity assertion for API credentials.
type Exchanger interface {
	ExchangeGoogleToken(ctx context.Context, idToken string) (tokenstore.Pair, error)
}

// Revoker ends the session on the server.
type Revoker interface {
	Logout(ctx context.Context) error
}

// Manager owns sign-in and sign-out. Besides the refresh cycle, it is the only
// writer of the credential store.
type Manager struct {
	store     tokenstore.Store
	exchanger Exchanger
	revoker   Revoker
}

// New creates a Manager.
func New(store tokenstore.Store, exchanger Exchanger, revoker Revoker) (*Manager, error) {
	if store == nil {
		return nil, errors.New("missing token store")
	}
	if exchanger == nil {
		return nil, errors.New("missing sign-in exchanger")
	}
	if revoker == nil {
		return nil, errors.New("missing logout revoker")
	}
	return &Manager{store: store, exchanger: exchanger, revoker: revoker}, nil
}

// SignIn exchanges idToken for a credential pair and persists it.
func (m *Manager) SignIn(ctx context.Context, idToken string) (tokenstore.Pair, error) {
	pair, err := m.exchanger.ExchangeGoogleToken(ctx, idToken)
	if err != nil {
		return tokenstore.Pair{}, fmt.Errorf("sign-in: %w", err)
	}
	if err := m.store.Save(ctx, pair); err != nil {
		return tokenstore.Pair{}, fmt.Errorf("sign-in: saving credentials: %w", err)
	}

	slog.InfoContext(ctx, "signed in")
	return pair, nil
}

// SignOut calls the server-side logout on a best-effort basis, then clears the
// stored credentials whatever the outcome of that call. Only a failure to
// clear is returned.
func (m *Manager) SignOut(ctx context.Context) error {
	_, err := m.store.Get(ctx)
	switch {
	case errors.Is(err, tokenstore.ErrNotFound):
		slog.DebugContext(ctx, "no stored credentials, skipping server logout")
	case err != nil:
		slog.WarnContext(ctx, "reading credentials before logout failed", "error", err)
	default:
		if err := m.revoker.Logout(ctx); err != nil {
			slog.WarnContext(ctx, "server logout failed, clearing local credentials anyway", "error", err)
		}
	}

	// The clear must happen even if the caller gave up during logout
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("sign-out: clearing credentials: %w", err)
	}

	slog.InfoContext(ctx, "signed out")
	return nil
}

// Status describes the locally stored session.
type Status struct {
	SignedIn   bool
	CanRefresh bool
	// Claims are set when the access token is a JWT.
	Claims *tokenstore.Claims
}

// Expired reports whether the access token is known to be expired at now.
func (s Status) Expired(now time.Time) bool {
	return s.Claims != nil && s.Claims.Expired(now)
}

// Status reads the stored credentials without contacting the server.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	pair, err := m.store.Get(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	status := Status{
		SignedIn:   pair.AccessToken != "",
		CanRefresh: pair.RefreshToken != "",
	}
	if claims, err := tokenstore.InspectAccessToken(pair.AccessToken); err == nil {
		status.Claims = &claims
	}
	return status, nil
}
