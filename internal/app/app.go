package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/budgetflow/budgetflow/internal/api"
	"github.com/budgetflow/budgetflow/internal/authtransport"
	"github.com/budgetflow/budgetflow/internal/proxy"
	"github.com/budgetflow/budgetflow/internal/refresh"
	"github.com/budgetflow/budgetflow/internal/session"
	"github.com/budgetflow/budgetflow/internal/tokensource"
	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// App is the composition root: it owns the credential store, the refresh
// coordinator and everything built on top of them. No I/O happens in New.
type App struct {
	cfg     *Config
	client  *api.Client
	session *session.Manager
	proxy   *proxy.Proxy
}

// Option configures an App.
type Option func(*options)

type options struct {
	baseTransport http.RoundTripper
	store         tokenstore.Store
}

// WithBaseTransport sets the transport under the authentication layer.
// Defaults to http.DefaultTransport.
func WithBaseTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.baseTransport = transport
	}
}

// WithTokenStore replaces the configured credential store.
func WithTokenStore(store tokenstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// New creates a new App instance.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{baseTransport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	store := o.store
	if store == nil {
		kvStore, err := cfg.Auth.NewTokenStore()
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
		store = kvStore
	}

	transport := &authtransport.Transport{Base: o.baseTransport, Store: store}

	switch cfg.Auth.Method {
	case AuthenticationMethodRefresh:
		coordinator, err := newCoordinator(cfg, store, o.baseTransport)
		if err != nil {
			return nil, fmt.Errorf("failed to create refresh coordinator: %w", err)
		}
		transport.Refresher = coordinator
	case AuthenticationMethodStatic:
		// Rejections are terminal
	default:
		return nil, fmt.Errorf("unsupported authentication method: %s", cfg.Auth.Method)
	}

	client, err := api.New(cfg.API.BaseURL, transport,
		api.WithTimeout(cfg.API.Timeout),
		api.WithBaseTransport(o.baseTransport),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	sessions, err := session.New(store, client, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	gateway, err := proxy.New(cfg.API.BaseURL, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &App{
		cfg:     cfg,
		client:  client,
		session: sessions,
		proxy:   gateway,
	}, nil
}

func newCoordinator(cfg *Config, store tokenstore.Store, base http.RoundTripper) (*refresh.Coordinator, error) {
	tokenURL, err := tokensource.RefreshURL(cfg.API.BaseURL)
	if err != nil {
		return nil, err
	}
	refresher := tokensource.NewRefresher(tokenURL,
		tokensource.WithTransport(base),
		tokensource.WithTimeout(cfg.Auth.RefreshTimeout),
	)
	return refresh.New(store, refresher, refresh.WithTimeout(cfg.Auth.RefreshTimeout))
}

// Client returns the API client.
func (a *App) Client() *api.Client {
	return a.client
}

// Session returns the sign-in/sign-out manager.
func (a *App) Session() *session.Manager {
	return a.session
}

// Start runs the local gateway and blocks until ctx is done or the server fails.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Gateway.Host + ":" + strconv.FormatUint(uint64(a.cfg.Gateway.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway", "address", address, "upstream", a.cfg.API.BaseURL)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
