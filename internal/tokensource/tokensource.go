package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/budgetflow/budgetflow/internal/tokenstore"
)

// ErrRefreshTokenRejected is returned when the API refuses the refresh token
// (expired, revoked or unknown). Retrying with the same token cannot succeed.
var ErrRefreshTokenRejected = errors.New("refresh token rejected")

// RefresherOption configures a Refresher.
type RefresherOption func(*refresherConfig)

// refresherConfig holds configuration for NewRefresher.
type refresherConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for token refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) RefresherOption {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds a single refresh request. Defaults to 30 seconds.
func WithTimeout(timeout time.Duration) RefresherOption {
	return func(c *refresherConfig) {
		c.timeout = timeout
	}
}

// Refresher exchanges a refresh token for a new credential pair.
type Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewRefresher creates a Refresher posting to tokenURL.
func NewRefresher(tokenURL string, opts ...RefresherOption) *Refresher {
	cfg := &refresherConfig{
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Refresher{
		config: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		// HTTP client with JSON transport (wraps provided or default transport for connection pooling)
		httpClient: &http.Client{
			Timeout: cfg.timeout,
			Transport: &tokenRefreshTransport{
				base: cfg.baseTransport,
			},
		},
	}
}

// Refresh performs one refresh network call. The returned pair always carries
// a refresh token: the rotated one if the API issued it, otherwise the one
// passed in.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
	if refreshToken == "" {
		return tokenstore.Pair{}, fmt.Errorf("%w: empty refresh token", ErrRefreshTokenRejected)
	}

	// oauth2 picks up the HTTP client from the context (oauth2.HTTPClient key)
	// and issues the request with this context, so cancellation propagates.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	// A token without access token is never valid, so Token() always refreshes.
	token, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && isRejection(retrieveErr.Response.StatusCode) {
			return tokenstore.Pair{}, fmt.Errorf("%w: %w", ErrRefreshTokenRejected, err)
		}
		return tokenstore.Pair{}, fmt.Errorf("refreshing token: %w", err)
	}

	pair := tokenstore.Pair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func isRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	default:
		return false
	}
}

// tokenRefreshTransport converts oauth2's form-encoded token refresh requests
// to the JSON body required by the BudgetFlow refresh endpoint.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type tokenRefreshTransport struct {
	base http.RoundTripper
}

// Compile-time check that tokenRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRefreshTransport)(nil)

// omittedParams are OAuth2 parameters the BudgetFlow endpoint does not accept.
var omittedParams = map[string]bool{
	"grant_type": true,
}

// RoundTrip intercepts token refresh requests and converts them from form-encoded to JSON.
func (t *tokenRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Defer close since we consume the body entirely and create a new body for the cloned request.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		if omittedParams[key] || values[0] == "" {
			continue
		}
		// Refresh requests carry one value per field
		jsonData[key] = values[0]
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")
	newReq.Header.Set("Accept", "application/json")

	return t.base.RoundTrip(newReq)
}
