// Package tokensource performs the refresh-token exchange against the
// BudgetFlow API.
//
// The API's refresh endpoint deviates from standard OAuth2 in ways that require
// custom handling:
//   - Requests are JSON-encoded {"refresh_token": ...} (standard OAuth2 uses
//     form-encoding and a grant_type parameter)
//   - The response may omit refresh_token, in which case the existing refresh
//     token stays valid (golang.org/x/oauth2 retains it)
//
// # Refresher
//
//	r := tokensource.NewRefresher("https://api.example.com/v1/auth/refresh")
//	pair, err := r.Refresh(ctx, refreshToken)
//
// # Custom Base Transport
//
// Configure a custom base transport for refresh requests (e.g., for proxies or custom timeouts):
//
//	r := tokensource.NewRefresher(tokenURL, tokensource.WithTransport(customTransport))
package tokensource
