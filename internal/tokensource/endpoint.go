package tokensource

import (
	"fmt"
	"net/url"
)

const (
	// RefreshPath is the refresh endpoint relative to the API base URL.
	RefreshPath = "v1/auth/refresh"
)

// RefreshURL resolves the refresh endpoint against the API base URL.
func RefreshURL(baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid API base URL: %w", err)
	}
	return base.JoinPath(RefreshPath).String(), nil
}
