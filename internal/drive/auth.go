package drive

import (
	"fmt"

	"golang.org/x/oauth2"
)

// StaticTokenSource returns the same token on every call. Used when the
// caller already holds a long-lived bearer token (service accounts,
// environment-injected credentials, tests).
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token() (string, error) {
	if s == "" {
		return "", fmt.Errorf("drive: empty static token")
	}

	return string(s), nil
}

// OAuth2TokenSource adapts a golang.org/x/oauth2 token source to the
// package's TokenSource interface. The underlying source handles refresh.
type OAuth2TokenSource struct {
	Source oauth2.TokenSource
}

// Token implements TokenSource.
func (o *OAuth2TokenSource) Token() (string, error) {
	tok, err := o.Source.Token()
	if err != nil {
		return "", fmt.Errorf("drive: refreshing oauth2 token: %w", err)
	}

	return tok.AccessToken, nil
}
