// Package oauthclient implements authstore.Refresher against a standard
// OAuth2 token endpoint, the way 88lin-divinesense and Qefaraki-picoclaw
// shape their refresh collaborators around golang.org/x/oauth2. The
// authorization front-end itself (issuing the first token) stays out of
// scope; this package only ever exchanges a stored refresh token for a new
// access token.
package oauthclient

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Client refreshes access tokens against a single OAuth2 token endpoint.
type Client struct {
	cfg oauth2.Config
}

// New builds a Client that exchanges refresh tokens at tokenURL using
// clientID/clientSecret.
func New(clientID, clientSecret, tokenURL string) *Client {
	return &Client{
		cfg: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURL,
			},
		},
	}
}

// RefreshToken exchanges refreshToken for a new access token. userID is
// unused by the token endpoint itself but kept in the signature to match
// authstore.Refresher, since some deployments route refresh calls through a
// per-user proxy.
func (c *Client) RefreshToken(ctx context.Context, userID, refreshToken string) (string, time.Time, error) {
	src := c.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", time.Time{}, err
	}
	return tok.AccessToken, tok.Expiry, nil
}
