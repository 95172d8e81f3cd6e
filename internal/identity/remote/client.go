// Package remote implements the identity.Verifier port by calling the token
// authority's /validate endpoint over HTTP. There is no local trust
// shortcut: if the authority is unreachable or rejects the credential, the
// caller's request fails closed.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"carebridge.org/internal/identity"
)

const defaultTimeout = 3 * time.Second

// Client verifies access credentials against a remote token authority.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout bounds each verification round trip. The relay sits on every
// request's critical path, so the bound keeps a slow authority from hanging
// the whole service.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New constructs a Client for the authority at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote: authority base URL is required")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ identity.Verifier = (*Client)(nil)

// Verify delegates credential verification to the authority. Any failure —
// transport error, non-200 status, undecodable body — yields
// identity.ErrUnauthorized; there is no fallback to trusting the token.
func (c *Client) Verify(ctx context.Context, accessToken string) (identity.Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return identity.Identity{}, identity.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", nil)
	if err != nil {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return identity.Identity{}, identity.ErrUnauthorized
	}

	var id identity.Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	if strings.TrimSpace(id.UserID) == "" {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	return id, nil
}
