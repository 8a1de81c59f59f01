package listing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// expirySkew refreshes a token slightly before the server would reject it
const expirySkew = 60 * time.Second

// TokenSource hands out OAuth client-credentials tokens, reusing one until it is close to
// expiry. One instance is built at startup and shared by the listing client.
type TokenSource struct {
	cfg    *clientcredentials.Config
	http   *http.Client
	static bool

	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewTokenSource creates a new token source
func NewTokenSource(tokenURL, clientID, clientSecret, scope string, timeout time.Duration) *TokenSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var scopes []string
	if s := strings.TrimSpace(scope); s != "" {
		scopes = strings.Fields(s)
	}

	ts := &TokenSource{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		http: &http.Client{Timeout: timeout},
	}
	ts.src = ts.newSource()
	return ts
}

// StaticToken returns a token source that always hands out the same token, for tests and
// APIs keyed by a long-lived application token
func StaticToken(token string) *TokenSource {
	return &TokenSource{
		static: true,
		src:    oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	}
}

func (ts *TokenSource) newSource() oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, ts.http)
	return oauth2.ReuseTokenSourceWithExpiry(nil, ts.cfg.TokenSource(ctx), expirySkew)
}

// Token returns a valid access token, fetching a new one when the cached one is expired
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ts.static && ts.cfg.TokenURL == "" {
		return "", fmt.Errorf("%w: no token endpoint configured", ErrAuth)
	}

	ts.mu.Lock()
	src := ts.src
	ts.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", classifyTokenError(err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUnavailable)
	}
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one
func (ts *TokenSource) Invalidate() {
	if ts.static {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.src = ts.newSource()
}

// classifyTokenError separates rejected credentials from an unreachable token endpoint
func classifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		switch rErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: token endpoint status %d", ErrAuth, rErr.Response.StatusCode)
		}
		return fmt.Errorf("%w: token endpoint status %d", ErrUnavailable, rErr.Response.StatusCode)
	}
	return fmt.Errorf("%w: token request: %v", ErrUnavailable, err)
}
