package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.uber.org/zap"
)

// DefaultRefreshLeeway is how far before expiry a token is considered stale.
const DefaultRefreshLeeway = 30 * time.Second

// RefreshFunc obtains a fresh bearer token from the identity provider.
type RefreshFunc func() (string, error)

// TokenSource holds the bearer token used to authenticate against the
// managed remote store and refreshes it ahead of expiry. It only does
// expiry bookkeeping: the token's signature is verified by the backend, not
// here, so parsing skips verification.
type TokenSource struct {
	mu      sync.Mutex
	raw     string
	expires time.Time
	refresh RefreshFunc
	leeway  time.Duration
	logger  *zap.Logger
}

// NewTokenSource creates a token source. refresh may be nil for static
// tokens (the initial token is then used until the process exits).
func NewTokenSource(initialToken string, refresh RefreshFunc, logger *zap.Logger) (*TokenSource, error) {
	ts := &TokenSource{
		refresh: refresh,
		leeway:  DefaultRefreshLeeway,
		logger:  logger,
	}

	if initialToken != "" {
		if err := ts.setToken(initialToken); err != nil {
			return nil, err
		}
	}

	return ts, nil
}

// setToken installs a token and records its expiry. Tokens without an exp
// claim never go stale.
func (ts *TokenSource) setToken(raw string) error {
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return fmt.Errorf("failed to parse bearer token: %w", err)
	}

	ts.raw = raw
	ts.expires = time.Time{}
	if exp, ok := tok.Expiration(); ok {
		ts.expires = exp
	}

	return nil
}

// SetToken replaces the current token (e.g. after an out-of-band login).
func (ts *TokenSource) SetToken(raw string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.setToken(raw)
}

func (ts *TokenSource) stale() bool {
	if ts.expires.IsZero() {
		return ts.raw == ""
	}
	return time.Now().After(ts.expires.Add(-ts.leeway))
}

// Token returns a usable bearer token, refreshing first when the current
// one is within the leeway window of its expiry.
func (ts *TokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.stale() {
		return ts.raw, nil
	}

	if ts.refresh == nil {
		if ts.raw == "" {
			return "", fmt.Errorf("no bearer token available")
		}
		// Static token past its expiry: return it anyway and let the backend
		// reject it; refusing here would block reads the fail-open policy
		// wants to degrade gracefully.
		return ts.raw, nil
	}

	fresh, err := ts.refresh()
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	if err := ts.setToken(fresh); err != nil {
		return "", err
	}

	ts.logger.Sugar().Debugw("Bearer token refreshed", "expires", ts.expires)

	return ts.raw, nil
}

// Credentials adapts the token source to the go-redis CredentialsProvider
// shape. Errors degrade to empty credentials; the resulting auth failure
// surfaces through the store's normal error path.
func (ts *TokenSource) Credentials() (username string, password string) {
	token, err := ts.Token()
	if err != nil {
		ts.logger.Sugar().Warnw("No bearer token for remote store", "error", err)
		return "", ""
	}
	return "", token
}
