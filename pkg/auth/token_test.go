package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// makeToken builds an unverified compact JWT; the token source never checks
// signatures, only the exp claim.
func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	claims := map[string]interface{}{"sub": "signsync"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	signature := base64.RawURLEncoding.EncodeToString([]byte("unchecked"))

	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "." + signature
}

func TestTokenSource_StaticToken(t *testing.T) {
	raw := makeToken(t, time.Now().Add(time.Hour))

	ts, err := NewTokenSource(raw, nil, zap.NewNop())
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, token)
}

func TestTokenSource_TokenWithoutExpiryNeverStale(t *testing.T) {
	raw := makeToken(t, time.Time{})

	ts, err := NewTokenSource(raw, nil, zap.NewNop())
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, token)
}

func TestTokenSource_ExpiredStaticTokenStillReturned(t *testing.T) {
	raw := makeToken(t, time.Now().Add(-time.Hour))

	ts, err := NewTokenSource(raw, nil, zap.NewNop())
	require.NoError(t, err)

	// No refresh func: hand back the stale token and let the backend decide.
	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, token)
}

func TestTokenSource_RefreshesAheadOfExpiry(t *testing.T) {
	stale := makeToken(t, time.Now().Add(10*time.Second)) // inside the 30s leeway
	fresh := makeToken(t, time.Now().Add(time.Hour))

	var refreshed int
	ts, err := NewTokenSource(stale, func() (string, error) {
		refreshed++
		return fresh, nil
	}, zap.NewNop())
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.Equal(t, 1, refreshed)

	// The fresh token is outside the leeway window: no second refresh.
	token, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
	assert.Equal(t, 1, refreshed)
}

func TestTokenSource_RefreshFailure(t *testing.T) {
	stale := makeToken(t, time.Now().Add(-time.Hour))

	ts, err := NewTokenSource(stale, func() (string, error) {
		return "", errors.New("identity provider unreachable")
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = ts.Token()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token refresh failed")
}

func TestTokenSource_InvalidToken(t *testing.T) {
	_, err := NewTokenSource("not-a-jwt", nil, zap.NewNop())
	require.Error(t, err)
}

func TestTokenSource_EmptyWithoutRefresh(t *testing.T) {
	ts, err := NewTokenSource("", nil, zap.NewNop())
	require.NoError(t, err)

	_, err = ts.Token()
	require.Error(t, err)
}

func TestTokenSource_SetToken(t *testing.T) {
	ts, err := NewTokenSource("", nil, zap.NewNop())
	require.NoError(t, err)

	raw := makeToken(t, time.Now().Add(time.Hour))
	require.NoError(t, ts.SetToken(raw))

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, token)
}

func TestTokenSource_Credentials(t *testing.T) {
	raw := makeToken(t, time.Now().Add(time.Hour))

	ts, err := NewTokenSource(raw, nil, zap.NewNop())
	require.NoError(t, err)

	username, password := ts.Credentials()
	assert.Empty(t, username)
	assert.Equal(t, raw, password)
}

func TestTokenSource_CredentialsDegradeToEmpty(t *testing.T) {
	ts, err := NewTokenSource("", nil, zap.NewNop())
	require.NoError(t, err)

	username, password := ts.Credentials()
	assert.Empty(t, username)
	assert.Empty(t, password)
}
