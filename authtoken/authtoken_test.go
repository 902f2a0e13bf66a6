package authtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("any-key-since-parse-never-verifies-it"))
	require.NoError(t, err)
	return signed
}

func TestParseExtractsKnownClaims(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	expiresAt := time.Unix(1700003600, 0)
	token := signedToken(t, jwt.MapClaims{
		"sub": "acct-1",
		"iss": "metarpc-terminal",
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
	})

	claims, err := Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.Subject)
	assert.Equal(t, "metarpc-terminal", claims.Issuer)
	assert.True(t, issuedAt.Equal(claims.IssuedAt))
	assert.True(t, expiresAt.Equal(claims.ExpiresAt))
	assert.Equal(t, "acct-1", claims.Raw["sub"])
}

func TestParseDoesNotRequireAValidSignature(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "acct-2"})

	claims, err := Parse(token)
	require.NoError(t, err, "Parse only reads claims; signature validity is the server's concern")
	assert.Equal(t, "acct-2", claims.Subject)
}

func TestParseToleratesMissingOptionalClaims(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "acct-3"})

	claims, err := Parse(token)
	require.NoError(t, err)
	assert.True(t, claims.IssuedAt.IsZero())
	assert.True(t, claims.ExpiresAt.IsZero())
}

func TestParseRejectsMalformedToken(t *testing.T) {
	_, err := Parse("not-a-jwt")
	require.Error(t, err)
}
