package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestIssueAndVerify(t *testing.T) {
	tok, err := Issue(secret, "app", "Test-Channel", time.Hour)
	require.NoError(t, err)

	claims, err := Verify(secret, tok, "app", "Test-Channel")
	require.NoError(t, err)
	assert.Equal(t, "app", claims.AppID)
	assert.Equal(t, "Test-Channel", string(claims.Channel))
}

func TestVerifyRejectsWrongChannelOrApp(t *testing.T) {
	tok, err := Issue(secret, "app", "Test-Channel", time.Hour)
	require.NoError(t, err)

	_, err = Verify(secret, tok, "app", "Other")
	assert.ErrorIs(t, err, ErrWrongChannel)
	_, err = Verify(secret, tok, "other-app", "Test-Channel")
	assert.ErrorIs(t, err, ErrWrongChannel)
}

func TestVerifyRejectsExpired(t *testing.T) {
	tok, err := Issue(secret, "app", "Test-Channel", -time.Minute)
	require.NoError(t, err)

	_, err = Verify(secret, tok, "app", "Test-Channel")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsBadSignatureAndGarbage(t *testing.T) {
	tok, err := Issue(secret, "app", "Test-Channel", time.Hour)
	require.NoError(t, err)

	_, err = Verify([]byte("other"), tok, "app", "Test-Channel")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Verify(secret, "not-a-token", "app", "Test-Channel")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{AppID: "app", Channel: "Test-Channel"})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(secret, s, "app", "Test-Channel")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueNeedsSecret(t *testing.T) {
	_, err := Issue(nil, "app", "Test-Channel", time.Hour)
	assert.Error(t, err)
}
