package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	keyPEM  []byte
)

// generating RSA keys is slow, so tests share one
func testKey(t *testing.T) []byte {
	keyOnce.Do(func() {
		var err error
		keyPEM, err = GenerateSigningKey()
		require.NoError(t, err)
	})
	return keyPEM
}

func testTokenManager(t *testing.T) *TokenManager {
	m, err := NewTokenManager(testKey(t), "clipper-test")
	require.NoError(t, err)
	return m
}

func TestTokenRoundTrip(t *testing.T) {
	assert := assert.New(t)
	m := testTokenManager(t)
	userID := uuid.New()

	access, err := m.GenerateAccessToken(userID, "moderator")
	require.NoError(t, err)
	claims, err := m.ValidateAccessToken(access)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(userID, got)
	assert.Equal("moderator", claims.Role)
	assert.Equal("clipper-test", claims.Issuer)
	assert.NotEmpty(claims.ID)
	assert.WithinDuration(time.Now().Add(AccessTokenTTL), claims.ExpiresAt.Time, 5*time.Second)

	refresh, rc, err := m.GenerateRefreshToken(userID)
	require.NoError(t, err)
	assert.Empty(rc.Role)
	assert.WithinDuration(time.Now().Add(RefreshTokenTTL), rc.ExpiresAt.Time, 5*time.Second)
	assert.NotEqual(claims.ID, rc.ID)

	// refresh tokens are not accepted where access tokens are expected
	_, err = m.ValidateAccessToken(refresh)
	assert.ErrorIs(err, ErrInvalidToken)
	parsed, err := m.ValidateToken(refresh)
	require.NoError(t, err)
	assert.Equal(TokenTypeRefresh, parsed.TokenType)

	assert.Len(HashTokenID(rc.ID), 64)
	assert.Equal(HashTokenID("x"), HashTokenID("x"))
}

func TestTokenRejections(t *testing.T) {
	assert := assert.New(t)
	m := testTokenManager(t)

	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, err := m.GenerateAccessToken(uuid.New(), "user")
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.ValidateToken(stale)
	assert.ErrorIs(err, ErrTokenExpired)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ID:        "x",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	forged, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.ValidateToken(forged)
	assert.ErrorIs(err, ErrInvalidSigningMethod)

	_, err = m.ValidateToken("not.a.token")
	assert.ErrorIs(err, ErrInvalidToken)

	// signed by a different key
	otherPEM, err := GenerateSigningKey()
	require.NoError(t, err)
	other, err := NewTokenManager(otherPEM, "clipper-test")
	require.NoError(t, err)
	foreign, err := other.GenerateAccessToken(uuid.New(), "admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(err, ErrInvalidToken)
}

func TestNewTokenManagerPKCS1(t *testing.T) {
	assert := assert.New(t)

	block, _ := pem.Decode(testKey(t))
	require.NotNil(t, block)
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	pkcs1 := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(parsed.(*rsa.PrivateKey)),
	})

	m, err := NewTokenManager(pkcs1, "")
	require.NoError(t, err)
	tok, err := m.GenerateAccessToken(uuid.New(), "user")
	require.NoError(t, err)

	// a manager built from the PKCS8 form of the same key accepts it
	_, err = testTokenManager(t).ValidateAccessToken(tok)
	assert.NoError(err)

	_, err = NewTokenManager([]byte("garbage"), "")
	assert.Error(err)
}
