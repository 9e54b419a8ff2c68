package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token has expired")
	ErrInvalidSigningMethod = errors.New("invalid signing method")
)

const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims carries the user id in "sub" and a unique "jti" per token. Role is
// only set on access tokens.
type Claims struct {
	Role      string `json:"role,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenManager signs and verifies RS256 tokens.
type TokenManager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string

	now func() time.Time
}

// NewTokenManager parses an RSA private key in PKCS8 or PKCS1 PEM form.
func NewTokenManager(privateKeyPEM []byte, issuer string) (*TokenManager, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("no PEM block found in signing key")
	}

	var key *rsa.PrivateKey
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing signing key: %w", err)
		}
	} else {
		var ok bool
		key, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signing key is %T, not RSA", parsed)
		}
	}

	return &TokenManager{
		privateKey: key,
		publicKey:  &key.PublicKey,
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

func (m *TokenManager) sign(userID uuid.UUID, role, typ string, ttl time.Duration) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		Role:      role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.privateKey)
	if err != nil {
		return "", nil, fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, claims, nil
}

func (m *TokenManager) GenerateAccessToken(userID uuid.UUID, role string) (string, error) {
	tok, _, err := m.sign(userID, role, TokenTypeAccess, AccessTokenTTL)
	return tok, err
}

// GenerateRefreshToken also returns the claims, whose ID is what gets
// persisted for rotation.
func (m *TokenManager) GenerateRefreshToken(userID uuid.UUID) (string, *Claims, error) {
	return m.sign(userID, "", TokenTypeRefresh, RefreshTokenTTL)
}

// ValidateToken verifies the signature and time claims of a token.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidSigningMethod
		}
		return m.publicKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, ErrInvalidSigningMethod):
		return nil, ErrInvalidSigningMethod
	default:
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccessToken rejects refresh tokens presented as access tokens.
func (m *TokenManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashTokenID is the form in which refresh token ids are stored.
func HashTokenID(jti string) string {
	sum := sha256.Sum256([]byte(jti))
	return hex.EncodeToString(sum[:])
}

// GenerateSigningKey returns a new 2048-bit RSA key as PKCS8 PEM.
func GenerateSigningKey() ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
