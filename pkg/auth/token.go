package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"enviobox/pkg/domain"
)

const (
	defaultTokenIssuer = "enviobox-legacy"
	// DefaultAccessTokenTTL is the validity window for claim-issued tokens.
	DefaultAccessTokenTTL = 7 * 24 * time.Hour
)

// ErrInvalidToken is returned for expired, malformed or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// TokenIssuer signs and verifies HS256 access tokens bound to an account.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// AccessClaims are the claims carried by every issued token.
type AccessClaims struct {
	Email string             `json:"email"`
	Role  domain.AccountRole `json:"role"`
	BoxID string             `json:"boxId"`
	jwt.RegisteredClaims
}

// NewTokenIssuer builds an issuer from a shared HMAC secret.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: defaultTokenIssuer,
		ttl:    ttl,
	}, nil
}

// Sign issues a token for the given account.
func (t *TokenIssuer) Sign(account domain.Account) (string, error) {
	now := time.Now().UTC()
	claims := AccessClaims{
		Email: account.Email,
		Role:  account.Role,
		BoxID: account.BoxID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (t *TokenIssuer) Verify(raw string) (AccessClaims, error) {
	claims := AccessClaims{}
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}
