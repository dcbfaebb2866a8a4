// Package auth issues and verifies startup management tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long a management token stays valid.
const DefaultTokenTTL = 365 * 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid management token")
	ErrTokenRevoked = errors.New("management token revoked")
)

// Claims scope a token to one startup. Rev is bumped on rotation to revoke older tokens.
type Claims struct {
	StartupID string `json:"startup_id"`
	Rev       int    `json:"rev"`
	jwt.RegisteredClaims
}

// TokenService signs management tokens with HS256.
type TokenService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenService creates a service; ttl <= 0 uses DefaultTokenTTL.
func NewTokenService(secretKey, issuer string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue creates a token for startupID at revision rev.
func (s *TokenService) Issue(startupID string, rev int) (string, error) {
	now := s.now()
	claims := Claims{
		StartupID: startupID,
		Rev:       rev,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   startupID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Validate parses a token and checks its signature, expiry and issuer.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.StartupID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize validates tokenString for startupID at the current revision.
func (s *TokenService) Authorize(tokenString, startupID string, currentRev int) (*Claims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.StartupID != startupID {
		return nil, ErrInvalidToken
	}
	if claims.Rev != currentRev {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}
