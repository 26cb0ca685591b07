package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issuer identifies tokens minted by this service. Verification rejects
// tokens carrying any other issuer, so a leaked secret shared with a
// sibling app can't produce tokens valid here.
const issuer = "corely-auth"

// DefaultTokenTTL is the session lifetime when no TTL is configured.
// Long-lived by design: there is no refresh-token flow, and logout is
// client-side deletion of a stateless token.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Claims is the payload carried by a session token: the user's internal
// ID (in the registered "sub" claim) and their email.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService issues and verifies HS256-signed session tokens.
//
// The secret is process-wide configuration loaded once at startup.
// Rotating it invalidates all outstanding tokens; accepted tradeoff,
// there is no revocation list.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and TTL.
// A TTL of zero selects DefaultTokenTTL. The secret should be at least
// 32 bytes of random data in production (openssl rand -hex 32).
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates and signs a session token for the given user.
func (s *TokenService) Issue(userID, email string) (string, error) {
	now := time.Now()

	c := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify parses and verifies a session token, returning its claims.
//
// Any failure (bad signature, wrong algorithm, wrong issuer, expiry,
// malformed structure) yields an error and no claims. Callers never see
// partially-trusted data.
//
// Pinning the accepted algorithms with jwt.WithValidMethods closes the
// algorithm-confusion hole where an attacker submits a token signed with
// "none" or an asymmetric scheme.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}

	return c, nil
}
