// Package auth provides authentication helpers for the mixlab SDK.
package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AccessTokenTTL is the lifetime the API assigns to access tokens.
	AccessTokenTTL = 15 * time.Minute
	// RefreshTokenTTL is the lifetime the API assigns to refresh tokens.
	RefreshTokenTTL = 7 * 24 * time.Hour
	// ExpirySkew treats a token as expired slightly before the server would,
	// absorbing clock skew and request latency.
	ExpirySkew = 30 * time.Second
)

// TokenType distinguishes access tokens from refresh tokens in the payload.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// ErrMalformedToken is returned when a token has no decodable payload segment.
var ErrMalformedToken = errors.New("sdk/auth: malformed token")

// Claims encodes the JWT payload the API embeds into access and refresh tokens.
//
// This is a DTO matching the server's token contract. The SDK never verifies the
// signature: claims are read only to estimate freshness locally. Authorization
// is enforced entirely by the server.
type Claims struct {
	Type        TokenType `json:"type,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`

	jwt.RegisteredClaims
}

var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// ParseClaims decodes the payload segment of token without verifying it.
func ParseClaims(token string) (Claims, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) < 2 || parts[1] == "" {
		return Claims{}, ErrMalformedToken
	}
	raw, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return Claims{}, errors.Join(ErrMalformedToken, err)
	}
	// null, scalars and arrays are not claims.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return Claims{}, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, errors.Join(ErrMalformedToken, err)
	}
	return claims, nil
}

// IsExpired reports whether token should be treated as expired right now.
func IsExpired(token string) bool {
	return IsExpiredAt(token, time.Now())
}

// IsExpiredAt reports whether token should be treated as expired at now.
//
// Tokens without a decodable payload are expired. Tokens without an exp claim
// never expire locally; their validity is bounded by server-side revocation.
func IsExpiredAt(token string, now time.Time) bool {
	claims, err := ParseClaims(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Add(-ExpirySkew))
}
