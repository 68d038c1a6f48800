// ABOUTME: JWT token verification for attaching scopes to MCP sessions
// ABOUTME: Uses HS256 signing with configurable secret and a "scopes" claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// ScopeVerifier defines the interface for resolving a bearer token to the
// scopes it grants. The gateway consults it once per initialize; the
// resulting scopes are attached to the new session and never change.
type ScopeVerifier interface {
	Verify(tokenString string) (subject string, scopes []string, err error)
}

// JWTVerifier implements ScopeVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the subject and granted scopes.
// The "sub" claim is required; "scopes" is an optional array of strings.
func (v *JWTVerifier) Verify(tokenString string) (string, []string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", nil, ErrExpiredToken
		}
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	var scopes []string
	if raw, ok := claims["scopes"].([]interface{}); ok {
		scopes = make([]string, 0, len(raw))
		for _, s := range raw {
			str, ok := s.(string)
			if !ok {
				return "", nil, fmt.Errorf("%w: scopes must be strings", ErrInvalidToken)
			}
			scopes = append(scopes, str)
		}
	}

	return sub, scopes, nil
}

// Generate creates a new JWT token for the given subject carrying the given
// scopes, with expiration
func (v *JWTVerifier) Generate(subject string, scopes []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    subject,
		"scopes": scopes,
		"iat":    now.Unix(),
		"exp":    now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
