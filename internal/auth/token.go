package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"lexicms/api/internal/rbac"
)

// Claims is the payload of an identity provider access token.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the editor a request acts for. UserID is used as authorId.
type Identity struct {
	UserID    string
	Email     string
	Role      rbac.Role
	SessionID string
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// Identity converts verified claims. Tokens without a session id get one
// session per user.
func (c Claims) Identity() Identity {
	sessionID := c.SessionID
	if sessionID == "" {
		sessionID = c.Subject
	}
	return Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		Role:      rbac.Normalize(c.Role),
		SessionID: sessionID,
	}
}
