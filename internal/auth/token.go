package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what can be read from a credential without verifying it.
type TokenInfo struct {
	Opaque    bool // token is not a JWT; nothing else is populated
	Subject   string
	UserID    string
	TokenType string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Expired reports whether the token carries an expiry that is in the past.
func (ti TokenInfo) Expired(now time.Time) bool {
	return !ti.ExpiresAt.IsZero() && now.After(ti.ExpiresAt)
}

// Inspect decodes JWT claims WITHOUT verifying the signature. The result is
// for display only; the server remains the sole authority on validity.
func Inspect(token string) TokenInfo {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{Opaque: true}
	}

	info := TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if v, ok := claims["user_id"]; ok {
		info.UserID = fmt.Sprint(v)
	}
	if v, ok := claims["token_type"].(string); ok {
		info.TokenType = v
	}
	return info
}
