// Package auth issues and verifies session tokens and hashes passwords.
//
// Tokens are HS256-signed JWTs carrying the user id, username and role.
// The HTTP layer accepts them from the "jwt" cookie or an
// "Authorization: Bearer" header.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/voucher-market/market"
)

// Claims are the custom JWT claims of a session token.
type Claims struct {
	UserID   string      `json:"uid"`
	Username string      `json:"username"`
	Role     market.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenMaker signs and parses session tokens.
type TokenMaker struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenMaker(secret string, ttl time.Duration) *TokenMaker {
	return &TokenMaker{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (m *TokenMaker) TTL() time.Duration {
	return m.ttl
}

// GenerateToken returns a signed token for user.
func (m *TokenMaker) GenerateToken(user *market.User) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ParseToken verifies the signature and expiry of tokenStr.
func (m *TokenMaker) ParseToken(tokenStr string) (*Claims, error) {
	const op = "auth.ParseToken"
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: invalid token", op)
	}
	return claims, nil
}
