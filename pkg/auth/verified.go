package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifiedClaims asserts that the named email address passed the OTP check.
// The calendar service requires it for mutating operations.
type VerifiedClaims struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

func NewVerifiedToken(email, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := VerifiedClaims{
		Email:    email,
		Verified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{"calendar-tools"},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseVerifiedToken(tokenString, secret string) (*VerifiedClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &VerifiedClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*VerifiedClaims); ok && tok.Valid && claims.Verified {
		return claims, nil
	}
	return nil, errors.New("invalid verified token")
}
