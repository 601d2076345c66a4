// Package auth issues and verifies session tokens and hashes passwords.
// Everything here is a pure function of its inputs; no I/O is performed.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenValidity is the lifetime of a session token.
const DefaultTokenValidity = 7 * 24 * time.Hour

// Claims is the token payload: the registered claims plus the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// Identity is the caller resolved from a verified token.
type Identity struct {
	UserID string
}

var validMethods = []string{jwt.SigningMethodHS256.Alg()}

func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// VerifyToken checks signature, algorithm and expiry and returns the identity
// carried by the token. Every failure wraps common.ErrInvalidToken; expired
// tokens additionally match common.ErrTokenExpired.
func VerifyToken(tokenString string, secretKey []byte) (Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods(validMethods), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, common.ErrTokenExpired)
		}
		return Identity{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" || claims.Subject != claims.UserID {
		return Identity{}, common.ErrInvalidToken
	}

	return Identity{UserID: claims.UserID}, nil
}
