package auth

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/quickide/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost keeps interactive login latency acceptable.
const DefaultBcryptCost = 10

// HashPassword returns the salted bcrypt hash of password.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password must be at most 72 bytes", common.ErrorValidation)
		}
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidCost reports whether cost is accepted by bcrypt.
func ValidCost(cost int) bool {
	return cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost
}
