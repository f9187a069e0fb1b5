package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordService hashes and verifies credentials. Hashing is invoked
// explicitly by the caller before the store call, never as a hidden
// persistence side effect.
type PasswordService struct {
	cost int
}

func NewPasswordService() PasswordService {
	return PasswordService{cost: bcrypt.DefaultCost}
}

// Hash returns the bcrypt hash of a plaintext password.
func (s PasswordService) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether the plaintext password matches the stored hash.
func (s PasswordService) Compare(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
