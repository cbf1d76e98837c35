package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordChecker verifies the admin password against a bcrypt hash.
type PasswordChecker struct {
	hash []byte
}

// NewPasswordChecker uses hash when given, otherwise hashes plain once at
// startup so the plain password is not kept in memory.
func NewPasswordChecker(plain, hash string) (*PasswordChecker, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, err
		}
		return &PasswordChecker{hash: []byte(hash)}, nil
	}
	if plain == "" {
		return nil, errors.New("admin password is required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &PasswordChecker{hash: h}, nil
}

// Check reports whether plain matches.
func (p *PasswordChecker) Check(plain string) bool {
	return bcrypt.CompareHashAndPassword(p.hash, []byte(plain)) == nil
}
