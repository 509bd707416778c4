package auth

import (
	"fmt"
	"strings"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost = 10

	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6

	// PasswordMinEntropyBits is the weakest password CreateUser accepts.
	PasswordMinEntropyBits = 40
)

// normalizeUsername trims username and checks its length.
func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	return username, nil
}

// checkPassword rejects short and guessable passwords.
func checkPassword(password string) error {
	if len(password) < minPasswordLen {
		return ErrInvalidPassword
	}
	if err := passwordvalidator.Validate(password, PasswordMinEntropyBits); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return nil
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches the bcrypt hash.
func ComparePassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
