package identity

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidConsumerKey signals the presented API key does not match the
// stored hash.
var ErrInvalidConsumerKey = errors.New("identity: invalid consumer key")

const minConsumerKeyLength = 16

// HashConsumerKey hashes an API consumer's key for storage. Raw keys are
// never persisted.
func HashConsumerKey(key string) (string, error) {
	if len(key) < minConsumerKeyLength {
		return "", fmt.Errorf("identity: consumer key must be at least %d characters", minConsumerKeyLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("identity: hash consumer key: %w", err)
	}

	return string(hash), nil
}

// VerifyConsumerKey checks a presented key against the stored hash.
func VerifyConsumerKey(hash, key string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidConsumerKey
	}
	return nil
}
