package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialVerifier turns a secret into its stored form and checks a
// supplied secret against it.
type CredentialVerifier interface {
	Hash(secret string) (string, error)
	Verify(stored, supplied string) bool
}

// PlainVerifier stores secrets verbatim and compares them byte for byte.
// It keeps compatibility with records written by earlier deployments;
// production use needs BcryptVerifier.
type PlainVerifier struct{}

func (PlainVerifier) Hash(secret string) (string, error) {
	return secret, nil
}

func (PlainVerifier) Verify(stored, supplied string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// BcryptVerifier stores salted bcrypt hashes.
type BcryptVerifier struct {
	Cost int
}

func (b BcryptVerifier) Hash(secret string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("hash credential: %w", err)
	}
	return string(hash), nil
}

func (BcryptVerifier) Verify(stored, supplied string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)) == nil
}

// NewVerifier maps a configured scheme onto a verifier.
func NewVerifier(scheme string, cost int) (CredentialVerifier, error) {
	switch scheme {
	case "", "plain":
		return PlainVerifier{}, nil
	case "bcrypt":
		if cost != 0 && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
			return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
		}
		return BcryptVerifier{Cost: cost}, nil
	default:
		return nil, errors.New("unsupported credential scheme: " + scheme)
	}
}
