package tenancy

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// MinSharedSecretLength is the shortest shared secret a tenant may set
const MinSharedSecretLength = 8

// ErrEmptySecret is returned when hashing an empty secret
var ErrEmptySecret = goerrors.New("secret must not be empty", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// HashSecret fingerprints a shared secret so members can later be checked
// against the tenant's current secret without storing it per member.
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if cost == 0 {
		cost = secretHashCost()
	}

	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	return string(h), err
}

// SecretMatchesHash reports whether secret produced hash
func SecretMatchesHash(secret, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
