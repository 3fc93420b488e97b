package auth

import (
	"errors"
	"fmt"
)

// ErrInvalidAPIKey is returned when no configured key matches.
var ErrInvalidAPIKey = errors.New("auth: invalid API key")

// Keyring holds the hashed API keys configured at startup, one per role.
// Plaintext keys are hashed immediately and never retained.
type Keyring struct {
	hashes map[Role]string
}

// NewKeyring hashes the configured keys. Empty keys disable their role.
func NewKeyring(adminKey, readerKey string) (*Keyring, error) {
	kr := &Keyring{hashes: make(map[Role]string)}
	for role, key := range map[Role]string{RoleAdmin: adminKey, RoleReader: readerKey} {
		if key == "" {
			continue
		}
		hash, err := HashAPIKey(key)
		if err != nil {
			return nil, fmt.Errorf("auth: hash %s key: %w", role, err)
		}
		kr.hashes[role] = hash
	}
	return kr, nil
}

// Empty reports whether no keys are configured.
func (kr *Keyring) Empty() bool {
	return len(kr.hashes) == 0
}

// Authenticate resolves an API key to its role. The failure path runs a
// dummy hash so response timing does not reveal which keys are configured.
func (kr *Keyring) Authenticate(apiKey string) (Role, error) {
	for _, role := range []Role{RoleAdmin, RoleReader} {
		hash, ok := kr.hashes[role]
		if !ok {
			continue
		}
		valid, err := VerifyAPIKey(apiKey, hash)
		if err != nil {
			return "", err
		}
		if valid {
			return role, nil
		}
	}
	DummyVerify()
	return "", ErrInvalidAPIKey
}
