// Package credstore persists refresh tokens and encryption passphrases in
// the OS-native credential store: macOS
// Keychain, the Secret Service API on Linux, or Windows Credential Manager,
// via 99designs/keyring. Values are never written to a plain file: the
// data here is long-lived and directly usable to impersonate the account.
package credstore

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// ErrNotFound is returned when no credential is stored under the given key.
var ErrNotFound = errors.New("credstore: not found")

// serviceName namespaces every keyring entry so this module's secrets never
// collide with another application's use of the same backend.
const serviceName = "dracoon-go"

// Store wraps an OS keyring. The zero value is not usable; construct with Open.
type Store struct {
	ring keyring.Keyring
}

// Open opens (or creates, for file-backed backends) the OS-native
// credential store. allowedBackends, when non-empty, restricts which
// backend implementations keyring.Open will try, mainly for tests.
func Open(allowedBackends ...keyring.BackendType) (*Store, error) {
	cfg := keyring.Config{
		ServiceName:             serviceName,
		KeychainTrustApplication: true,
		AllowedBackends:         allowedBackends,
	}

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("credstore: opening keyring: %w", err)
	}

	return &Store{ring: ring}, nil
}

// NewForTesting wraps an already-open keyring.Keyring, letting tests supply
// an in-memory or file-backed ring instead of a real OS credential store.
func NewForTesting(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// refreshTokenKey and passphraseKey build the keyring keys:
// "<service_name>::<target_url>" for the refresh token, and
// "<service_name>::<target_url>-crypto" for the passphrase. This CLI lets
// a user switch between several logged-in accounts on the same target
// (--account, config.DefaultAccount), so a non-empty account is appended
// as a third segment; with the default (single, unnamed) account the key
// stays the two-segment form.
func refreshTokenKey(targetURL, account string) string {
	key := serviceName + "::" + targetURL
	if account != "" {
		key += "::" + account
	}

	return key
}

func passphraseKey(targetURL, account string) string {
	key := serviceName + "::" + targetURL + "-crypto"
	if account != "" {
		key += "::" + account
	}

	return key
}

// SetRefreshToken stores the refresh token for an account.
func (s *Store) SetRefreshToken(targetURL, account, token string) error {
	return s.set(refreshTokenKey(targetURL, account), token)
}

// GetRefreshToken retrieves the refresh token for an account. Returns
// ErrNotFound if none is stored.
func (s *Store) GetRefreshToken(targetURL, account string) (string, error) {
	return s.get(refreshTokenKey(targetURL, account))
}

// DeleteRefreshToken removes a stored refresh token, e.g. on logout.
func (s *Store) DeleteRefreshToken(targetURL, account string) error {
	return s.delete(refreshTokenKey(targetURL, account))
}

// SetCryptoPassphrase stores the client-side encryption passphrase for an account.
func (s *Store) SetCryptoPassphrase(targetURL, account, passphrase string) error {
	return s.set(passphraseKey(targetURL, account), passphrase)
}

// GetCryptoPassphrase retrieves the client-side encryption passphrase for an
// account. Returns ErrNotFound if none is stored.
func (s *Store) GetCryptoPassphrase(targetURL, account string) (string, error) {
	return s.get(passphraseKey(targetURL, account))
}

// DeleteCryptoPassphrase removes a stored encryption passphrase.
func (s *Store) DeleteCryptoPassphrase(targetURL, account string) error {
	return s.delete(passphraseKey(targetURL, account))
}

func (s *Store) set(key, value string) error {
	item := keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + ": " + key,
	}

	if err := s.ring.Set(item); err != nil {
		return fmt.Errorf("credstore: storing %q: %w", key, err)
	}

	return nil
}

func (s *Store) get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNotFound
		}

		return "", fmt.Errorf("credstore: retrieving %q: %w", key, err)
	}

	return string(item.Data), nil
}

func (s *Store) delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil
		}

		return fmt.Errorf("credstore: deleting %q: %w", key, err)
	}

	return nil
}
