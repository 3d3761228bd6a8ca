package credstore_test

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/dracoon-go/internal/credstore"
)

// openTestStore opens a file-backed keyring in a temp directory with a
// fixed passphrase, avoiding any dependency on a real OS keyring during
// tests.
func openTestStore(t *testing.T) *credstore.Store {
	t.Helper()

	dir := t.TempDir()

	cfg := keyring.Config{
		ServiceName:      "dracoon-go-test",
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt("test-passphrase"),
	}

	ring, err := keyring.Open(cfg)
	require.NoError(t, err)

	return credstore.NewForTesting(ring)
}

func TestRefreshToken_SetGetDelete(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetRefreshToken("https://dracoon.example.com", "alice")
	require.ErrorIs(t, err, credstore.ErrNotFound)

	require.NoError(t, store.SetRefreshToken("https://dracoon.example.com", "alice", "refresh-abc"))

	got, err := store.GetRefreshToken("https://dracoon.example.com", "alice")
	require.NoError(t, err)
	require.Equal(t, "refresh-abc", got)

	require.NoError(t, store.DeleteRefreshToken("https://dracoon.example.com", "alice"))

	_, err = store.GetRefreshToken("https://dracoon.example.com", "alice")
	require.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestCryptoPassphrase_SetGet(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetCryptoPassphrase("https://dracoon.example.com", "alice", "s3cr3t"))

	got, err := store.GetCryptoPassphrase("https://dracoon.example.com", "alice")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", got)
}

// TestRefreshToken_DefaultAccountKeyFormat confirms that with no account
// given, the stored key collapses to the two-segment
// "<service_name>::<target_url>" form — the account segment is an additive
// extension for multi-account use, not a replacement of it.
func TestRefreshToken_DefaultAccountKeyFormat(t *testing.T) {
	dir := t.TempDir()

	cfg := keyring.Config{
		ServiceName:      "dracoon-go-test",
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt("test-passphrase"),
	}

	ring, err := keyring.Open(cfg)
	require.NoError(t, err)

	store := credstore.NewForTesting(ring)

	require.NoError(t, store.SetRefreshToken("https://dracoon.example.com", "", "refresh-xyz"))

	item, err := ring.Get("dracoon-go::https://dracoon.example.com")
	require.NoError(t, err)
	require.Equal(t, "refresh-xyz", string(item.Data))

	require.NoError(t, store.SetCryptoPassphrase("https://dracoon.example.com", "", "s3cr3t"))

	item, err = ring.Get("dracoon-go::https://dracoon.example.com-crypto")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", string(item.Data))
}

func TestRefreshToken_IsolatedByAccount(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetRefreshToken("https://dracoon.example.com", "alice", "token-alice"))
	require.NoError(t, store.SetRefreshToken("https://dracoon.example.com", "bob", "token-bob"))

	alice, err := store.GetRefreshToken("https://dracoon.example.com", "alice")
	require.NoError(t, err)
	require.Equal(t, "token-alice", alice)

	bob, err := store.GetRefreshToken("https://dracoon.example.com", "bob")
	require.NoError(t, err)
	require.Equal(t, "token-bob", bob)
}
