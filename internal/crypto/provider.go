// Package crypto defines the black-box interface for client-side file
// encryption: per-file symmetric keys
// generated locally, wrapped per-recipient with RSA public keys, and used
// to encrypt/decrypt file contents with AES-GCM. The concrete math lives in
// internal/crypto/rsaaes; callers (internal/transfer) depend only on this
// interface.
package crypto

import (
	"errors"
	"io"

	"github.com/tonimelisma/dracoon-go/internal/dracoon"
)

// ErrWrongPassphrase is returned by UnwrapFileKey when the holder's private
// key cannot be decrypted or parsed: a wrong passphrase and a corrupt
// PKCS#8 private key both surface as this error. Callers distinguish it
// from a malformed wrapped key or a tag mismatch via errors.Is.
var ErrWrongPassphrase = errors.New("crypto: wrong passphrase or corrupt private key")

// FileKey is the unwrapped symmetric key material for one file: the AES
// key, the GCM nonce the file was (or will be) encrypted under, and —
// once the whole stream has been encrypted — the authentication tag.
// Key, IV, and Tag all travel inside the wrapped file key; the stored
// object is bare ciphertext, exactly as long as the plaintext.
type FileKey struct {
	Key     []byte
	IV      []byte
	Tag     []byte
	Version string
}

// Provider generates file keys, wraps/unwraps them for recipients' RSA
// public keys, and encrypts/decrypts file content streams.
//
// Implementations must be safe for concurrent use; TreeWalker and
// TransferEngine may call a shared Provider from multiple goroutines.
type Provider interface {
	// GenerateFileKey creates a new random symmetric key plus a fresh
	// nonce. Tag is left empty until EncryptStream has run.
	GenerateFileKey() (FileKey, error)

	// WrapFileKey wraps a FileKey for one recipient's RSA public key,
	// producing the structure the upload-completion API expects. key.Tag
	// must already be set: the tag is only known after the whole stream
	// has been encrypted, so wrapping happens at completion time.
	WrapFileKey(key FileKey, recipientPublicKey dracoon.PublicKeyInfo) (dracoon.WrappedFileKey, error)

	// UnwrapFileKey recovers a FileKey (key, nonce, and tag) using the
	// holder's RSA private key and passphrase.
	UnwrapFileKey(wrapped dracoon.WrappedFileKey, privateKeyPEM []byte, passphrase string) (FileKey, error)

	// EncryptStream seals src as a single AES-GCM message under key.Key
	// and key.IV. The returned reader yields ciphertext exactly as long
	// as the plaintext; the authentication tag is returned separately so
	// the caller can carry it in the wrapped file key.
	EncryptStream(src io.Reader, key FileKey) (io.Reader, []byte, error)

	// DecryptStream reverses EncryptStream, verifying key.Tag over the
	// whole ciphertext read from src before any plaintext is yielded.
	DecryptStream(src io.Reader, key FileKey) (io.Reader, error)
}
