// Package rsaaes implements internal/crypto.Provider using RSA-OAEP key
// wrapping and AES-256-GCM stream encryption. The key-wrap and cipher math
// uses the standard library crypto packages; decrypting a passphrase-protected
// PKCS#8 private key uses github.com/youmark/pkcs8 — see DESIGN.md for why.
package rsaaes

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/youmark/pkcs8"

	"github.com/tonimelisma/dracoon-go/internal/crypto"
	"github.com/tonimelisma/dracoon-go/internal/dracoon"
)

// keySize is AES-256; ivSize and tagSize are the standard GCM nonce and
// tag lengths.
const (
	keySize = 32
	ivSize  = 12
	tagSize = 16
)

// Version is the wrapped-key format identifier the server associates with
// RSA-4096/OAEP-SHA256 key wrapping.
const Version = "A"

// Provider is the stdlib-backed crypto.Provider implementation. The zero
// value is ready to use.
type Provider struct{}

var _ crypto.Provider = Provider{}

// New returns a ready-to-use Provider.
func New() Provider {
	return Provider{}
}

// GenerateFileKey produces a random 256-bit AES key and a fresh GCM nonce.
// The tag stays empty until EncryptStream has sealed the file.
func (Provider) GenerateFileKey() (crypto.FileKey, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return crypto.FileKey{}, fmt.Errorf("rsaaes: generating file key: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return crypto.FileKey{}, fmt.Errorf("rsaaes: generating nonce: %w", err)
	}

	return crypto.FileKey{Key: key, IV: iv, Version: Version}, nil
}

// WrapFileKey encrypts key.Key with the recipient's RSA-OAEP public key
// and carries the nonce and auth tag alongside it, base64-encoded. The
// stored object itself is bare ciphertext, so the tag here is the only
// copy.
func (Provider) WrapFileKey(key crypto.FileKey, recipientPublicKey dracoon.PublicKeyInfo) (dracoon.WrappedFileKey, error) {
	pub, err := parsePublicKey(recipientPublicKey.PublicKey)
	if err != nil {
		return dracoon.WrappedFileKey{}, err
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key.Key, nil)
	if err != nil {
		return dracoon.WrappedFileKey{}, fmt.Errorf("rsaaes: wrapping file key: %w", err)
	}

	return dracoon.WrappedFileKey{
		Key:     base64.StdEncoding.EncodeToString(ciphertext),
		IV:      base64.StdEncoding.EncodeToString(key.IV),
		Tag:     base64.StdEncoding.EncodeToString(key.Tag),
		Version: key.Version,
	}, nil
}

// UnwrapFileKey decrypts a WrappedFileKey using the holder's RSA private
// key, which is itself stored PEM-encoded and PKCS#8-encrypted under
// passphrase.
func (Provider) UnwrapFileKey(wrapped dracoon.WrappedFileKey, privateKeyPEM []byte, passphrase string) (crypto.FileKey, error) {
	priv, err := parsePrivateKey(privateKeyPEM, passphrase)
	if err != nil {
		return crypto.FileKey{}, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(wrapped.Key)
	if err != nil {
		return crypto.FileKey{}, fmt.Errorf("rsaaes: decoding wrapped key: %w", err)
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return crypto.FileKey{}, fmt.Errorf("rsaaes: unwrapping file key: %w", err)
	}

	iv, err := base64.StdEncoding.DecodeString(wrapped.IV)
	if err != nil {
		return crypto.FileKey{}, fmt.Errorf("rsaaes: decoding nonce: %w", err)
	}

	tag, err := base64.StdEncoding.DecodeString(wrapped.Tag)
	if err != nil {
		return crypto.FileKey{}, fmt.Errorf("rsaaes: decoding auth tag: %w", err)
	}

	return crypto.FileKey{Key: plaintext, IV: iv, Tag: tag, Version: wrapped.Version}, nil
}

// EncryptStream seals src as one AES-256-GCM message under key.Key and
// key.IV. The returned reader yields bare ciphertext, byte-for-byte as
// long as the plaintext; the detached 16-byte tag is returned separately
// for the caller to carry in the wrapped file key. The input is buffered
// in memory until sealed.
func (Provider) EncryptStream(src io.Reader, key crypto.FileKey) (io.Reader, []byte, error) {
	gcm, err := newGCM(key.Key)
	if err != nil {
		return nil, nil, err
	}

	if len(key.IV) != gcm.NonceSize() {
		return nil, nil, fmt.Errorf("rsaaes: nonce is %d bytes, want %d", len(key.IV), gcm.NonceSize())
	}

	plaintext, err := io.ReadAll(src)
	if err != nil {
		return nil, nil, fmt.Errorf("rsaaes: reading plaintext: %w", err)
	}

	sealed := gcm.Seal(nil, key.IV, plaintext, nil)
	ciphertext, tag := sealed[:len(plaintext)], sealed[len(plaintext):]

	return bytes.NewReader(ciphertext), tag, nil
}

// DecryptStream reverses EncryptStream: it reads the bare ciphertext from
// src and verifies it against key.IV and key.Tag. The whole object is
// buffered until the tag verifies; no plaintext is yielded before then.
func (Provider) DecryptStream(src io.Reader, key crypto.FileKey) (io.Reader, error) {
	gcm, err := newGCM(key.Key)
	if err != nil {
		return nil, err
	}

	if len(key.Tag) != tagSize {
		return nil, fmt.Errorf("rsaaes: auth tag is %d bytes, want %d", len(key.Tag), tagSize)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("rsaaes: reading ciphertext: %w", err)
	}

	sealed := make([]byte, 0, len(data)+len(key.Tag))
	sealed = append(append(sealed, data...), key.Tag...)

	plaintext, err := gcm.Open(nil, key.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("rsaaes: decrypting: %w", err)
	}

	return bytes.NewReader(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rsaaes: constructing aes cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("rsaaes: constructing gcm: %w", err)
	}

	return gcm, nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("rsaaes: no PEM block in public key")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rsaaes: parsing public key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("rsaaes: public key is not RSA")
	}

	return rsaKey, nil
}

// parsePrivateKey decodes a PEM-encoded PKCS#8 private key, decrypting it
// with passphrase when the block is PBES2-encrypted, which every DRACOON
// account's stored private key is.
// An unencrypted PrivateKeyInfo is parsed directly; anything else is handed
// to github.com/youmark/pkcs8 as an EncryptedPrivateKeyInfo, so the caller
// does not need to know which form it has.
func parsePrivateKey(pemBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("rsaaes: no PEM block in private key")
	}

	if key, plainErr := x509.ParsePKCS8PrivateKey(block.Bytes); plainErr == nil {
		plainKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("rsaaes: private key is not RSA")
		}

		return plainKey, nil
	}

	rsaKey, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", crypto.ErrWrongPassphrase, err)
	}

	return rsaKey, nil
}
