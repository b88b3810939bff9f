package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// EncryptedMarker prefixes every encrypted secret. Its presence is the only
// signal that a stored secret is encrypted.
const EncryptedMarker = "satchel-enc-v1:"

// ScryptParams are the cost parameters of the password KDF.
type ScryptParams struct {
	// N is the CPU/memory cost, a power of two.
	N int

	// R is the block size.
	R int

	// P is the parallelization factor.
	P int
}

var (
	// DefaultScryptParams is the production KDF cost, roughly 128MiB of
	// memory per derivation.
	DefaultScryptParams = ScryptParams{N: 1 << 17, R: 8, P: 1}

	// FastScryptParams is a cranked down cost for tests only.
	FastScryptParams = ScryptParams{N: 16, R: 8, P: 1}
)

// HasMarker reports whether the stored secret carries the encryption marker.
func HasMarker(secret string) bool {
	return strings.HasPrefix(secret, EncryptedMarker)
}

// deriveKey stretches the password into an AEAD key, salted with the device
// id.
func deriveKey(password []byte, salt string, params ScryptParams) ([]byte,
	error) {

	return scrypt.Key(
		password, []byte(salt), params.N, params.R, params.P,
		chacha20poly1305.KeySize,
	)
}

// EncryptSecret seals secret under a key derived from password and salt and
// returns the marker-prefixed, base64 encoded ciphertext. The marker is bound
// into the ciphertext as associated data.
func EncryptSecret(secret, password []byte, salt string,
	params ScryptParams) (string, error) {

	return encryptSecret(rand.Reader, secret, password, salt, params)
}

func encryptSecret(randReader io.Reader, secret, password []byte,
	salt string, params ScryptParams) (string, error) {

	switch {
	case len(secret) == 0:
		return "", ErrEmptySecret

	case len(password) == 0:
		return "", ErrEmptyPassword

	case salt == "":
		return "", ErrMissingDeviceID
	}

	key, err := deriveKey(password, salt, params)
	if err != nil {
		return "", fmt.Errorf("unable to derive key: %w", err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(),
		aead.NonceSize()+len(secret)+aead.Overhead())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", fmt.Errorf("unable to read nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, secret, []byte(EncryptedMarker))

	return EncryptedMarker + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecret reverses EncryptSecret. A wrong password, a wrong salt and a
// corrupted ciphertext all fail with ErrIncorrectPassword.
func DecryptSecret(ciphertext string, password []byte, salt string,
	params ScryptParams) ([]byte, error) {

	if !HasMarker(ciphertext) {
		return nil, ErrNotEncrypted
	}
	if len(password) == 0 || salt == "" {
		return nil, ErrIncorrectPassword
	}

	sealed, err := base64.StdEncoding.DecodeString(
		strings.TrimPrefix(ciphertext, EncryptedMarker),
	)
	if err != nil {
		return nil, ErrIncorrectPassword
	}

	key, err := deriveKey(password, salt, params)
	if err != nil {
		return nil, fmt.Errorf("unable to derive key: %w", err)
	}
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrIncorrectPassword
	}

	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, box, []byte(EncryptedMarker))
	if err != nil {
		return nil, ErrIncorrectPassword
	}

	return plaintext, nil
}

// zero overwrites b.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
