package vault

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/satchelwallet/satchel/kvstore"
	"github.com/tyler-smith/go-bip39"
)

// DefaultEntropyBits is the entropy of a freshly created recovery phrase,
// giving 12 words.
const DefaultEntropyBits = 128

// Vault owns the stored secret and the device id salt. It never holds a
// password or a decrypted secret beyond the call that needs it.
type Vault struct {
	store  kvstore.Store
	params ScryptParams

	// mu serializes the read-check-write sequences on the stored secret
	// and the lazy creation of the device id.
	mu sync.Mutex
}

// New returns a vault over store using the given KDF cost.
func New(store kvstore.Store, params ScryptParams) *Vault {
	return &Vault{
		store:  store,
		params: params,
	}
}

// DeviceID returns the per-installation salt, creating and persisting a
// random one on first use. It is never rotated.
func (v *Vault) DeviceID() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.deviceID()
}

func (v *Vault) deviceID() (string, error) {
	id, err := v.store.Get(kvstore.KeyDeviceID)
	switch {
	case err == nil && len(id) > 0:
		return string(id), nil

	case err != nil && !errors.Is(err, kvstore.ErrNotFound):
		return "", err
	}

	newID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("unable to generate device id: %w", err)
	}

	if err := v.store.Put(kvstore.KeyDeviceID, []byte(newID.String())); err != nil {
		return "", err
	}

	log.Infof("Created new device id")

	return newID.String(), nil
}

// storedSecret returns the raw stored secret or ErrSecretNotFound.
func (v *Vault) storedSecret() (string, error) {
	secret, err := v.store.Get(kvstore.KeyEncryptedMnemonic)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return "", ErrSecretNotFound

	case err != nil:
		return "", err

	case len(secret) == 0:
		return "", ErrSecretNotFound
	}

	return string(secret), nil
}

// HasSecret reports whether any secret, plaintext or encrypted, is stored.
func (v *Vault) HasSecret() (bool, error) {
	_, err := v.storedSecret()
	switch {
	case errors.Is(err, ErrSecretNotFound):
		return false, nil

	case err != nil:
		return false, err
	}

	return true, nil
}

// IsEncrypted reports whether the stored secret carries the encryption
// marker. A missing secret is not encrypted.
func (v *Vault) IsEncrypted() (bool, error) {
	secret, err := v.storedSecret()
	switch {
	case errors.Is(err, ErrSecretNotFound):
		return false, nil

	case err != nil:
		return false, err
	}

	return HasMarker(secret), nil
}

// NormalizeMnemonic lower-cases a recovery phrase and collapses its
// whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// SaveMnemonic validates and stores a recovery phrase in plaintext, ready
// for the first Encrypt. An invalid phrase fails with ErrInvalidMnemonic and
// nothing is written. An existing secret is never overwritten.
func (v *Vault) SaveMnemonic(mnemonic string) error {
	mnemonic = NormalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, err := v.storedSecret()
	switch {
	case err == nil:
		return ErrSecretExists

	case !errors.Is(err, ErrSecretNotFound):
		return err
	}

	err = v.store.Put(kvstore.KeyEncryptedMnemonic, []byte(mnemonic))
	if err != nil {
		return err
	}

	log.Infof("Saved new recovery phrase")

	return nil
}

// CreateMnemonic generates a fresh recovery phrase with the given entropy,
// stores it like SaveMnemonic and returns it so it can be shown to the user
// once.
func (v *Vault) CreateMnemonic(entropyBits int) (string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("unable to generate entropy: %w", err)
	}
	defer zero(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}

	if err := v.SaveMnemonic(mnemonic); err != nil {
		return "", err
	}

	return mnemonic, nil
}

// Encrypt encrypts the stored plaintext secret under password. If the stored
// secret already carries the marker it fails with ErrAlreadyEncrypted and
// storage is left byte-for-byte unchanged.
func (v *Vault) Encrypt(password []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	secret, err := v.storedSecret()
	if err != nil {
		return err
	}

	if HasMarker(secret) {
		return ErrAlreadyEncrypted
	}

	if err := v.encryptAndStore([]byte(secret), password); err != nil {
		return err
	}

	log.Infof("Encrypted stored secret")

	return nil
}

// encryptAndStore must be called with mu held.
func (v *Vault) encryptAndStore(secret, password []byte) error {
	salt, err := v.deviceID()
	if err != nil {
		return err
	}

	ciphertext, err := EncryptSecret(secret, password, salt, v.params)
	if err != nil {
		return err
	}

	return v.store.Put(kvstore.KeyEncryptedMnemonic, []byte(ciphertext))
}

// Decrypt returns the plaintext secret. It fails with ErrSecretNotFound,
// ErrNotEncrypted or ErrIncorrectPassword and never mutates storage.
func (v *Vault) Decrypt(password []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.decrypt(password)
}

func (v *Vault) decrypt(password []byte) (string, error) {
	secret, err := v.storedSecret()
	if err != nil {
		return "", err
	}

	if !HasMarker(secret) {
		return "", ErrNotEncrypted
	}

	salt, err := v.deviceID()
	if err != nil {
		return "", err
	}

	plaintext, err := DecryptSecret(secret, password, salt, v.params)
	if err != nil {
		log.Debugf("Unable to decrypt stored secret: %v", err)
		return "", err
	}

	return string(plaintext), nil
}

// ChangePassword re-encrypts the stored secret under newPassword. The old
// password must open the current ciphertext; on any failure the stored
// secret is unchanged.
func (v *Vault) ChangePassword(oldPassword, newPassword []byte) error {
	if len(newPassword) == 0 {
		return ErrEmptyPassword
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	plaintext, err := v.decrypt(oldPassword)
	if err != nil {
		return err
	}

	if err := v.encryptAndStore([]byte(plaintext), newPassword); err != nil {
		return err
	}

	log.Infof("Re-encrypted stored secret under new password")

	return nil
}
