package vault

import (
	"bytes"
	"testing"

	"github.com/satchelwallet/satchel/kvstore"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon abandon about"

	testPassword = "correct horse battery staple"
)

func newTestVault(t *testing.T) (*Vault, *kvstore.MemStore) {
	t.Helper()

	store := kvstore.NewMemStore()
	return New(store, FastScryptParams), store
}

// TestDeviceIDStable asserts the device id is created once and reused.
func TestDeviceIDStable(t *testing.T) {
	t.Parallel()

	v, store := newTestVault(t)

	_, err := store.Get(kvstore.KeyDeviceID)
	require.ErrorIs(t, err, kvstore.ErrNotFound)

	id, err := v.DeviceID()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := v.DeviceID()
	require.NoError(t, err)
	require.Equal(t, id, again)

	stored, err := store.Get(kvstore.KeyDeviceID)
	require.NoError(t, err)
	require.Equal(t, id, string(stored))
}

// TestEncryptDecryptRoundTrip checks that any non-empty secret and password
// survive a round trip and that any other password fails.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		secret := rapid.SliceOfN(rapid.Byte(), 1, 128).Draw(t, "secret")
		password := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(
			t, "password",
		)
		other := rapid.SliceOfN(rapid.Byte(), 1, 32).Draw(t, "other")
		salt := rapid.StringMatching(`[a-f0-9-]{8,36}`).Draw(t, "salt")

		ciphertext, err := EncryptSecret(
			secret, password, salt, FastScryptParams,
		)
		require.NoError(t, err)
		require.True(t, HasMarker(ciphertext))

		plaintext, err := DecryptSecret(
			ciphertext, password, salt, FastScryptParams,
		)
		require.NoError(t, err)
		require.Equal(t, secret, plaintext)

		if bytes.Equal(other, password) {
			return
		}

		_, err = DecryptSecret(ciphertext, other, salt, FastScryptParams)
		require.ErrorIs(t, err, ErrIncorrectPassword)
	})
}

// TestDecryptWrongSalt asserts the device id is part of the key.
func TestDecryptWrongSalt(t *testing.T) {
	t.Parallel()

	ciphertext, err := EncryptSecret(
		[]byte(testMnemonic), []byte(testPassword), "device-a",
		FastScryptParams,
	)
	require.NoError(t, err)

	_, err = DecryptSecret(
		ciphertext, []byte(testPassword), "device-b", FastScryptParams,
	)
	require.ErrorIs(t, err, ErrIncorrectPassword)
}

// TestDecryptCorrupted asserts a tampered ciphertext fails the same way a
// wrong password does.
func TestDecryptCorrupted(t *testing.T) {
	t.Parallel()

	ciphertext, err := EncryptSecret(
		[]byte(testMnemonic), []byte(testPassword), "device",
		FastScryptParams,
	)
	require.NoError(t, err)

	tests := []struct {
		name       string
		ciphertext string
	}{
		{
			name:       "truncated",
			ciphertext: ciphertext[:len(EncryptedMarker)+8],
		},
		{
			name:       "not base64",
			ciphertext: EncryptedMarker + "%%%%",
		},
		{
			name:       "flipped byte",
			ciphertext: ciphertext[:len(ciphertext)-4] + "AAAA",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecryptSecret(
				tc.ciphertext, []byte(testPassword), "device",
				FastScryptParams,
			)
			require.ErrorIs(t, err, ErrIncorrectPassword)
		})
	}

	_, err = DecryptSecret(
		testMnemonic, []byte(testPassword), "device", FastScryptParams,
	)
	require.ErrorIs(t, err, ErrNotEncrypted)
}

// TestEncryptRejectsEmpty asserts empty inputs are refused.
func TestEncryptRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := EncryptSecret(nil, []byte("pw"), "d", FastScryptParams)
	require.ErrorIs(t, err, ErrEmptySecret)

	_, err = EncryptSecret([]byte("s"), nil, "d", FastScryptParams)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, err = EncryptSecret([]byte("s"), []byte("pw"), "", FastScryptParams)
	require.ErrorIs(t, err, ErrMissingDeviceID)
}

// TestVaultLifecycle walks a secret from save through encrypt, decrypt and
// password change.
func TestVaultLifecycle(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)

	has, err := v.HasSecret()
	require.NoError(t, err)
	require.False(t, has)

	_, err = v.Decrypt([]byte(testPassword))
	require.ErrorIs(t, err, ErrSecretNotFound)

	require.ErrorIs(t, v.Encrypt([]byte(testPassword)), ErrSecretNotFound)

	require.NoError(t, v.SaveMnemonic("  Abandon "+testMnemonic[8:]+"\n"))

	encrypted, err := v.IsEncrypted()
	require.NoError(t, err)
	require.False(t, encrypted)

	_, err = v.Decrypt([]byte(testPassword))
	require.ErrorIs(t, err, ErrNotEncrypted)

	require.NoError(t, v.Encrypt([]byte(testPassword)))

	encrypted, err = v.IsEncrypted()
	require.NoError(t, err)
	require.True(t, encrypted)

	mnemonic, err := v.Decrypt([]byte(testPassword))
	require.NoError(t, err)
	require.Equal(t, testMnemonic, mnemonic)

	_, err = v.Decrypt([]byte("wrong"))
	require.ErrorIs(t, err, ErrIncorrectPassword)

	// A failed password change leaves the old password working.
	err = v.ChangePassword([]byte("wrong"), []byte("new password"))
	require.ErrorIs(t, err, ErrIncorrectPassword)

	require.NoError(t, v.ChangePassword(
		[]byte(testPassword), []byte("new password"),
	))

	_, err = v.Decrypt([]byte(testPassword))
	require.ErrorIs(t, err, ErrIncorrectPassword)

	mnemonic, err = v.Decrypt([]byte("new password"))
	require.NoError(t, err)
	require.Equal(t, testMnemonic, mnemonic)
}

// TestEncryptTwiceLeavesStorageUnchanged asserts encrypting an already
// encrypted secret is refused without touching the stored bytes.
func TestEncryptTwiceLeavesStorageUnchanged(t *testing.T) {
	t.Parallel()

	v, store := newTestVault(t)

	require.NoError(t, v.SaveMnemonic(testMnemonic))
	require.NoError(t, v.Encrypt([]byte(testPassword)))

	before, err := store.Get(kvstore.KeyEncryptedMnemonic)
	require.NoError(t, err)

	err = v.Encrypt([]byte("another password"))
	require.ErrorIs(t, err, ErrAlreadyEncrypted)

	after, err := store.Get(kvstore.KeyEncryptedMnemonic)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

// TestSaveInvalidMnemonic asserts an invalid phrase writes nothing.
func TestSaveInvalidMnemonic(t *testing.T) {
	t.Parallel()

	v, store := newTestVault(t)

	invalid := []string{
		"",
		"abandon",
		"abandon abandon abandon abandon abandon abandon abandon " +
			"abandon abandon abandon abandon abandon",
		"not a real recovery phrase at all just twelve words long ok",
	}
	for _, mnemonic := range invalid {
		require.ErrorIs(t, v.SaveMnemonic(mnemonic), ErrInvalidMnemonic)
	}

	_, err := store.Get(kvstore.KeyEncryptedMnemonic)
	require.ErrorIs(t, err, kvstore.ErrNotFound)

	_, err = store.Get(kvstore.KeyDeviceID)
	require.ErrorIs(t, err, kvstore.ErrNotFound)
}

// TestSaveDoesNotOverwrite asserts an existing secret is kept.
func TestSaveDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	v, _ := newTestVault(t)

	created, err := v.CreateMnemonic(DefaultEntropyBits)
	require.NoError(t, err)
	require.Len(t, bytes.Fields([]byte(created)), 12)

	require.ErrorIs(t, v.SaveMnemonic(testMnemonic), ErrSecretExists)

	require.NoError(t, v.Encrypt([]byte(testPassword)))
	mnemonic, err := v.Decrypt([]byte(testPassword))
	require.NoError(t, err)
	require.Equal(t, created, mnemonic)
}

// TestIsVaultError asserts which failures collapse to the user facing text.
func TestIsVaultError(t *testing.T) {
	t.Parallel()

	require.True(t, IsVaultError(ErrIncorrectPassword))
	require.True(t, IsVaultError(ErrNotEncrypted))
	require.True(t, IsVaultError(ErrSecretNotFound))
	require.False(t, IsVaultError(ErrInvalidMnemonic))
	require.False(t, IsVaultError(nil))
}
