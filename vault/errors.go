package vault

import "errors"

// UserFacingError is the only text a vault failure is ever shown as. Which
// of the failure cases happened is never revealed to the user.
const UserFacingError = "Incorrect password"

var (
	// ErrSecretNotFound is returned when no secret is stored.
	ErrSecretNotFound = errors.New("no secret stored")

	// ErrNotEncrypted is returned when decrypting a secret that carries no
	// encryption marker.
	ErrNotEncrypted = errors.New("secret is not encrypted")

	// ErrAlreadyEncrypted is returned when encrypting a secret that already
	// carries the encryption marker. Storage is left untouched.
	ErrAlreadyEncrypted = errors.New("secret is already encrypted")

	// ErrIncorrectPassword is returned when the password does not open the
	// stored ciphertext, or the ciphertext is corrupted.
	ErrIncorrectPassword = errors.New("incorrect password")

	// ErrInvalidMnemonic is returned when a recovery phrase fails
	// validation.
	ErrInvalidMnemonic = errors.New("invalid recovery phrase")

	// ErrSecretExists is returned when saving a new secret over an existing
	// one.
	ErrSecretExists = errors.New("a secret is already stored")

	// ErrEmptySecret is returned when encrypting an empty secret.
	ErrEmptySecret = errors.New("empty secret")

	// ErrEmptyPassword is returned when encrypting with an empty password.
	ErrEmptyPassword = errors.New("empty password")

	// ErrMissingDeviceID is returned when encrypting without a salt.
	ErrMissingDeviceID = errors.New("missing device id")
)

// vaultErrors are the errors collapsed into UserFacingError.
var vaultErrors = []error{
	ErrSecretNotFound, ErrNotEncrypted, ErrIncorrectPassword,
	ErrEmptyPassword,
}

// IsVaultError reports whether err is one of the password-related vault
// failures that must be shown to the user as UserFacingError.
func IsVaultError(err error) bool {
	for _, vaultErr := range vaultErrors {
		if errors.Is(err, vaultErr) {
			return true
		}
	}

	return false
}
