package kvstore

import "fmt"

// Fixed keys of the host store.
const (
	// KeyEncryptedMnemonic holds the vault secret. Despite the name it is
	// plaintext for the short window between create/import and the first
	// encrypt.
	KeyEncryptedMnemonic = "encryptedMnemonic"

	// KeyDeviceID holds the per-installation KDF salt.
	KeyDeviceID = "deviceId"

	// KeyWhitelist holds the JSON array of auto-approved origins.
	KeyWhitelist = "whitelist"

	// KeyAcceptedTerms is set once the user accepted the terms of use.
	KeyAcceptedTerms = "acceptedTerms"

	// KeyCameraPermission is set once the user allowed camera access for
	// QR scanning.
	KeyCameraPermission = "cameraPermission"
)

// XpubKey returns the key of the extended public key stored for the given
// chain family and account, e.g. "xpub-btc-0".
func XpubKey(family string, account uint32) string {
	return fmt.Sprintf("xpub-%s-%d", family, account)
}

// OffchainAddressKey returns the key of the precomputed off-chain address of
// an account.
func OffchainAddressKey(account uint32) string {
	return fmt.Sprintf("arkAddress-%d", account)
}

// PermissionKey returns the key of the permission record of an origin.
func PermissionKey(origin string) string {
	return "permissions:" + origin
}
