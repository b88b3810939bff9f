package chain

import (
	"errors"
)

// ErrWatchOnly is returned when asking a watch-only wallet to sign.
var ErrWatchOnly = errors.New("wallet holds no private keys")

// WatchOnlyWallet is a wallet handle built from public key material only.
// Handles are cheap to keep around and safe to cache.
type WatchOnlyWallet interface {
	// Family is the address strategy the wallet serves.
	Family() Family

	// ReceiveAddress returns the first receive address of the account.
	ReceiveAddress() (string, error)
}

// SigningWallet is a wallet handle holding private key material. It is built
// from a just-decrypted secret for a single operation and must be wiped
// right after.
type SigningWallet interface {
	// Family is the address strategy the wallet serves.
	Family() Family

	// ReceiveAddress returns the first receive address of the account.
	ReceiveAddress() (string, error)

	// SignMessage signs msg with the family's message signing scheme.
	SignMessage(msg []byte) ([]byte, error)

	// Wipe zeroes the private key material. The wallet must not be used
	// afterwards.
	Wipe()
}
