package btcwallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

const (
	// BIP0084Purpose is the purpose of native segwit accounts.
	BIP0084Purpose = 84

	// ExternalBranch is the receive branch of an account.
	ExternalBranch = 0

	// InternalBranch is the change branch of an account.
	InternalBranch = 1
)

// ErrPrivateKey is returned when a watch-only wallet is handed a private
// extended key.
var ErrPrivateKey = errors.New("expected an extended public key")

// derivePath derives the given path from an extended key.
func derivePath(key *hdkeychain.ExtendedKey,
	path []uint32) (*hdkeychain.ExtendedKey, error) {

	var (
		currentKey = key
		err        error
	)
	for _, pathPart := range path {
		currentKey, err = currentKey.Derive(pathPart)
		if err != nil {
			return nil, err
		}
	}

	return currentKey, nil
}

// accountPath is m/84'/coin'/account'.
func accountPath(params *chaincfg.Params, account uint32) []uint32 {
	return []uint32{
		BIP0084Purpose + hdkeychain.HardenedKeyStart,
		params.HDCoinType + hdkeychain.HardenedKeyStart,
		account + hdkeychain.HardenedKeyStart,
	}
}

// deriveAccountKey derives the private account key from a BIP39 seed.
func deriveAccountKey(seed []byte, params *chaincfg.Params,
	account uint32) (*hdkeychain.ExtendedKey, error) {

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("unable to create master key: %w", err)
	}
	defer master.Zero()

	return derivePath(master, accountPath(params, account))
}

// DeriveAccountXpub returns the extended public key of account, the only
// key material a watch-only wallet needs.
func DeriveAccountXpub(seed []byte, params *chaincfg.Params,
	account uint32) (string, error) {

	accountKey, err := deriveAccountKey(seed, params, account)
	if err != nil {
		return "", err
	}
	defer accountKey.Zero()

	xpub, err := accountKey.Neuter()
	if err != nil {
		return "", err
	}

	return xpub.String(), nil
}
