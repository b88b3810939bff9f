package evmwallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// BIP0044Purpose is the purpose of the legacy account layout every EVM
	// wallet uses.
	BIP0044Purpose = 44

	// EthereumCoinType is the SLIP-44 coin type of ether.
	EthereumCoinType = 60
)

// ErrPrivateKey is returned when a watch-only wallet is handed a private
// extended key.
var ErrPrivateKey = errors.New("expected an extended public key")

// keyParams only pick the xpub/xprv version bytes of the serialized keys.
var keyParams = &chaincfg.MainNetParams

func derivePath(key *hdkeychain.ExtendedKey,
	path ...uint32) (*hdkeychain.ExtendedKey, error) {

	var err error
	for _, pathPart := range path {
		key, err = key.Derive(pathPart)
		if err != nil {
			return nil, err
		}
	}

	return key, nil
}

// deriveAccountKey derives the private key at m/44'/60'/account'.
func deriveAccountKey(seed []byte,
	account uint32) (*hdkeychain.ExtendedKey, error) {

	master, err := hdkeychain.NewMaster(seed, keyParams)
	if err != nil {
		return nil, fmt.Errorf("unable to create master key: %w", err)
	}
	defer master.Zero()

	return derivePath(
		master,
		BIP0044Purpose+hdkeychain.HardenedKeyStart,
		EthereumCoinType+hdkeychain.HardenedKeyStart,
		account+hdkeychain.HardenedKeyStart,
	)
}

// DeriveAccountXpub returns the extended public key of account.
func DeriveAccountXpub(seed []byte, account uint32) (string, error) {
	accountKey, err := deriveAccountKey(seed, account)
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

// firstAddressKey derives the key at 0/0 below an account key.
func firstAddressKey(
	account *hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {

	return derivePath(account, 0, 0)
}

// keyAddress returns the address of an extended key.
func keyAddress(key *hdkeychain.ExtendedKey) (common.Address, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return common.Address{}, err
	}

	ecPub, err := crypto.DecompressPubkey(pubKey.SerializeCompressed())
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*ecPub), nil
}

// privateKey converts an extended private key into a go-ethereum key.
func privateKey(key *hdkeychain.ExtendedKey) (*ecdsa.PrivateKey, error) {
	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	defer privKey.Zero()

	return crypto.ToECDSA(privKey.Serialize())
}
