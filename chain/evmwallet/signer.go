package evmwallet

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/satchelwallet/satchel/chain"
)

// ErrInvalidSignature is returned for a signature that is not 65 bytes with
// a 27/28 recovery id.
var ErrInvalidSignature = errors.New("invalid signature")

// Signer is an EVM account wallet holding the private key of the account
// address.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// A compile-time check to ensure Signer implements chain.SigningWallet.
var _ chain.SigningWallet = (*Signer)(nil)

// NewSigner derives the signing wallet of account from a BIP39 seed.
func NewSigner(seed []byte, account uint32) (*Signer, error) {
	accountKey, err := deriveAccountKey(seed, account)
	if err != nil {
		return nil, err
	}
	defer accountKey.Zero()

	key, err := firstAddressKey(accountKey)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	privKey, err := privateKey(key)
	if err != nil {
		return nil, err
	}

	return &Signer{
		key:     privKey,
		address: crypto.PubkeyToAddress(privKey.PublicKey),
	}, nil
}

// Family implements chain.SigningWallet.
func (s *Signer) Family() chain.Family {
	return chain.FamilyEVM
}

// ReceiveAddress implements chain.SigningWallet.
func (s *Signer) ReceiveAddress() (string, error) {
	return s.address.Hex(), nil
}

// SignMessage implements chain.SigningWallet with personal_sign semantics:
// the signature covers the EIP-191 text hash of msg and carries a 27/28
// recovery id.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

// Wipe implements chain.SigningWallet.
func (s *Signer) Wipe() {
	if s.key == nil {
		return
	}

	s.key.D.SetInt64(0)
	s.key = nil
}

// RecoverAddress returns the address that produced a personal_sign
// signature of msg.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}

	v := sig[crypto.RecoveryIDOffset]
	if v != 27 && v != 28 {
		return common.Address{}, ErrInvalidSignature
	}

	rawSig := make([]byte, len(sig))
	copy(rawSig, sig)
	rawSig[crypto.RecoveryIDOffset] -= 27

	pubKey, err := crypto.SigToPub(accounts.TextHash(msg), rawSig)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}
