package btcwallet

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/satchelwallet/satchel/chain"
	"github.com/tv42/zbase32"
)

// messageMagic prefixes every signed message.
const messageMagic = "Bitcoin Signed Message:\n"

// compactSigSize is the length of a recoverable compact signature.
const compactSigSize = 65

// Text encodings of a compact message signature.
const (
	// EncodingBase64 is the signmessage encoding of bitcoind.
	EncodingBase64 = "base64"

	// EncodingZBase32 is the human friendly encoding lnd uses for signed
	// messages.
	EncodingZBase32 = "zbase32"
)

// Signer is a native segwit account wallet holding the private account key.
// It signs with the key of the first receive address.
type Signer struct {
	params  *chaincfg.Params
	account *hdkeychain.ExtendedKey
}

// A compile-time check to ensure Signer implements chain.SigningWallet.
var _ chain.SigningWallet = (*Signer)(nil)

// NewSigner derives the signing wallet of account from a BIP39 seed.
func NewSigner(seed []byte, params *chaincfg.Params,
	account uint32) (*Signer, error) {

	accountKey, err := deriveAccountKey(seed, params, account)
	if err != nil {
		return nil, err
	}

	return &Signer{
		params:  params,
		account: accountKey,
	}, nil
}

// Family implements chain.SigningWallet.
func (s *Signer) Family() chain.Family {
	return chain.FamilyBitcoin
}

func (s *Signer) receiveKey() (*hdkeychain.ExtendedKey, error) {
	return derivePath(s.account, []uint32{ExternalBranch, 0})
}

// ReceiveAddress implements chain.SigningWallet.
func (s *Signer) ReceiveAddress() (string, error) {
	key, err := s.receiveKey()
	if err != nil {
		return "", err
	}
	defer key.Zero()

	return p2wpkhAddress(key, s.params)
}

// messageHash is the double sha256 of the magic-prefixed message.
func messageHash(msg []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, messageMagic); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, msg); err != nil {
		return nil, err
	}

	return chainhash.DoubleHashB(buf.Bytes()), nil
}

// SignMessage implements chain.SigningWallet. It returns the base64 compact
// signature of msg as produced by signmessage.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	key, err := s.receiveKey()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	privKey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	defer privKey.Zero()

	hash, err := messageHash(msg)
	if err != nil {
		return nil, err
	}

	sig := ecdsa.SignCompact(privKey, hash, true)

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(sig)))
	base64.StdEncoding.Encode(encoded, sig)

	return encoded, nil
}

// Wipe implements chain.SigningWallet.
func (s *Signer) Wipe() {
	if s.account != nil {
		s.account.Zero()
		s.account = nil
	}
}

// Reencode converts a base64 compact signature as returned by SignMessage to
// encoding.
func Reencode(sig []byte, encoding string) (string, error) {
	switch encoding {
	case "", EncodingBase64:
		return string(sig), nil

	case EncodingZBase32:
		rawSig, err := base64.StdEncoding.DecodeString(string(sig))
		if err != nil {
			return "", err
		}

		return zbase32.EncodeToString(rawSig), nil

	default:
		return "", fmt.Errorf("unknown signature encoding %q", encoding)
	}
}

// decodeSignature accepts a compact signature in either text encoding.
func decodeSignature(sig []byte) ([]byte, error) {
	rawSig, err := base64.StdEncoding.DecodeString(string(sig))
	if err == nil && len(rawSig) == compactSigSize {
		return rawSig, nil
	}

	return zbase32.DecodeString(string(sig))
}

// VerifyMessage checks a base64 or zbase32 compact signature of msg against
// the p2wpkh address addr.
func VerifyMessage(addr string, msg, sig []byte,
	params *chaincfg.Params) (bool, error) {

	rawSig, err := decodeSignature(sig)
	if err != nil {
		return false, err
	}

	hash, err := messageHash(msg)
	if err != nil {
		return false, err
	}

	pubKey, _, err := ecdsa.RecoverCompact(rawSig, hash)
	if err != nil {
		return false, err
	}

	return pubKeyAddress(pubKey, params) == addr, nil
}

func pubKeyAddress(pubKey *btcec.PublicKey, params *chaincfg.Params) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), params,
	)
	if err != nil {
		return ""
	}

	return addr.EncodeAddress()
}
