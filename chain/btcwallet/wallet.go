package btcwallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/chain/esplora"
)

// DefaultLookahead is how many addresses per branch are scanned for funds.
const DefaultLookahead = 10

// ChainSource is the chain backend a watch-only wallet reads from.
type ChainSource interface {
	GetAddress(ctx context.Context,
		address string) (*esplora.AddressInfo, error)

	GetAddressUTXOs(ctx context.Context,
		address string) ([]*esplora.UTXO, error)
}

// A compile-time check to ensure the esplora client is a ChainSource.
var _ ChainSource = (*esplora.Client)(nil)

// Balance is the balance of an account in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Total returns the confirmed plus unconfirmed balance.
func (b Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed
}

// AddressUTXO is an unspent output together with the address holding it.
type AddressUTXO struct {
	Address string `json:"address"`
	TxID    string `json:"txid"`
	Vout    uint32 `json:"vout"`
	Value   int64  `json:"value"`

	Confirmed bool `json:"confirmed"`
}

// WatchOnly is a native segwit account wallet built from its xpub.
type WatchOnly struct {
	params    *chaincfg.Params
	account   *hdkeychain.ExtendedKey
	lookahead uint32
}

// A compile-time check to ensure WatchOnly implements
// chain.WatchOnlyWallet.
var _ chain.WatchOnlyWallet = (*WatchOnly)(nil)

// NewWatchOnly parses xpub into a watch-only wallet for params.
func NewWatchOnly(xpub string, params *chaincfg.Params) (*WatchOnly, error) {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("unable to parse xpub: %w", err)
	}
	if key.IsPrivate() {
		return nil, ErrPrivateKey
	}

	return &WatchOnly{
		params:    params,
		account:   key,
		lookahead: DefaultLookahead,
	}, nil
}

// Family implements chain.WatchOnlyWallet.
func (w *WatchOnly) Family() chain.Family {
	return chain.FamilyBitcoin
}

// Address returns the p2wpkh address at branch/index of the account.
func (w *WatchOnly) Address(branch, index uint32) (string, error) {
	key, err := derivePath(w.account, []uint32{branch, index})
	if err != nil {
		return "", err
	}

	return p2wpkhAddress(key, w.params)
}

// ReceiveAddress implements chain.WatchOnlyWallet.
func (w *WatchOnly) ReceiveAddress() (string, error) {
	return w.Address(ExternalBranch, 0)
}

// addresses returns the scanned addresses of both branches.
func (w *WatchOnly) addresses() ([]string, error) {
	addrs := make([]string, 0, 2*w.lookahead)
	for _, branch := range []uint32{ExternalBranch, InternalBranch} {
		for i := uint32(0); i < w.lookahead; i++ {
			addr, err := w.Address(branch, i)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}
	}

	return addrs, nil
}

// Balance sums the balance of every scanned address.
func (w *WatchOnly) Balance(ctx context.Context,
	src ChainSource) (Balance, error) {

	addrs, err := w.addresses()
	if err != nil {
		return Balance{}, err
	}

	var balance Balance
	for _, addr := range addrs {
		info, err := src.GetAddress(ctx, addr)
		if err != nil {
			return Balance{}, fmt.Errorf("address %v: %w", addr, err)
		}

		balance.Confirmed += info.ChainStats.Balance()
		balance.Unconfirmed += info.MempoolStats.Balance()
	}

	log.Debugf("Scanned %d addresses, balance %d sat", len(addrs),
		balance.Total())

	return balance, nil
}

// UTXOs lists the unspent outputs of every scanned address.
func (w *WatchOnly) UTXOs(ctx context.Context,
	src ChainSource) ([]AddressUTXO, error) {

	addrs, err := w.addresses()
	if err != nil {
		return nil, err
	}

	var utxos []AddressUTXO
	for _, addr := range addrs {
		addrUTXOs, err := src.GetAddressUTXOs(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("address %v: %w", addr, err)
		}

		for _, u := range addrUTXOs {
			utxos = append(utxos, AddressUTXO{
				Address:   addr,
				TxID:      u.TxID,
				Vout:      u.Vout,
				Value:     u.Value,
				Confirmed: u.Status.Confirmed,
			})
		}
	}

	return utxos, nil
}

// p2wpkhAddress encodes the native segwit address of key.
func p2wpkhAddress(key *hdkeychain.ExtendedKey,
	params *chaincfg.Params) (string, error) {

	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", err
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), params,
	)
	if err != nil {
		return "", err
	}

	return addr.EncodeAddress(), nil
}
