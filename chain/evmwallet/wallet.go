package evmwallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/satchelwallet/satchel/chain"
)

// BalanceSource is the EVM backend a watch-only wallet reads balances from.
type BalanceSource interface {
	BalanceAt(ctx context.Context, account common.Address,
		blockNumber *big.Int) (*big.Int, error)
}

// A compile-time check to ensure the go-ethereum client is a BalanceSource.
var _ BalanceSource = (*ethclient.Client)(nil)

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to dial %v: %w", url, err)
	}

	return client, nil
}

// WatchOnly is an EVM account wallet built from its xpub.
type WatchOnly struct {
	address common.Address
}

// A compile-time check to ensure WatchOnly implements
// chain.WatchOnlyWallet.
var _ chain.WatchOnlyWallet = (*WatchOnly)(nil)

// NewWatchOnly parses xpub and derives the account address.
func NewWatchOnly(xpub string) (*WatchOnly, error) {
	account, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("unable to parse xpub: %w", err)
	}
	if account.IsPrivate() {
		return nil, ErrPrivateKey
	}

	key, err := firstAddressKey(account)
	if err != nil {
		return nil, err
	}

	addr, err := keyAddress(key)
	if err != nil {
		return nil, err
	}

	return &WatchOnly{address: addr}, nil
}

// Family implements chain.WatchOnlyWallet.
func (w *WatchOnly) Family() chain.Family {
	return chain.FamilyEVM
}

// Address returns the account address.
func (w *WatchOnly) Address() common.Address {
	return w.address
}

// ReceiveAddress implements chain.WatchOnlyWallet. The address is in its
// checksummed hex form.
func (w *WatchOnly) ReceiveAddress() (string, error) {
	return w.address.Hex(), nil
}

// Balance returns the latest balance of the account in wei.
func (w *WatchOnly) Balance(ctx context.Context,
	src BalanceSource) (*big.Int, error) {

	balance, err := src.BalanceAt(ctx, w.address, nil)
	if err != nil {
		return nil, fmt.Errorf("address %v: %w", w.address.Hex(), err)
	}

	log.Debugf("Balance of %v is %v wei", w.address.Hex(), balance)

	return balance, nil
}
