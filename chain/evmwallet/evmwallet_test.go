package evmwallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/satchelwallet/satchel/chain"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

// testAddress is the m/44'/60'/0'/0/0 address of testMnemonic.
const testAddress = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"

func testSeed() []byte {
	return bip39.NewSeed(testMnemonic, "")
}

// TestWatchOnlyAddress derives the well known first account address from
// the account xpub alone.
func TestWatchOnlyAddress(t *testing.T) {
	t.Parallel()

	xpub, err := DeriveAccountXpub(testSeed(), 0)
	require.NoError(t, err)

	w, err := NewWatchOnly(xpub)
	require.NoError(t, err)
	require.Equal(t, chain.FamilyEVM, w.Family())

	addr, err := w.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, testAddress, addr)

	xpub1, err := DeriveAccountXpub(testSeed(), 1)
	require.NoError(t, err)
	w1, err := NewWatchOnly(xpub1)
	require.NoError(t, err)
	require.NotEqual(t, w.Address(), w1.Address())
}

func TestWatchOnlyRejectsPrivate(t *testing.T) {
	t.Parallel()

	master, err := hdkeychain.NewMaster(testSeed(), keyParams)
	require.NoError(t, err)

	_, err = NewWatchOnly(master.String())
	require.ErrorIs(t, err, ErrPrivateKey)
}

// TestPersonalSign asserts the signer and the watch-only wallet agree on the
// address and a signature recovers to it.
func TestPersonalSign(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner(testSeed(), 0)
	require.NoError(t, err)

	addr, err := signer.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, testAddress, addr)

	msg := []byte("hello satchel")
	sig, err := signer.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Contains(t, []byte{27, 28}, sig[64])

	recovered, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testAddress), recovered)

	recovered, err = RecoverAddress([]byte("tampered"), sig)
	require.NoError(t, err)
	require.NotEqual(t, common.HexToAddress(testAddress), recovered)

	_, err = RecoverAddress(msg, sig[:64])
	require.ErrorIs(t, err, ErrInvalidSignature)

	signer.Wipe()
	require.Nil(t, signer.key)
	signer.Wipe()
}

type fakeBalances struct {
	balances map[common.Address]*big.Int
}

func (f *fakeBalances) BalanceAt(_ context.Context, account common.Address,
	_ *big.Int) (*big.Int, error) {

	balance, ok := f.balances[account]
	if !ok {
		return nil, errors.New("unknown account")
	}

	return balance, nil
}

func TestWatchOnlyBalance(t *testing.T) {
	t.Parallel()

	xpub, err := DeriveAccountXpub(testSeed(), 0)
	require.NoError(t, err)
	w, err := NewWatchOnly(xpub)
	require.NoError(t, err)

	src := &fakeBalances{balances: map[common.Address]*big.Int{
		common.HexToAddress(testAddress): big.NewInt(42),
	}}

	balance, err := w.Balance(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, int64(42), balance.Int64())

	delete(src.balances, common.HexToAddress(testAddress))
	_, err = w.Balance(context.Background(), src)
	require.Error(t, err)
}
