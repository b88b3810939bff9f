package btcwallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/chain/esplora"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon " +
	"abandon abandon abandon abandon abandon about"

func testSeed() []byte {
	return bip39.NewSeed(testMnemonic, "")
}

// TestWatchOnlyAddresses checks the BIP84 test vectors.
func TestWatchOnlyAddresses(t *testing.T) {
	t.Parallel()

	xpub, err := DeriveAccountXpub(testSeed(), &chaincfg.MainNetParams, 0)
	require.NoError(t, err)

	w, err := NewWatchOnly(xpub, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.Equal(t, chain.FamilyBitcoin, w.Family())

	addr, err := w.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", addr)

	addr, err = w.Address(ExternalBranch, 1)
	require.NoError(t, err)
	require.Equal(t, "bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g", addr)

	// A different account yields different addresses.
	xpub1, err := DeriveAccountXpub(testSeed(), &chaincfg.MainNetParams, 1)
	require.NoError(t, err)
	require.NotEqual(t, xpub, xpub1)
}

// TestWatchOnlyRejectsPrivate asserts a private extended key is refused.
func TestWatchOnlyRejectsPrivate(t *testing.T) {
	t.Parallel()

	master, err := hdkeychain.NewMaster(testSeed(), &chaincfg.MainNetParams)
	require.NoError(t, err)

	_, err = NewWatchOnly(master.String(), &chaincfg.MainNetParams)
	require.ErrorIs(t, err, ErrPrivateKey)

	_, err = NewWatchOnly("xpubnonsense", &chaincfg.MainNetParams)
	require.Error(t, err)
}

// TestSignerSignMessage asserts a signature verifies against the receive
// address the watch-only wallet reports.
func TestSignerSignMessage(t *testing.T) {
	t.Parallel()

	params := &chaincfg.RegressionNetParams
	signer, err := NewSigner(testSeed(), params, 0)
	require.NoError(t, err)

	xpub, err := DeriveAccountXpub(testSeed(), params, 0)
	require.NoError(t, err)
	w, err := NewWatchOnly(xpub, params)
	require.NoError(t, err)

	addr, err := signer.ReceiveAddress()
	require.NoError(t, err)
	watchAddr, err := w.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, watchAddr, addr)

	msg := []byte("satchel proof of ownership")
	sig, err := signer.SignMessage(msg)
	require.NoError(t, err)

	ok, err := VerifyMessage(addr, msg, sig, params)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyMessage(addr, []byte("other"), sig, params)
	require.NoError(t, err)
	require.False(t, ok)

	zsig, err := Reencode(sig, EncodingZBase32)
	require.NoError(t, err)
	require.NotEqual(t, string(sig), zsig)

	ok, err = VerifyMessage(addr, msg, []byte(zsig), params)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = Reencode(sig, "base58")
	require.Error(t, err)

	signer.Wipe()
	require.Nil(t, signer.account)
}

// fakeSource serves canned address data.
type fakeSource struct {
	infos map[string]*esplora.AddressInfo
	utxos map[string][]*esplora.UTXO
	fail  bool
}

func (f *fakeSource) GetAddress(_ context.Context,
	addr string) (*esplora.AddressInfo, error) {

	if f.fail {
		return nil, errors.New("backend down")
	}
	if info, ok := f.infos[addr]; ok {
		return info, nil
	}

	return &esplora.AddressInfo{Address: addr}, nil
}

func (f *fakeSource) GetAddressUTXOs(_ context.Context,
	addr string) ([]*esplora.UTXO, error) {

	return f.utxos[addr], nil
}

// TestWatchOnlyBalance sums funds across the scanned branches.
func TestWatchOnlyBalance(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	xpub, err := DeriveAccountXpub(testSeed(), params, 0)
	require.NoError(t, err)
	w, err := NewWatchOnly(xpub, params)
	require.NoError(t, err)

	receive, err := w.Address(ExternalBranch, 0)
	require.NoError(t, err)
	change, err := w.Address(InternalBranch, 3)
	require.NoError(t, err)

	src := &fakeSource{
		infos: map[string]*esplora.AddressInfo{
			receive: {
				ChainStats: esplora.Stats{
					FundedTxoSum: 10000,
					SpentTxoSum:  2500,
				},
			},
			change: {
				MempoolStats: esplora.Stats{FundedTxoSum: 700},
			},
		},
		utxos: map[string][]*esplora.UTXO{
			receive: {{TxID: "aa", Vout: 0, Value: 7500,
				Status: esplora.TxStatus{Confirmed: true}}},
			change: {{TxID: "bb", Vout: 1, Value: 700}},
		},
	}

	balance, err := w.Balance(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, Balance{Confirmed: 7500, Unconfirmed: 700}, balance)
	require.Equal(t, int64(8200), balance.Total())

	utxos, err := w.UTXOs(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	require.Equal(t, receive, utxos[0].Address)
	require.True(t, utxos[0].Confirmed)
	require.Equal(t, change, utxos[1].Address)

	src.fail = true
	_, err = w.Balance(context.Background(), src)
	require.Error(t, err)
}
