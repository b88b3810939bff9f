package chain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"gopkg.in/retry.v1"
)

// TestNetworkKinds covers family lookup and params.
func TestNetworkKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range NetworkKinds() {
		parsed, err := ParseNetworkKind(string(kind))
		require.NoError(t, err)
		require.Equal(t, kind, parsed)
		require.NotEmpty(t, kind.Family())
	}

	_, err := ParseNetworkKind("dogecoin")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	params, err := BitcoinTestnet.BitcoinParams()
	require.NoError(t, err)
	require.Equal(t, &chaincfg.TestNet3Params, params)

	_, err = Ethereum.BitcoinParams()
	require.ErrorIs(t, err, ErrUnknownNetwork)

	chainID, err := Sepolia.EVMChainID()
	require.NoError(t, err)
	require.Equal(t, uint64(11155111), chainID)

	kind, ok := EVMNetworkByChainID(1)
	require.True(t, ok)
	require.Equal(t, Ethereum, kind)

	_, ok = EVMNetworkByChainID(56)
	require.False(t, ok)

	kind, err = BitcoinNetworkByName("regtest")
	require.NoError(t, err)
	require.Equal(t, FamilyBitcoin, kind.Family())
}

// TestLinearBackoff asserts sleeps grow linearly up to the cap and the
// attempt limit holds.
func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	timer := LinearBackoff{Step: time.Second, Max: 3 * time.Second}.
		NewTimer(time.Now())

	var sleeps []time.Duration
	for i := 0; i < 5; i++ {
		sleep, ok := timer.NextSleep(time.Now())
		require.True(t, ok)
		sleeps = append(sleeps, sleep)
	}
	require.Equal(t, []time.Duration{
		0, time.Second, 2 * time.Second, 3 * time.Second,
		3 * time.Second,
	}, sleeps)

	attempts := 0
	strategy := RetryStrategy(3, 0, 0)
	for a := retry.Start(strategy, nil); a.Next(); {
		attempts++
	}
	require.Equal(t, 3, attempts)
}
