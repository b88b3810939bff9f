package walletcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satchelwallet/satchel/chain"
	"github.com/stretchr/testify/require"
)

type stubWallet struct {
	family  chain.Family
	address string
}

func (s *stubWallet) Family() chain.Family { return s.family }

func (s *stubWallet) ReceiveAddress() (string, error) { return s.address, nil }

// TestCacheBuildsOnce asserts concurrent lookups of one account share a
// single build.
func TestCacheBuildsOnce(t *testing.T) {
	t.Parallel()

	var builds int32
	release := make(chan struct{})
	cache := New(func(account uint32,
		network chain.NetworkKind) (chain.WatchOnlyWallet, error) {

		atomic.AddInt32(&builds, 1)
		<-release

		return &stubWallet{
			family:  chain.FamilyBitcoin,
			address: fmt.Sprintf("addr-%d", account),
		}, nil
	})

	var wg sync.WaitGroup
	results := make([]chain.WatchOnlyWallet, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			w, err := cache.Get(3, chain.Bitcoin)
			require.NoError(t, err)
			results[i] = w
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&builds))
	for _, w := range results {
		require.Same(t, results[0], w)
	}
	require.Equal(t, 1, cache.Len())
}

// TestCacheKeyedByAccountOnly pins down that a handle built for one network
// is returned after the caller switched networks.
func TestCacheKeyedByAccountOnly(t *testing.T) {
	t.Parallel()

	cache := New(func(account uint32,
		network chain.NetworkKind) (chain.WatchOnlyWallet, error) {

		return &stubWallet{
			family:  network.Family(),
			address: fmt.Sprintf("%v-%d", network, account),
		}, nil
	})

	w, err := cache.Get(0, chain.Bitcoin)
	require.NoError(t, err)

	again, err := cache.Get(0, chain.BitcoinTestnet)
	require.NoError(t, err)
	require.Same(t, w, again)

	addr, err := again.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, "bitcoin-0", addr)

	other, err := cache.Get(1, chain.BitcoinTestnet)
	require.NoError(t, err)
	addr, err = other.ReceiveAddress()
	require.NoError(t, err)
	require.Equal(t, "bitcoin-testnet-1", addr)
}

func TestCacheBuildError(t *testing.T) {
	t.Parallel()

	fail := true
	cache := New(func(account uint32,
		network chain.NetworkKind) (chain.WatchOnlyWallet, error) {

		if fail {
			return nil, errors.New("no xpub")
		}

		return &stubWallet{family: chain.FamilyEVM}, nil
	})

	_, err := cache.Get(0, chain.Bitcoin)
	require.Error(t, err)
	require.Zero(t, cache.Len())

	fail = false
	_, err = cache.Get(0, chain.Bitcoin)
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())
}

// recordingConnector logs every connector call and tracks live
// connections.
type recordingConnector struct {
	mu      sync.Mutex
	events  []string
	live    int
	maxLive int

	connectErr error
}

func (r *recordingConnector) Connect(_ context.Context, id Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connectErr != nil {
		return r.connectErr
	}

	r.live++
	if r.live > r.maxLive {
		r.maxLive = r.live
	}
	r.events = append(r.events, "connect "+id.Secret)

	return nil
}

func (r *recordingConnector) Disconnect(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live--
	r.events = append(r.events, "disconnect")

	return nil
}

func noop(context.Context) error { return nil }

// TestConnLockSwitchIdentity runs identities A, B, A and asserts each switch
// disconnects first and there is never more than one live connection.
func TestConnLockSwitchIdentity(t *testing.T) {
	t.Parallel()

	conn := &recordingConnector{}
	var reconnects int
	lock := NewConnLock(ConnLockConfig{
		Connector:   conn,
		OnReconnect: func() { reconnects++ },
	})

	ctx := context.Background()
	a := Identity{Secret: "A", Network: chain.Liquid}
	b := Identity{Secret: "B", Network: chain.Liquid}

	require.NoError(t, lock.Do(ctx, a, noop))
	require.NoError(t, lock.Do(ctx, a, noop))
	require.NoError(t, lock.Do(ctx, b, noop))
	require.NoError(t, lock.Do(ctx, a, noop))

	require.Equal(t, []string{
		"connect A",
		"disconnect", "connect B",
		"disconnect", "connect A",
	}, conn.events)
	require.Equal(t, 1, conn.maxLive)
	require.Equal(t, 2, reconnects)

	// Same secret on another network is another identity.
	require.NoError(t, lock.Do(
		ctx, Identity{Secret: "A", Network: chain.Lightning}, noop,
	))
	require.Equal(t, 3, reconnects)

	require.NoError(t, lock.Close(ctx))
	require.Zero(t, conn.live)
	require.NoError(t, lock.Close(ctx))
}

// TestConnLockReleasedOnFailure asserts a failing or panicking operation
// does not wedge later callers.
func TestConnLockReleasedOnFailure(t *testing.T) {
	t.Parallel()

	conn := &recordingConnector{}
	lock := NewConnLock(ConnLockConfig{Connector: conn})
	ctx := context.Background()
	id := Identity{Secret: "A", Network: chain.Lightning}

	errOp := errors.New("operation failed")
	err := lock.Do(ctx, id, func(context.Context) error {
		return errOp
	})
	require.ErrorIs(t, err, errOp)

	require.Panics(t, func() {
		_ = lock.Do(ctx, id, func(context.Context) error {
			panic("boom")
		})
	})

	conn.connectErr = errors.New("unreachable")
	err = lock.Do(ctx, Identity{Secret: "B"}, noop)
	require.ErrorIs(t, err, conn.connectErr)

	conn.connectErr = nil
	ran := false
	require.NoError(t, lock.Do(ctx, id, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

// TestConnLockSerializes asserts operations never overlap and a waiter
// honours its context.
func TestConnLockSerializes(t *testing.T) {
	t.Parallel()

	lock := NewConnLock(ConnLockConfig{Connector: &recordingConnector{}})
	id := Identity{Secret: "A", Network: chain.Liquid}

	var (
		inFlight int32
		overlap  int32
		wg       sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := lock.Do(context.Background(), id,
				func(context.Context) error {
					if atomic.AddInt32(&inFlight, 1) > 1 {
						atomic.StoreInt32(&overlap, 1)
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&inFlight, -1)

					return nil
				},
			)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Zero(t, atomic.LoadInt32(&overlap))

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = lock.Do(context.Background(), id,
			func(context.Context) error {
				close(held)
				<-hold
				return nil
			},
		)
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(),
		10*time.Millisecond)
	defer cancel()

	err := lock.Do(ctx, id, noop)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}
