package walletcache

import (
	"strconv"
	"sync"

	"github.com/satchelwallet/satchel/chain"
	"golang.org/x/sync/singleflight"
)

// Builder creates the watch-only wallet of an account on network.
type Builder func(account uint32,
	network chain.NetworkKind) (chain.WatchOnlyWallet, error)

// Cache holds the watch-only wallet handles of the host, keyed by account
// number only. Handles are built on first use and never invalidated, so a
// network switch keeps returning the handle built for the first network.
type Cache struct {
	build Builder

	mu      sync.RWMutex
	wallets map[uint32]chain.WatchOnlyWallet

	group singleflight.Group
}

// New returns an empty cache that builds missing handles with build.
func New(build Builder) *Cache {
	return &Cache{
		build:   build,
		wallets: make(map[uint32]chain.WatchOnlyWallet),
	}
}

// Get returns the cached handle of account, building it for network if
// needed. network only matters for the first build of an account.
// Concurrent callers for the same account share one build.
func (c *Cache) Get(account uint32,
	network chain.NetworkKind) (chain.WatchOnlyWallet, error) {

	c.mu.RLock()
	w, ok := c.wallets[account]
	c.mu.RUnlock()
	if ok {
		return w, nil
	}

	key := strconv.FormatUint(uint64(account), 10)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.RLock()
		w, ok := c.wallets[account]
		c.mu.RUnlock()
		if ok {
			return w, nil
		}

		w, err := c.build(account, network)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.wallets[account] = w
		c.mu.Unlock()

		log.Debugf("Cached %v watch-only wallet for account %d",
			network, account)

		return w, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(chain.WatchOnlyWallet), nil
}

// Len returns the number of cached handles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.wallets)
}
