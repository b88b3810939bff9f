package satchel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/satchelwallet/satchel/approval"
	"github.com/satchelwallet/satchel/build"
	"github.com/satchelwallet/satchel/chain"
	"github.com/satchelwallet/satchel/chain/btcwallet"
	"github.com/satchelwallet/satchel/chain/evmwallet"
	"github.com/satchelwallet/satchel/challenge"
	"github.com/satchelwallet/satchel/dispatch"
	"github.com/satchelwallet/satchel/gate"
	"github.com/satchelwallet/satchel/kvstore"
	"github.com/satchelwallet/satchel/monitoring"
	"github.com/satchelwallet/satchel/vault"
	"github.com/satchelwallet/satchel/walletcache"
	"github.com/tyler-smith/go-bip39"
	"gopkg.in/retry.v1"
)

var (
	// ErrNoXpub is returned when an account has no stored extended public
	// key for a chain family.
	ErrNoXpub = errors.New("account has no extended public key")

	// ErrNoOffchainAddress is returned when an account has no stored
	// off-chain address.
	ErrNoOffchainAddress = errors.New("account has no off-chain address")

	// ErrNoSDK is returned for liquid and lightning requests when no
	// single-connection SDK is configured.
	ErrNoSDK = errors.New("no wallet SDK configured")

	// ErrNoBackend is returned when a balance is asked for a chain without
	// a configured backend.
	ErrNoBackend = errors.New("no chain backend configured")
)

// SDK is the single-connection wallet SDK serving the liquid and lightning
// networks.
type SDK interface {
	walletcache.Connector

	// ReceiveAddress returns a receive address of the connected wallet on
	// network.
	ReceiveAddress(ctx context.Context,
		network chain.NetworkKind) (string, error)
}

// RetryConfig bounds the attempts of a call through the SDK.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// HostConfig holds the dependencies of a WalletHost.
type HostConfig struct {
	// Store is the persistent key-value store.
	Store kvstore.Store

	// ScryptParams is the vault KDF cost.
	ScryptParams vault.ScryptParams

	// BitcoinNetwork is the bitcoin network onboarding derives xpubs for.
	BitcoinNetwork chain.NetworkKind

	// EVMNetwork is the EVM network the host starts on.
	EVMNetwork chain.NetworkKind

	// ChainSource serves bitcoin balances and utxos. Optional.
	ChainSource btcwallet.ChainSource

	// EVMBalances serves EVM balances. Optional.
	EVMBalances evmwallet.BalanceSource

	// SDK serves the liquid and lightning networks. Optional.
	SDK SDK

	// Retry bounds SDK call attempts.
	Retry RetryConfig

	// Clock drives approval timeouts and timestamps.
	Clock clock.Clock

	// Opener brings up the approval surface.
	Opener approval.Opener

	// ApprovalTimeout bounds how long an approval waits. Zero disables
	// it.
	ApprovalTimeout time.Duration

	// MaxPendingApprovals caps the outstanding approvals.
	MaxPendingApprovals int

	// Popup sizes the approval surface.
	Popup approval.Geometry

	// OnChallenge, if set, is called when a password challenge opens.
	OnChallenge func(challenge.Challenge)

	// Metrics records host metrics. Optional.
	Metrics *monitoring.Metrics

	// Loggers are the subsystem loggers the debugLevel message manages.
	// Optional.
	Loggers *build.SubLoggerManager
}

// WalletHost is the background process. It owns every store, cache and lock
// and serves both the control channel and the dapp relay.
type WalletHost struct {
	cfg HostConfig

	store       kvstore.Store
	vault       *vault.Vault
	challenges  *challenge.Rendezvous
	wallets     *walletcache.Cache
	connLock    *walletcache.ConnLock
	whitelist   *gate.Whitelist
	permissions *gate.Permissions
	approvals   *approval.Manager
	dispatcher  *dispatch.Dispatcher

	// evmMtx guards evmNetwork, which wallet_switchEthereumChain moves.
	evmMtx     sync.RWMutex
	evmNetwork chain.NetworkKind

	// windowMtx guards window, the UI window last reported focused.
	windowMtx sync.Mutex
	window    approval.Window
}

// NewWalletHost builds the host and registers every control handler.
func NewWalletHost(cfg HostConfig) (*WalletHost, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Retry.Attempts < 1 {
		cfg.Retry.Attempts = 1
	}
	if cfg.BitcoinNetwork.Family() != chain.FamilyBitcoin {
		return nil, fmt.Errorf("%w: %q is not a bitcoin network",
			chain.ErrUnknownNetwork, cfg.BitcoinNetwork)
	}
	if cfg.EVMNetwork.Family() != chain.FamilyEVM {
		return nil, fmt.Errorf("%w: %q is not an EVM network",
			chain.ErrUnknownNetwork, cfg.EVMNetwork)
	}

	metrics := cfg.Metrics
	v := vault.New(cfg.Store, cfg.ScryptParams)

	h := &WalletHost{
		cfg:   cfg,
		store: cfg.Store,
		vault: v,
		challenges: challenge.New(challenge.Config{
			Decrypter: v,
			Clock:     cfg.Clock,
			OnOpen:    cfg.OnChallenge,
		}),
		whitelist:   gate.NewWhitelist(cfg.Store),
		permissions: gate.NewPermissions(cfg.Store, cfg.Clock),
		dispatcher: dispatch.New(dispatch.Config{
			OnDispatch: metrics.ObserveDispatch,
		}),
		evmNetwork: cfg.EVMNetwork,
	}
	h.approvals = approval.NewManager(approval.Config{
		Opener:        cfg.Opener,
		Clock:         cfg.Clock,
		Timeout:       cfg.ApprovalTimeout,
		MaxPending:    cfg.MaxPendingApprovals,
		Geometry:      cfg.Popup,
		CurrentWindow: h.currentWindow,
		OnOutcome: func(method string, outcome approval.Outcome) {
			metrics.ObserveApproval(method, outcome.String())
		},
	})
	h.wallets = walletcache.New(h.buildBitcoinWallet)

	if cfg.SDK != nil {
		h.connLock = walletcache.NewConnLock(walletcache.ConnLockConfig{
			Connector:   cfg.SDK,
			OnReconnect: metrics.IncrementReconnects,
		})
	}

	if err := h.registerControlHandlers(); err != nil {
		return nil, err
	}

	return h, nil
}

// SetCurrentWindow records the focused UI window. Approval popups open
// offset from it.
func (h *WalletHost) SetCurrentWindow(window approval.Window) {
	h.windowMtx.Lock()
	defer h.windowMtx.Unlock()

	h.window = window
}

func (h *WalletHost) currentWindow() approval.Window {
	h.windowMtx.Lock()
	defer h.windowMtx.Unlock()

	return h.window
}

// Dispatcher returns the control channel dispatch table.
func (h *WalletHost) Dispatcher() *dispatch.Dispatcher {
	return h.dispatcher
}

// Approvals returns the pending approval manager.
func (h *WalletHost) Approvals() *approval.Manager {
	return h.approvals
}

// Challenges returns the password challenge rendezvous.
func (h *WalletHost) Challenges() *challenge.Rendezvous {
	return h.challenges
}

// Stop cancels every running control handler and closes the SDK
// connection.
func (h *WalletHost) Stop() error {
	h.dispatcher.Stop()

	if h.connLock == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return h.connLock.Close(ctx)
}

// EVMNetwork returns the EVM network dapps currently see.
func (h *WalletHost) EVMNetwork() chain.NetworkKind {
	h.evmMtx.RLock()
	defer h.evmMtx.RUnlock()

	return h.evmNetwork
}

func (h *WalletHost) setEVMNetwork(network chain.NetworkKind) {
	h.evmMtx.Lock()
	defer h.evmMtx.Unlock()

	h.evmNetwork = network
}

// xpub reads the stored extended public key of account for family.
func (h *WalletHost) xpub(family chain.Family, account uint32) (string,
	error) {

	raw, err := h.store.Get(kvstore.XpubKey(string(family), account))
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return "", fmt.Errorf("%w: %v account %d", ErrNoXpub, family,
			account)

	case err != nil:
		return "", err
	}

	return string(raw), nil
}

// buildBitcoinWallet is the wallet cache builder.
func (h *WalletHost) buildBitcoinWallet(account uint32,
	network chain.NetworkKind) (chain.WatchOnlyWallet, error) {

	return h.bitcoinWatchOnly(account, network)
}

func (h *WalletHost) bitcoinWatchOnly(account uint32,
	network chain.NetworkKind) (*btcwallet.WatchOnly, error) {

	params, err := network.BitcoinParams()
	if err != nil {
		return nil, err
	}

	xpub, err := h.xpub(chain.FamilyBitcoin, account)
	if err != nil {
		return nil, err
	}

	return btcwallet.NewWatchOnly(xpub, params)
}

// cachedBitcoinWallet returns the cached watch-only wallet of account,
// building it for network on first use.
func (h *WalletHost) cachedBitcoinWallet(account uint32,
	network chain.NetworkKind) (*btcwallet.WatchOnly, error) {

	w, err := h.wallets.Get(account, network)
	if err != nil {
		return nil, err
	}

	btcWallet, ok := w.(*btcwallet.WatchOnly)
	if !ok {
		return nil, fmt.Errorf("account %d holds a %v wallet", account,
			w.Family())
	}

	return btcWallet, nil
}

func (h *WalletHost) evmWatchOnly(account uint32) (*evmwallet.WatchOnly,
	error) {

	xpub, err := h.xpub(chain.FamilyEVM, account)
	if err != nil {
		return nil, err
	}

	return evmwallet.NewWatchOnly(xpub)
}

// Address resolves the receive address of account on network. Bitcoin
// networks read the cached watch-only wallet, EVM networks derive from the
// stored xpub, ark reads the stored off-chain address and liquid and
// lightning go through the SDK.
func (h *WalletHost) Address(ctx context.Context, network chain.NetworkKind,
	account uint32) (string, error) {

	switch network.Family() {
	case chain.FamilyBitcoin:
		w, err := h.cachedBitcoinWallet(account, network)
		if err != nil {
			return "", err
		}

		return w.ReceiveAddress()

	case chain.FamilyEVM:
		w, err := h.evmWatchOnly(account)
		if err != nil {
			return "", err
		}

		return w.ReceiveAddress()

	case chain.FamilyArk:
		raw, err := h.store.Get(kvstore.OffchainAddressKey(account))
		switch {
		case errors.Is(err, kvstore.ErrNotFound):
			return "", fmt.Errorf("%w: account %d",
				ErrNoOffchainAddress, account)

		case err != nil:
			return "", err
		}

		return string(raw), nil

	case chain.FamilyLiquid, chain.FamilyLightning:
		return h.sdkAddress(ctx, network)

	default:
		return "", fmt.Errorf("%w: %q", chain.ErrUnknownNetwork, network)
	}
}

// sdkAddress asks the user for the vault password, then fetches an address
// through the single-connection SDK with bounded linear-backoff retries.
func (h *WalletHost) sdkAddress(ctx context.Context,
	network chain.NetworkKind) (string, error) {

	if h.connLock == nil {
		return "", ErrNoSDK
	}

	mnemonic, err := h.challenges.AskMnemonic(ctx)
	if err != nil {
		return "", err
	}

	id := walletcache.Identity{
		Secret:  mnemonic,
		Network: network,
	}

	var address string
	err = h.withRetry(ctx, func() error {
		return h.connLock.Do(ctx, id, func(ctx context.Context) error {
			var err error
			address, err = h.cfg.SDK.ReceiveAddress(ctx, network)

			return err
		})
	})
	if err != nil {
		return "", err
	}

	return address, nil
}

// withRetry runs call until it succeeds, the attempts run out or ctx is
// done.
func (h *WalletHost) withRetry(ctx context.Context, call func() error) error {
	strategy := chain.RetryStrategy(
		h.cfg.Retry.Attempts, h.cfg.Retry.Backoff,
		h.cfg.Retry.MaxBackoff,
	)

	var (
		lastErr error
		tries   int
	)
	for attempt := retry.Start(strategy, nil); attempt.Next(); {
		tries++
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}

		rpcsLog.Debugf("SDK call failed (attempt %d): %v", tries,
			lastErr)
	}

	return fmt.Errorf("SDK call failed after %d attempts: %w", tries,
		lastErr)
}

// storeAccountXpubs derives the bitcoin and EVM xpubs of account from
// mnemonic and stores them.
func (h *WalletHost) storeAccountXpubs(mnemonic string,
	account uint32) error {

	seed := bip39.NewSeed(vault.NormalizeMnemonic(mnemonic), "")
	defer zero(seed)

	params, err := h.cfg.BitcoinNetwork.BitcoinParams()
	if err != nil {
		return err
	}

	btcXpub, err := btcwallet.DeriveAccountXpub(seed, params, account)
	if err != nil {
		return err
	}

	evmXpub, err := evmwallet.DeriveAccountXpub(seed, account)
	if err != nil {
		return err
	}

	err = h.store.Put(
		kvstore.XpubKey(string(chain.FamilyBitcoin), account),
		[]byte(btcXpub),
	)
	if err != nil {
		return err
	}

	err = h.store.Put(
		kvstore.XpubKey(string(chain.FamilyEVM), account),
		[]byte(evmXpub),
	)
	if err != nil {
		return err
	}

	satlLog.Infof("Stored xpubs for account %d", account)

	return nil
}

// signingWallet builds the signing wallet of account on network from a
// just-decrypted mnemonic. The caller must Wipe it.
func (h *WalletHost) signingWallet(mnemonic string, network chain.NetworkKind,
	account uint32) (chain.SigningWallet, error) {

	seed := bip39.NewSeed(vault.NormalizeMnemonic(mnemonic), "")
	defer zero(seed)

	switch network.Family() {
	case chain.FamilyBitcoin:
		params, err := network.BitcoinParams()
		if err != nil {
			return nil, err
		}

		return btcwallet.NewSigner(seed, params, account)

	case chain.FamilyEVM:
		return evmwallet.NewSigner(seed, account)

	default:
		return nil, fmt.Errorf("%w: cannot sign on %v",
			chain.ErrUnknownNetwork, network)
	}
}

// signMessage asks the user for the vault password and signs msg with the
// account key of network.
func (h *WalletHost) signMessage(ctx context.Context,
	network chain.NetworkKind, account uint32, msg []byte) ([]byte, error) {

	mnemonic, err := h.challenges.AskMnemonic(ctx)
	if err != nil {
		return nil, err
	}

	signer, err := h.signingWallet(mnemonic, network, account)
	if err != nil {
		return nil, err
	}
	defer signer.Wipe()

	return signer.SignMessage(msg)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
