package walletcache

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/satchelwallet/satchel/chain"
)

// Identity is what a single-connection SDK is connected as.
type Identity struct {
	// Secret is the recovery phrase the SDK derives its keys from.
	Secret string

	// Network is the network the SDK is connected to.
	Network chain.NetworkKind
}

// fingerprint is how the lock remembers the connected identity without
// holding on to the secret.
type fingerprint struct {
	secret  [sha256.Size]byte
	network chain.NetworkKind
}

func (i Identity) fingerprint() fingerprint {
	return fingerprint{
		secret:  sha256.Sum256([]byte(i.Secret)),
		network: i.Network,
	}
}

// Connector is a single-connection SDK. At most one connection is live at a
// time.
type Connector interface {
	// Connect opens a connection as id.
	Connect(ctx context.Context, id Identity) error

	// Disconnect closes the live connection.
	Disconnect(ctx context.Context) error
}

// ConnLockConfig configures a ConnLock.
type ConnLockConfig struct {
	// Connector is the SDK the lock guards.
	Connector Connector

	// OnReconnect, if set, is called every time a live connection is
	// replaced by one for another identity.
	OnReconnect func()
}

// ConnLock serializes every operation on a single-connection SDK and keeps
// the SDK connected as the identity the running operation asked for.
type ConnLock struct {
	cfg ConnLockConfig

	// sem is a one slot semaphore. Holding the slot owns the connector.
	sem chan struct{}

	// current is only accessed while holding sem.
	current fn.Option[fingerprint]
}

// NewConnLock returns a lock with no live connection.
func NewConnLock(cfg ConnLockConfig) *ConnLock {
	return &ConnLock{
		cfg:     cfg,
		sem:     make(chan struct{}, 1),
		current: fn.None[fingerprint](),
	}
}

// Do waits for the previous holder, makes sure the SDK is connected as id,
// and runs op. The lock is released when Do returns, whether op failed,
// panicked or the connection could not be made.
func (l *ConnLock) Do(ctx context.Context, id Identity,
	op func(ctx context.Context) error) error {

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		<-l.sem
	}()

	if err := l.ensureConnected(ctx, id); err != nil {
		return err
	}

	return op(ctx)
}

// ensureConnected reuses the live connection if it belongs to id and
// replaces it otherwise.
//
// NOTE: the caller must hold sem.
func (l *ConnLock) ensureConnected(ctx context.Context, id Identity) error {
	want := id.fingerprint()

	reconnect := false
	if l.current.IsSome() {
		if l.current.UnwrapOr(fingerprint{}) == want {
			return nil
		}

		log.Debugf("Disconnecting before connecting to %v", id.Network)

		if err := l.cfg.Connector.Disconnect(ctx); err != nil {
			return fmt.Errorf("unable to disconnect: %w", err)
		}
		l.current = fn.None[fingerprint]()
		reconnect = true
	}

	if err := l.cfg.Connector.Connect(ctx, id); err != nil {
		return fmt.Errorf("unable to connect to %v: %w", id.Network,
			err)
	}
	l.current = fn.Some(want)

	if reconnect && l.cfg.OnReconnect != nil {
		l.cfg.OnReconnect()
	}

	log.Infof("Connected to %v", id.Network)

	return nil
}

// Close disconnects the live connection, if any.
func (l *ConnLock) Close(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() {
		<-l.sem
	}()

	if l.current.IsNone() {
		return nil
	}

	l.current = fn.None[fingerprint]()

	return l.cfg.Connector.Disconnect(ctx)
}
