package challenge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrChallengeOutstanding is returned when a challenge is published
	// while another one is still waiting for the user.
	ErrChallengeOutstanding = errors.New("a challenge is already " +
		"outstanding")

	// ErrChallengeCancelled is returned to the asker when the user
	// cancels the challenge.
	ErrChallengeCancelled = errors.New("challenge cancelled by user")

	// ErrNoChallenge is returned when submitting or cancelling while no
	// challenge is open.
	ErrNoChallenge = errors.New("no challenge outstanding")

	// ErrUnknownChallenge is returned when the id of a submit or cancel
	// does not match the open challenge.
	ErrUnknownChallenge = errors.New("unknown challenge id")
)

// Kind is the kind of value a challenge asks for.
type Kind uint8

const (
	// KindPassword asks for the vault password and resolves with it.
	KindPassword Kind = iota

	// KindMnemonic asks for the vault password and resolves with the
	// decrypted recovery phrase.
	KindMnemonic
)

// String returns the name of the kind as the UI knows it.
func (k Kind) String() string {
	switch k {
	case KindPassword:
		return "password"

	case KindMnemonic:
		return "mnemonic"

	default:
		return "unknown"
	}
}

// Challenge describes an open challenge to the UI.
type Challenge struct {
	// ID identifies the challenge in Submit and Cancel.
	ID uint64

	// Kind is what the challenge resolves with.
	Kind Kind

	// CreatedAt is when the challenge was published.
	CreatedAt time.Time
}

// Decrypter opens the vault with a password.
type Decrypter interface {
	// Decrypt returns the plaintext secret or an error if password does
	// not open it.
	Decrypt(password []byte) (string, error)
}

// Config holds the dependencies of a Rendezvous.
type Config struct {
	// Decrypter is used to resolve mnemonic challenges.
	Decrypter Decrypter

	// Clock stamps published challenges.
	Clock clock.Clock

	// OnOpen, if set, is called after a challenge is published so the UI
	// can be brought up. It must not block.
	OnOpen func(Challenge)
}

type result struct {
	value string
	err   error
}

type pendingChallenge struct {
	Challenge

	resultChan chan result
}

// Rendezvous is the single slot where a key-touching handler waits for the
// user to type the vault password. Passwords never leave the call that asked
// for them.
type Rendezvous struct {
	cfg Config

	mu      sync.Mutex
	nextID  uint64
	pending *pendingChallenge
}

// New creates a rendezvous with no open challenge.
func New(cfg Config) *Rendezvous {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Rendezvous{cfg: cfg}
}

// AskPassword publishes a password challenge and blocks until the user
// submits one, cancels, or ctx is done.
func (r *Rendezvous) AskPassword(ctx context.Context) (string, error) {
	return r.ask(ctx, KindPassword)
}

// AskMnemonic publishes a mnemonic challenge and blocks until the user
// submits a password that decrypts the vault, cancels, or ctx is done. A
// wrong password leaves the challenge open for another attempt.
func (r *Rendezvous) AskMnemonic(ctx context.Context) (string, error) {
	return r.ask(ctx, KindMnemonic)
}

func (r *Rendezvous) ask(ctx context.Context, kind Kind) (string, error) {
	r.mu.Lock()
	if r.pending != nil {
		r.mu.Unlock()
		return "", ErrChallengeOutstanding
	}

	r.nextID++
	pending := &pendingChallenge{
		Challenge: Challenge{
			ID:        r.nextID,
			Kind:      kind,
			CreatedAt: r.cfg.Clock.Now(),
		},
		resultChan: make(chan result, 1),
	}
	r.pending = pending
	r.mu.Unlock()

	log.Debugf("Published %v challenge %d", kind, pending.ID)

	if r.cfg.OnOpen != nil {
		r.cfg.OnOpen(pending.Challenge)
	}

	select {
	case res := <-pending.resultChan:
		return res.value, res.err

	case <-ctx.Done():
		r.mu.Lock()
		if r.pending == pending {
			r.pending = nil
		}
		r.mu.Unlock()

		log.Debugf("Challenge %d abandoned: %v", pending.ID, ctx.Err())

		return "", ctx.Err()
	}
}

// Pending returns the open challenge, if any.
func (r *Rendezvous) Pending() fn.Option[Challenge] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		return fn.None[Challenge]()
	}

	return fn.Some(r.pending.Challenge)
}

// take removes the pending challenge if it matches id. It must be called
// with mu held.
func (r *Rendezvous) take(id uint64) (*pendingChallenge, error) {
	switch {
	case r.pending == nil:
		return nil, ErrNoChallenge

	case r.pending.ID != id:
		return nil, ErrUnknownChallenge
	}

	pending := r.pending
	r.pending = nil

	return pending, nil
}

// Submit answers the challenge with the given id. For a mnemonic challenge
// the password is used to decrypt the vault; if that fails the error is
// returned and the challenge stays open.
func (r *Rendezvous) Submit(id uint64, password string) error {
	r.mu.Lock()
	if r.pending == nil {
		r.mu.Unlock()
		return ErrNoChallenge
	}
	if r.pending.ID != id {
		r.mu.Unlock()
		return ErrUnknownChallenge
	}
	kind := r.pending.Kind
	r.mu.Unlock()

	// Decrypt runs unlocked. The challenge may be cancelled or abandoned
	// meanwhile, take re-checks it.
	value := password
	if kind == KindMnemonic {
		mnemonic, err := r.cfg.Decrypter.Decrypt([]byte(password))
		if err != nil {
			log.Debugf("Challenge %d submit rejected: %v", id, err)
			return err
		}

		value = mnemonic
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.take(id)
	if err != nil {
		return err
	}

	pending.resultChan <- result{value: value}

	log.Debugf("Challenge %d resolved", id)

	return nil
}

// Cancel rejects the challenge with the given id. The asker receives
// ErrChallengeCancelled.
func (r *Rendezvous) Cancel(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, err := r.take(id)
	if err != nil {
		return err
	}

	pending.resultChan <- result{err: ErrChallengeCancelled}

	log.Debugf("Challenge %d cancelled", id)

	return nil
}
