package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errWrongPassword = errors.New("wrong password")

type mockDecrypter struct {
	password string
	mnemonic string
}

func (m *mockDecrypter) Decrypt(password []byte) (string, error) {
	if string(password) != m.password {
		return "", errWrongPassword
	}

	return m.mnemonic, nil
}

// gatedDecrypter blocks every Decrypt until release is closed.
type gatedDecrypter struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedDecrypter) Decrypt([]byte) (string, error) {
	g.started <- struct{}{}
	<-g.release

	return "words", nil
}

// newTestRendezvous returns a rendezvous whose opened challenges are sent on
// the returned channel.
func newTestRendezvous(t *testing.T) (*Rendezvous, chan Challenge) {
	t.Helper()

	opened := make(chan Challenge, 1)
	r := New(Config{
		Decrypter: &mockDecrypter{password: "pw", mnemonic: "words"},
		OnOpen: func(c Challenge) {
			opened <- c
		},
	})

	return r, opened
}

func waitOpened(t *testing.T, opened chan Challenge) Challenge {
	t.Helper()

	select {
	case c := <-opened:
		return c

	case <-time.After(time.Second):
		t.Fatalf("challenge not published")
	}

	return Challenge{}
}

type askResult struct {
	value string
	err   error
}

func askAsync(ask func(context.Context) (string, error),
	ctx context.Context) chan askResult {

	res := make(chan askResult, 1)
	go func() {
		value, err := ask(ctx)
		res <- askResult{value: value, err: err}
	}()

	return res
}

func waitResult(t *testing.T, res chan askResult) askResult {
	t.Helper()

	select {
	case r := <-res:
		return r

	case <-time.After(time.Second):
		t.Fatalf("asker not resolved")
	}

	return askResult{}
}

// TestAskPassword asserts a submitted password is handed to the asker.
func TestAskPassword(t *testing.T) {
	t.Parallel()

	r, opened := newTestRendezvous(t)
	require.True(t, r.Pending().IsNone())

	res := askAsync(r.AskPassword, context.Background())
	c := waitOpened(t, opened)
	require.Equal(t, KindPassword, c.Kind)

	pending := r.Pending()
	require.True(t, pending.IsSome())
	require.Equal(t, c, pending.UnwrapOr(Challenge{}))

	require.ErrorIs(t, r.Submit(c.ID+1, "pw"), ErrUnknownChallenge)
	require.NoError(t, r.Submit(c.ID, "anything"))

	got := waitResult(t, res)
	require.NoError(t, got.err)
	require.Equal(t, "anything", got.value)
	require.True(t, r.Pending().IsNone())

	require.ErrorIs(t, r.Submit(c.ID, "anything"), ErrNoChallenge)
}

// TestAskMnemonicRetry asserts a wrong password keeps a mnemonic challenge
// open and the right one resolves it with the plaintext.
func TestAskMnemonicRetry(t *testing.T) {
	t.Parallel()

	r, opened := newTestRendezvous(t)

	res := askAsync(r.AskMnemonic, context.Background())
	c := waitOpened(t, opened)
	require.Equal(t, KindMnemonic, c.Kind)

	require.ErrorIs(t, r.Submit(c.ID, "nope"), errWrongPassword)
	require.True(t, r.Pending().IsSome())

	require.NoError(t, r.Submit(c.ID, "pw"))

	got := waitResult(t, res)
	require.NoError(t, got.err)
	require.Equal(t, "words", got.value)
}

// TestCancel asserts cancelling rejects the asker.
func TestCancel(t *testing.T) {
	t.Parallel()

	r, opened := newTestRendezvous(t)

	res := askAsync(r.AskMnemonic, context.Background())
	c := waitOpened(t, opened)

	require.NoError(t, r.Cancel(c.ID))

	got := waitResult(t, res)
	require.ErrorIs(t, got.err, ErrChallengeCancelled)
	require.Empty(t, got.value)

	require.ErrorIs(t, r.Cancel(c.ID), ErrNoChallenge)
}

// TestSingleSlot asserts a second challenge cannot be published while one is
// outstanding, and can be once it resolved.
func TestSingleSlot(t *testing.T) {
	t.Parallel()

	r, opened := newTestRendezvous(t)

	res := askAsync(r.AskPassword, context.Background())
	c := waitOpened(t, opened)

	_, err := r.AskMnemonic(context.Background())
	require.ErrorIs(t, err, ErrChallengeOutstanding)

	require.NoError(t, r.Submit(c.ID, "pw"))
	waitResult(t, res)

	res = askAsync(r.AskPassword, context.Background())
	c2 := waitOpened(t, opened)
	require.Greater(t, c2.ID, c.ID)

	require.NoError(t, r.Cancel(c2.ID))
	waitResult(t, res)
}

// TestContextDone asserts an abandoned challenge frees the slot.
func TestContextDone(t *testing.T) {
	t.Parallel()

	r, opened := newTestRendezvous(t)

	ctx, cancel := context.WithCancel(context.Background())
	res := askAsync(r.AskPassword, ctx)
	c := waitOpened(t, opened)

	cancel()

	got := waitResult(t, res)
	require.ErrorIs(t, got.err, context.Canceled)
	require.True(t, r.Pending().IsNone())
	require.ErrorIs(t, r.Submit(c.ID, "pw"), ErrNoChallenge)
}

// TestSubmitDecryptUnlocked asserts the rendezvous stays usable while a
// submitted password is decrypted, and that a challenge cancelled meanwhile
// is not resolved by the late decrypt.
func TestSubmitDecryptUnlocked(t *testing.T) {
	t.Parallel()

	decrypter := &gatedDecrypter{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	opened := make(chan Challenge, 1)
	r := New(Config{
		Decrypter: decrypter,
		OnOpen: func(c Challenge) {
			opened <- c
		},
	})

	res := askAsync(r.AskMnemonic, context.Background())
	c := waitOpened(t, opened)

	submitted := make(chan error, 1)
	go func() {
		submitted <- r.Submit(c.ID, "pw")
	}()

	select {
	case <-decrypter.started:
	case <-time.After(time.Second):
		t.Fatalf("decrypt not started")
	}

	pending := make(chan bool, 1)
	go func() {
		pending <- r.Pending().IsSome()
	}()
	select {
	case isSome := <-pending:
		require.True(t, isSome)

	case <-time.After(time.Second):
		t.Fatalf("pending blocked by decrypt")
	}

	require.NoError(t, r.Cancel(c.ID))
	got := waitResult(t, res)
	require.ErrorIs(t, got.err, ErrChallengeCancelled)

	close(decrypter.release)
	select {
	case err := <-submitted:
		require.ErrorIs(t, err, ErrNoChallenge)

	case <-time.After(time.Second):
		t.Fatalf("submit not returned")
	}
}
