package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRequestShutdown checks that a programmatic shutdown request closes the
// shutdown channel and that a second interceptor can be started afterwards.
func TestRequestShutdown(t *testing.T) {
	interceptor, err := Intercept()
	require.NoError(t, err)
	require.True(t, interceptor.Alive())

	// A second interceptor must be refused while the first one runs.
	_, err = Intercept()
	require.ErrorIs(t, err, ErrAlreadyIntercepting)

	interceptor.RequestShutdown()

	select {
	case <-interceptor.ShutdownChannel():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown channel not closed")
	}
	require.False(t, interceptor.Alive())

	require.Eventually(t, func() bool {
		next, err := Intercept()
		if err != nil {
			return false
		}
		next.RequestShutdown()
		<-next.ShutdownChannel()

		return true
	}, 5*time.Second, 10*time.Millisecond)
}

// TestContext checks that the context handed out by an Interceptor is
// cancelled on shutdown and that repeated requests are harmless.
func TestContext(t *testing.T) {
	var interceptor Interceptor
	require.Eventually(t, func() bool {
		var err error
		interceptor, err = Intercept()
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := interceptor.Context(context.Background())
	defer cancel()
	require.NoError(t, ctx.Err())
	require.True(t, interceptor.Listening())

	interceptor.RequestShutdown()
	interceptor.RequestShutdown()

	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled")
	}
	require.False(t, interceptor.Listening())
}
