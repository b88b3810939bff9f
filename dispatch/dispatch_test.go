package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// recorder collects everything a dispatch sends back.
type recorder struct {
	mu      sync.Mutex
	replies []json.RawMessage
	closes  int
	done    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 10)}
}

func (r *recorder) send(reply json.RawMessage) error {
	r.mu.Lock()
	r.replies = append(r.replies, reply)
	r.mu.Unlock()

	r.done <- struct{}{}

	return nil
}

func (r *recorder) onClose() {
	r.mu.Lock()
	r.closes++
	r.mu.Unlock()

	r.done <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()

	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Fatalf("no reply")
	}
}

func mustMessage(t *testing.T, msgType string, fields interface{}) *Message {
	t.Helper()

	msg, err := NewMessage(msgType, fields)
	require.NoError(t, err)

	return msg
}

// TestDispatchSync asserts a sync handler replies inline and the slot closes
// when it returns.
func TestDispatchSync(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer d.Stop()

	var late *ReplySlot
	require.NoError(t, d.Register("getAddress", Sync,
		func(_ context.Context, msg *Message, reply *ReplySlot) {
			var req struct {
				Account uint32 `json:"accountNumber"`
			}
			require.NoError(t, msg.Decode(&req))
			require.NoError(t, reply.Send(map[string]uint32{
				"account": req.Account,
			}))
			require.ErrorIs(t, reply.Send("again"),
				ErrAlreadyReplied)

			late = reply
		},
	))

	rec := newRecorder()
	keepOpen, err := d.Dispatch(
		context.Background(),
		mustMessage(t, "getAddress", map[string]uint32{
			"accountNumber": 3,
		}),
		rec.send, rec.onClose,
	)
	require.NoError(t, err)
	require.False(t, keepOpen)

	require.Len(t, rec.replies, 1)
	require.JSONEq(t, `{"account":3}`, string(rec.replies[0]))
	require.Zero(t, rec.closes)
	require.True(t, late.Replied())
}

// TestDispatchSyncNoReply asserts a sync handler that never replies closes
// the channel.
func TestDispatchSyncNoReply(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer d.Stop()

	var slot *ReplySlot
	require.NoError(t, d.Register("log", Sync,
		func(_ context.Context, _ *Message, reply *ReplySlot) {
			slot = reply
		},
	))

	rec := newRecorder()
	keepOpen, err := d.Dispatch(
		context.Background(), mustMessage(t, "log", nil), rec.send,
		rec.onClose,
	)
	require.NoError(t, err)
	require.False(t, keepOpen)
	require.Equal(t, 1, rec.closes)

	require.ErrorIs(t, slot.Send("late"), ErrChannelClosed)
	require.Empty(t, rec.replies)
}

// TestDispatchAsync asserts an async handler keeps the slot open and replies
// exactly once.
func TestDispatchAsync(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer d.Stop()

	release := make(chan struct{})
	require.NoError(t, d.Register("getBalance", Async,
		func(_ context.Context, _ *Message, reply *ReplySlot) {
			<-release
			require.NoError(t, reply.Send(42))
			require.ErrorIs(t, reply.Send(43), ErrAlreadyReplied)
		},
	))

	rec := newRecorder()
	keepOpen, err := d.Dispatch(
		context.Background(), mustMessage(t, "getBalance", nil),
		rec.send, rec.onClose,
	)
	require.NoError(t, err)
	require.True(t, keepOpen)

	close(release)
	rec.wait(t)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.replies, 1)
	require.JSONEq(t, `42`, string(rec.replies[0]))
	require.Zero(t, rec.closes)
}

// TestDispatchUnknown asserts unknown types are dropped without reply.
func TestDispatchUnknown(t *testing.T) {
	t.Parallel()

	var seen []string
	d := New(Config{
		OnDispatch: func(msgType string, known bool) {
			require.False(t, known)
			seen = append(seen, msgType)
		},
	})
	defer d.Stop()

	rec := newRecorder()
	keepOpen, err := d.Dispatch(
		context.Background(), mustMessage(t, "selfDestruct", nil),
		rec.send, rec.onClose,
	)
	require.ErrorIs(t, err, ErrUnknownType)
	require.False(t, keepOpen)
	require.Empty(t, rec.replies)
	require.Equal(t, []string{"selfDestruct"}, seen)
}

// TestRegisterDuplicate asserts a type can only be registered once.
func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer d.Stop()

	noop := func(context.Context, *Message, *ReplySlot) {}
	require.NoError(t, d.Register("b", Sync, noop))
	require.NoError(t, d.Register("a", Async, noop))
	require.ErrorIs(t, d.Register("a", Sync, noop), ErrDuplicateType)
	require.Equal(t, []string{"a", "b"}, d.Types())
}

// TestDispatchAfterStop asserts async work is refused after Stop.
func TestDispatchAfterStop(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	require.NoError(t, d.Register("slow", Async,
		func(context.Context, *Message, *ReplySlot) {},
	))
	d.Stop()

	rec := newRecorder()
	_, err := d.Dispatch(
		context.Background(), mustMessage(t, "slow", nil), rec.send,
		rec.onClose,
	)
	require.ErrorIs(t, err, ErrShuttingDown)
	require.Equal(t, 1, rec.closes)
}

// TestParseMessage covers the control message header.
func TestParseMessage(t *testing.T) {
	t.Parallel()

	msg, err := ParseMessage([]byte(`{"type":"acceptTerms","x":1}`))
	require.NoError(t, err)
	require.Equal(t, "acceptTerms", msg.Type)

	_, err = ParseMessage([]byte(`{"x":1}`))
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = ParseMessage([]byte(`[1]`))
	require.ErrorIs(t, err, ErrMalformedMessage)

	_, err = NewMessage("x", []int{1})
	require.ErrorIs(t, err, ErrMalformedMessage)
}

// TestControlTransport runs the dispatch table across the websocket control
// channel.
func TestControlTransport(t *testing.T) {
	t.Parallel()

	d := New(Config{})
	defer d.Stop()

	require.NoError(t, d.Register("echo", Async,
		func(_ context.Context, msg *Message, reply *ReplySlot) {
			var req struct {
				Value string `json:"value"`
			}
			if err := msg.Decode(&req); err != nil {
				_ = reply.Error(err)
				return
			}
			_ = reply.Send(map[string]string{"value": req.Value})
		},
	))
	require.NoError(t, d.Register("fail", Sync,
		func(_ context.Context, _ *Message, reply *ReplySlot) {
			_ = reply.Error(errors.New("Incorrect password"))
		},
	))
	require.NoError(t, d.Register("silent", Sync,
		func(context.Context, *Message, *ReplySlot) {},
	))

	server := httptest.NewServer(NewControlServer(ServerConfig{
		Dispatcher: d,
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx := context.Background()

	client, err := DialControl(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	var resp struct {
		Value string `json:"value"`
	}
	err = client.Call(ctx, "echo", map[string]string{"value": "hi"}, &resp)
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Value)

	var remoteErr *RemoteError
	err = client.Call(ctx, "fail", nil, nil)
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, "Incorrect password", remoteErr.Message)

	require.ErrorIs(t, client.Call(ctx, "silent", nil, nil),
		ErrChannelClosed)
	require.ErrorIs(t, client.Call(ctx, "unknown", nil, nil),
		ErrChannelClosed)

	// A browser origin is refused.
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, _, err = websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
}
