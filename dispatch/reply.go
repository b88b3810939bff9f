package dispatch

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrAlreadyReplied is returned when a handler replies twice.
	ErrAlreadyReplied = errors.New("reply already sent")

	// ErrChannelClosed is returned when a handler replies after its reply
	// channel was closed.
	ErrChannelClosed = errors.New("reply channel closed")
)

// ErrorResponse is the reply shape of a failed control message.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// SendFunc delivers one encoded reply to the sender of a message.
type SendFunc func(reply json.RawMessage) error

// ReplySlot is the reply path of one control message. Exactly one reply can
// be sent through it, and none after it is closed.
type ReplySlot struct {
	send SendFunc

	mu      sync.Mutex
	replied bool
	closed  bool
}

// newReplySlot wraps send.
func newReplySlot(send SendFunc) *ReplySlot {
	return &ReplySlot{send: send}
}

// Send encodes resp and delivers it.
func (r *ReplySlot) Send(resp interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.replied:
		return ErrAlreadyReplied

	case r.closed:
		return ErrChannelClosed
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	r.replied = true

	return r.send(raw)
}

// Error replies with the error shape carrying err's message.
func (r *ReplySlot) Error(err error) error {
	return r.SendErrorMessage(err.Error())
}

// SendErrorMessage replies with the error shape carrying msg.
func (r *ReplySlot) SendErrorMessage(msg string) error {
	return r.Send(&ErrorResponse{
		Error:   true,
		Message: msg,
	})
}

// Replied reports whether a reply was sent.
func (r *ReplySlot) Replied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.replied
}

// close closes the slot and reports whether it was closed without a reply.
func (r *ReplySlot) close() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	r.closed = true

	return !r.replied
}
