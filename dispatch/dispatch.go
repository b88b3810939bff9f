package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrUnknownType is returned for a message type no handler is
	// registered for. The message is dropped without reply.
	ErrUnknownType = errors.New("unknown message type")

	// ErrMalformedMessage is returned for a message that is not a JSON
	// object with a type field.
	ErrMalformedMessage = errors.New("malformed control message")

	// ErrDuplicateType is returned when registering a type twice.
	ErrDuplicateType = errors.New("message type already registered")

	// ErrShuttingDown is returned when dispatching after Stop.
	ErrShuttingDown = errors.New("dispatcher shutting down")
)

// Mode is how a handler replies.
type Mode uint8

const (
	// Sync handlers reply before they return. The reply slot is closed as
	// soon as the handler returns.
	Sync Mode = iota

	// Async handlers run on their own goroutine and may reply at any
	// later point. The reply slot stays open until the handler returns.
	Async
)

// String returns a human readable mode.
func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"

	case Async:
		return "async"

	default:
		return "unknown"
	}
}

// Message is a control message {type, ...fields}.
type Message struct {
	// Type selects the handler.
	Type string

	// Raw is the complete encoded message.
	Raw json.RawMessage
}

// ParseMessage decodes raw into a Message.
func ParseMessage(raw []byte) (*Message, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if header.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	return &Message{
		Type: header.Type,
		Raw:  raw,
	}, nil
}

// NewMessage encodes fields as a control message of type msgType. Fields must
// encode to a JSON object or be nil.
func NewMessage(msgType string, fields interface{}) (*Message, error) {
	obj := make(map[string]json.RawMessage)
	if fields != nil {
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: fields are not an object",
				ErrMalformedMessage)
		}
	}

	typeRaw, err := json.Marshal(msgType)
	if err != nil {
		return nil, err
	}
	obj["type"] = typeRaw

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type: msgType,
		Raw:  raw,
	}, nil
}

// Decode unmarshals the message fields into v.
func (m *Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	return nil
}

// Handler handles one control message and replies through the slot.
type Handler func(ctx context.Context, msg *Message, reply *ReplySlot)

type registration struct {
	mode    Mode
	handler Handler
}

// Config holds the optional hooks of a Dispatcher.
type Config struct {
	// OnDispatch, if set, is called for every dispatched message with
	// whether a handler was found.
	OnDispatch func(msgType string, known bool)
}

// Dispatcher is the single listener for control messages. It routes each
// message to the handler registered for its type.
type Dispatcher struct {
	cfg Config

	mu       sync.RWMutex
	handlers map[string]registration

	// async runs the asynchronous handlers.
	async *fn.GoroutineManager
}

// New creates an empty dispatch table.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		handlers: make(map[string]registration),
		async:    fn.NewGoroutineManager(),
	}
}

// Register adds the handler for msgType with its reply mode.
func (d *Dispatcher) Register(msgType string, mode Mode, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[msgType]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateType, msgType)
	}

	d.handlers[msgType] = registration{
		mode:    mode,
		handler: h,
	}

	log.Tracef("Registered %v handler for %v", mode, msgType)

	return nil
}

// Types returns the registered message types, sorted.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for msgType := range d.handlers {
		types = append(types, msgType)
	}
	sort.Strings(types)

	return types
}

// Dispatch routes msg to its handler. The returned keepOpen is true if the
// reply will arrive after Dispatch returns. onClose, if set, is called once
// the reply slot closes without a reply having been sent, so the transport
// can release the sender.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message,
	send SendFunc, onClose func()) (bool, error) {

	d.mu.RLock()
	reg, ok := d.handlers[msg.Type]
	d.mu.RUnlock()

	if d.cfg.OnDispatch != nil {
		d.cfg.OnDispatch(msg.Type, ok)
	}

	if !ok {
		log.Debugf("Dropping control message of unknown type %q",
			msg.Type)

		if onClose != nil {
			onClose()
		}

		return false, ErrUnknownType
	}

	slot := newReplySlot(send)
	finish := func() {
		if slot.close() {
			log.Debugf("Handler for %v returned without reply",
				msg.Type)

			if onClose != nil {
				onClose()
			}
		}
	}

	switch reg.mode {
	case Sync:
		reg.handler(ctx, msg, slot)
		finish()

		return false, nil

	default:
		started := d.async.Go(ctx, func(ctx context.Context) {
			defer finish()
			reg.handler(ctx, msg, slot)
		})
		if !started {
			if onClose != nil {
				onClose()
			}

			return false, ErrShuttingDown
		}

		return true, nil
	}
}

// Stop cancels every running asynchronous handler and waits for them.
func (d *Dispatcher) Stop() {
	d.async.Stop()
}
