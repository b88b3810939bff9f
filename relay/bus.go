package relay

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/queue"
)

// ErrBusShuttingDown is returned when the bus is in the process of shutting
// down.
var ErrBusShuttingDown = errors.New("relay bus shutting down")

// subscriptionQueueSize is the initial buffer of every subscription queue.
const subscriptionQueueSize = 20

// Subscription receives every message published on the bus after it was
// created.
type Subscription struct {
	// cancel should be called in case the subscriber no longer wants
	// messages from the bus.
	cancel func()

	messages *queue.ConcurrentQueue
	quit     chan struct{}
}

// Messages returns a read-only channel where published messages are
// delivered. Each item is the []byte that was published.
func (s *Subscription) Messages() <-chan interface{} {
	return s.messages.ChanOut()
}

// Quit is a channel that will be closed in case the bus decides to no longer
// deliver messages to this subscription.
func (s *Subscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel should be called in case the subscriber no longer wants messages
// from the bus.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Bus is the shared message surface of one page: both relay stages publish
// serialized envelopes on it and each stage filters for the tag it owns.
// Every message is delivered at most once to every active subscription, and
// a slow subscriber never blocks the publisher.
type Bus struct {
	subCounter uint64 // To be used atomically.

	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	subs       map[uint64]*Subscription
	subUpdates chan *subUpdate

	messages chan []byte

	quit chan struct{}
	wg   sync.WaitGroup
}

// subUpdate is an internal message sent to the busHandler to either register
// a new subscription or cancel an existing one.
type subUpdate struct {
	cancel bool
	subID  uint64
	sub    *Subscription
}

// NewBus returns a new Bus.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		subUpdates: make(chan *subUpdate),
		messages:   make(chan []byte),
		quit:       make(chan struct{}),
	}
}

// Start starts the bus, making it ready to accept subscriptions and messages.
func (b *Bus) Start() error {
	if !atomic.CompareAndSwapUint32(&b.started, 0, 1) {
		return nil
	}

	b.wg.Add(1)
	go b.busHandler()

	return nil
}

// Stop stops the bus.
func (b *Bus) Stop() error {
	if !atomic.CompareAndSwapUint32(&b.stopped, 0, 1) {
		return nil
	}

	close(b.quit)
	b.wg.Wait()

	return nil
}

// Subscribe returns a Subscription that receives every message published
// from now on.
func (b *Bus) Subscribe() (*Subscription, error) {
	subID := atomic.AddUint64(&b.subCounter, 1)

	sub := &Subscription{
		messages: queue.NewConcurrentQueue(subscriptionQueueSize),
		quit:     make(chan struct{}),
		cancel: func() {
			select {
			case b.subUpdates <- &subUpdate{
				cancel: true,
				subID:  subID,
			}:
			case <-b.quit:
				return
			}
		},
	}

	select {
	case b.subUpdates <- &subUpdate{
		subID: subID,
		sub:   sub,
	}:
	case <-b.quit:
		return nil, ErrBusShuttingDown
	}

	return sub, nil
}

// Publish delivers msg to every active subscription. The slice must not be
// modified afterwards.
func (b *Bus) Publish(msg []byte) error {
	select {
	case b.messages <- msg:
		return nil
	case <-b.quit:
		return ErrBusShuttingDown
	}
}

// PublishEnvelope serializes env and publishes it.
func (b *Bus) PublishEnvelope(env *Envelope) error {
	msg, err := env.Encode()
	if err != nil {
		return err
	}

	return b.Publish(msg)
}

// busHandler registers and cancels subscriptions and fans published messages
// out to them.
//
// NOTE: MUST be run as a goroutine.
func (b *Bus) busHandler() {
	defer b.wg.Done()

	for {
		select {
		case update := <-b.subUpdates:
			if update.cancel {
				sub, ok := b.subs[update.subID]
				if ok {
					sub.messages.Stop()
					close(sub.quit)
					delete(b.subs, update.subID)
				}

				continue
			}

			update.sub.messages.Start()
			b.subs[update.subID] = update.sub

		case msg := <-b.messages:
			for _, sub := range b.subs {
				select {
				case sub.messages.ChanIn() <- msg:
				case <-sub.quit:
				case <-b.quit:
					return
				}
			}

		case <-b.quit:
			for _, sub := range b.subs {
				sub.messages.Stop()
				close(sub.quit)
			}
			return
		}
	}
}
