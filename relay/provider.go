package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrRequestExpired is returned when no reply arrived within the
	// request timeout. A reply arriving later is dropped.
	ErrRequestExpired = errors.New("request expired without reply")

	// ErrProviderStopped is returned for calls pending while the provider
	// stops.
	ErrProviderStopped = errors.New("provider stopped")
)

// DefaultRequestTimeout bounds how long a page call waits for its reply.
const DefaultRequestTimeout = 10 * time.Minute

// ProviderConfig holds the dependencies of a Provider.
type ProviderConfig struct {
	// Bus is the page bus.
	Bus *Bus

	// Origin is the origin of the page the provider is injected in.
	Origin string

	// Clock drives request expiry.
	Clock clock.Clock

	// RequestTimeout bounds every call. Zero disables expiry.
	RequestTimeout time.Duration
}

// Provider is the page stage of the relay: the object a dapp calls. Every
// call gets a fresh id and resolves exactly once, with the first reply
// carrying that id, with expiry, or with cancellation.
type Provider struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	nextID atomic.Uint64

	cfg ProviderConfig
	sub *Subscription

	mu      sync.Mutex
	pending map[uint64]chan *Envelope

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewProvider creates a page stage bound to cfg.Bus.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Provider{
		cfg:     cfg,
		pending: make(map[uint64]chan *Envelope),
		quit:    make(chan struct{}),
	}
}

// Start subscribes the provider to the bus.
func (p *Provider) Start() error {
	if !atomic.CompareAndSwapUint32(&p.started, 0, 1) {
		return nil
	}

	sub, err := p.cfg.Bus.Subscribe()
	if err != nil {
		return err
	}
	p.sub = sub

	p.wg.Add(1)
	go p.responseHandler()

	return nil
}

// Stop cancels the subscription and fails every pending call.
func (p *Provider) Stop() error {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return nil
	}

	close(p.quit)
	if p.sub != nil {
		p.sub.Cancel()
	}
	p.wg.Wait()

	return nil
}

// Request sends method with params to the background and waits for the
// reply. An error reply is returned as *RPCError.
func (p *Provider) Request(ctx context.Context, method string,
	params ...interface{}) (json.RawMessage, error) {

	id := p.nextID.Add(1)
	req, err := NewRequest(id, method, p.cfg.Origin, params...)
	if err != nil {
		return nil, err
	}

	// The expiry ticker is armed before the call becomes visible so a
	// test clock advanced after that point always fires it.
	var expiry <-chan time.Time
	if p.cfg.RequestTimeout > 0 {
		expiry = p.cfg.Clock.TickAfter(p.cfg.RequestTimeout)
	}

	replyChan := make(chan *Envelope, 1)
	p.mu.Lock()
	p.pending[id] = replyChan
	p.mu.Unlock()

	if err := p.cfg.Bus.PublishEnvelope(req); err != nil {
		p.forget(id)
		return nil, err
	}

	log.Tracef("Page call %d (%v) from %v sent", id, method, p.cfg.Origin)

	select {
	case resp := <-replyChan:
		if resp.Error != nil {
			return nil, resp.Error
		}

		return resp.Response, nil

	case <-expiry:
		p.forget(id)
		log.Debugf("Page call %d (%v) expired", id, method)

		return nil, ErrRequestExpired

	case <-ctx.Done():
		p.forget(id)
		return nil, ctx.Err()

	case <-p.quit:
		return nil, ErrProviderStopped
	}
}

// NumPending returns the number of calls waiting for a reply.
func (p *Provider) NumPending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

func (p *Provider) forget(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// resolve hands resp to the call waiting for its id. The pending entry is
// removed on first use, so a duplicate reply finds nothing.
func (p *Provider) resolve(resp *Envelope) bool {
	p.mu.Lock()
	replyChan, ok := p.pending[resp.ID]
	delete(p.pending, resp.ID)
	p.mu.Unlock()

	if !ok {
		return false
	}

	replyChan <- resp

	return true
}

// responseHandler consumes webpage-tagged envelopes from the bus.
//
// NOTE: MUST be run as a goroutine.
func (p *Provider) responseHandler() {
	defer p.wg.Done()

	for {
		select {
		case item := <-p.sub.Messages():
			msg, ok := item.([]byte)
			if !ok {
				continue
			}

			resp, err := Decode(msg, ToWebpage)
			if err != nil {
				log.Tracef("Page stage ignoring message: %v",
					err)
				continue
			}

			if !p.resolve(resp) {
				log.Debugf("Dropping reply for unknown or "+
					"settled call %d", resp.ID)
			}

		case <-p.sub.Quit():
			return

		case <-p.quit:
			return
		}
	}
}
