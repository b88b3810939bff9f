package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// BridgeConfig holds the dependencies of a Bridge.
type BridgeConfig struct {
	// Bus is the page bus.
	Bus *Bus

	// Port leads to the background.
	Port Port

	// Origin is the origin of the page as seen by the isolated stage. If
	// set it overrides whatever the page claimed in the from field.
	Origin string

	// CallTimeout bounds how long a forwarded request may wait for the
	// background. Zero means no bound.
	CallTimeout time.Duration
}

// Bridge is the isolated stage of the relay. It picks contentScript-tagged
// envelopes off the bus, forwards them through the port and re-emits the
// webpage-tagged reply on the bus.
type Bridge struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	cfg BridgeConfig
	sub *Subscription

	// calls runs one goroutine per forwarded request.
	calls *fn.GoroutineManager

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewBridge creates an isolated stage.
func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{
		cfg:   cfg,
		calls: fn.NewGoroutineManager(),
		quit:  make(chan struct{}),
	}
}

// Start subscribes the bridge to the bus.
func (b *Bridge) Start() error {
	if !atomic.CompareAndSwapUint32(&b.started, 0, 1) {
		return nil
	}

	sub, err := b.cfg.Bus.Subscribe()
	if err != nil {
		return err
	}
	b.sub = sub

	b.wg.Add(1)
	go b.requestHandler()

	return nil
}

// Stop cancels the subscription and every forwarded call.
func (b *Bridge) Stop() error {
	if !atomic.CompareAndSwapUint32(&b.stopped, 0, 1) {
		return nil
	}

	close(b.quit)
	if b.sub != nil {
		b.sub.Cancel()
	}
	b.wg.Wait()
	b.calls.Stop()

	return nil
}

// requestHandler consumes contentScript-tagged envelopes from the bus.
//
// NOTE: MUST be run as a goroutine.
func (b *Bridge) requestHandler() {
	defer b.wg.Done()

	for {
		select {
		case item := <-b.sub.Messages():
			msg, ok := item.([]byte)
			if !ok {
				continue
			}

			req, err := Decode(msg, ToContentScript)
			if err != nil {
				log.Tracef("Isolated stage ignoring message: "+
					"%v", err)
				continue
			}

			if b.cfg.Origin != "" {
				req.From = b.cfg.Origin
			}

			started := b.calls.Go(
				context.Background(), func(ctx context.Context) {
					b.forward(ctx, req)
				},
			)
			if !started {
				return
			}

		case <-b.sub.Quit():
			return

		case <-b.quit:
			return
		}
	}
}

// forward carries one request to the background and publishes its reply.
func (b *Bridge) forward(ctx context.Context, req *Envelope) {
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	log.Tracef("Forwarding call %d: %v", req.ID, spewEnvelope(req))

	resp, err := b.cfg.Port.Call(ctx, req)
	switch {
	case errors.Is(err, ErrNoReply):
		log.Debugf("Background dropped call %d (%v)", req.ID,
			req.Method)
		return

	case err != nil:
		log.Debugf("Forwarding call %d (%v) failed: %v", req.ID,
			req.Method, err)
		return
	}

	// Only a reply for the forwarded id is relayed back.
	resp.For = ToWebpage
	resp.ID = req.ID

	log.Tracef("Relaying reply %d: %v", req.ID, spewEnvelope(resp))

	if err := b.cfg.Bus.PublishEnvelope(resp); err != nil {
		log.Debugf("Unable to publish reply %d: %v", req.ID, err)
	}
}
