package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSPort is a Port to a background reached over a websocket.
type WSPort struct {
	conn *WSConn

	mu      sync.Mutex
	pending map[uint64]chan *Envelope
	closed  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// A compile-time check to ensure WSPort implements Port.
var _ Port = (*WSPort)(nil)

// DialWSPort connects to the relay endpoint at url. Unless origin is one of
// the server's trusted bridges, it is what the background sees as the
// caller's origin whatever the envelopes claim.
func DialWSPort(ctx context.Context, url, origin string) (*WSPort, error) {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("unable to dial relay %v: %w", url, err)
	}

	p := &WSPort{
		conn:    NewWSConn(conn, 0, 0),
		pending: make(map[uint64]chan *Envelope),
		quit:    make(chan struct{}),
	}

	p.wg.Add(1)
	go p.readHandler()

	return p, nil
}

// Call implements the Port interface.
func (p *WSPort) Call(ctx context.Context, req *Envelope) (*Envelope,
	error) {

	replyChan := make(chan *Envelope, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPortClosed
	}
	p.pending[req.ID] = replyChan
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
	}()

	if err := p.conn.WriteJSON(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-replyChan:
		return resp, nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-p.quit:
		return nil, ErrPortClosed
	}
}

// Close implements the Port interface.
func (p *WSPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	err := p.conn.Close()
	p.wg.Wait()

	return err
}

// readHandler routes every reply to the call waiting for its id.
//
// NOTE: MUST be run as a goroutine.
func (p *WSPort) readHandler() {
	defer p.wg.Done()

	for {
		var resp Envelope
		if err := p.conn.ReadJSON(&resp); err != nil {
			if !IsClosedConnError(err) {
				log.Debugf("WS: relay port read failed: %v",
					err)
			}

			p.mu.Lock()
			if !p.closed {
				p.closed = true
				close(p.quit)
			}
			p.mu.Unlock()

			return
		}

		if err := resp.Validate(ToWebpage); err != nil {
			log.Debugf("Dropping relay reply: %v", err)
			continue
		}

		p.mu.Lock()
		replyChan, ok := p.pending[resp.ID]
		delete(p.pending, resp.ID)
		p.mu.Unlock()

		if !ok {
			log.Debugf("Dropping reply for unknown call %d",
				resp.ID)
			continue
		}

		replyChan <- &resp
	}
}
