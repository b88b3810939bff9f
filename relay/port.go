package relay

import (
	"context"
	"errors"
)

var (
	// ErrNoReply is returned by a port when the background dropped the
	// request without answering it.
	ErrNoReply = errors.New("request dropped without reply")

	// ErrPortClosed is returned when calling through a closed port.
	ErrPortClosed = errors.New("relay port closed")
)

// RequestHandler is the background end of the relay. It returns the response
// envelope for req, or nil if the request is dropped.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *Envelope) *Envelope
}

// RequestHandlerFunc adapts a function to the RequestHandler interface.
type RequestHandlerFunc func(ctx context.Context, req *Envelope) *Envelope

// HandleRequest calls f.
func (f RequestHandlerFunc) HandleRequest(ctx context.Context,
	req *Envelope) *Envelope {

	return f(ctx, req)
}

// Port is the host messaging primitive between the isolated stage and the
// background. Call carries a request and blocks on its reply path.
type Port interface {
	// Call delivers req to the background and returns its response.
	Call(ctx context.Context, req *Envelope) (*Envelope, error)

	// Close releases the port. Pending calls fail with ErrPortClosed.
	Close() error
}

// LocalPort is a Port to a background living in the same process.
type LocalPort struct {
	handler RequestHandler
	closed  chan struct{}
}

// A compile-time check to ensure LocalPort implements Port.
var _ Port = (*LocalPort)(nil)

// NewLocalPort returns a port that calls handler directly.
func NewLocalPort(handler RequestHandler) *LocalPort {
	return &LocalPort{
		handler: handler,
		closed:  make(chan struct{}),
	}
}

// Call implements the Port interface.
func (p *LocalPort) Call(ctx context.Context, req *Envelope) (*Envelope,
	error) {

	select {
	case <-p.closed:
		return nil, ErrPortClosed
	default:
	}

	resp := p.handler.HandleRequest(ctx, req)
	if resp == nil {
		return nil, ErrNoReply
	}

	return resp, nil
}

// Close implements the Port interface.
func (p *LocalPort) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}

	return nil
}
