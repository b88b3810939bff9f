package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/satchelwallet/satchel/relay"
)

// requestFrame carries one control message over the control socket.
type requestFrame struct {
	Seq uint64          `json:"seq"`
	Msg json.RawMessage `json:"msg"`
}

// replyFrame carries the reply to the request with the same seq, or tells
// the client the channel closed without one.
type replyFrame struct {
	Seq    uint64          `json:"seq"`
	Reply  json.RawMessage `json:"reply,omitempty"`
	Closed bool            `json:"closed,omitempty"`
}

// ServerConfig holds the dependencies of a ControlServer.
type ServerConfig struct {
	// Dispatcher routes every received message.
	Dispatcher *Dispatcher

	// PingInterval and PongWait configure the keep-alive. Zero disables
	// it.
	PingInterval time.Duration
	PongWait     time.Duration
}

// ControlServer serves the control channel over a websocket. It only accepts
// connections without a browser origin, so web pages can never reach it.
type ControlServer struct {
	cfg      ServerConfig
	upgrader *websocket.Upgrader
}

// NewControlServer creates the control channel endpoint.
func NewControlServer(cfg ServerConfig) *ControlServer {
	return &ControlServer{
		cfg: cfg,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return r.Header.Get("Origin") == ""
			},
		},
	}
}

// ServeHTTP upgrades the request and dispatches control messages until the
// client goes away.
func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Error upgrading control websocket: %v", err)
		return
	}

	wsConn := relay.NewWSConn(conn, s.cfg.PingInterval, s.cfg.PongWait)
	defer func() {
		err := wsConn.Close()
		if err != nil && !relay.IsClosedConnError(err) {
			log.Errorf("WS: error closing control conn: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConn.KeepAlive(ctx)

	for {
		var frame requestFrame
		if err := wsConn.ReadJSON(&frame); err != nil {
			if !relay.IsClosedConnError(err) {
				log.Errorf("WS: error reading control "+
					"frame: %v", err)
			}

			return
		}

		seq := frame.Seq
		send := func(reply json.RawMessage) error {
			return wsConn.WriteJSON(&replyFrame{
				Seq:   seq,
				Reply: reply,
			})
		}
		onClose := func() {
			err := wsConn.WriteJSON(&replyFrame{
				Seq:    seq,
				Closed: true,
			})
			if err != nil {
				log.Debugf("Unable to close control "+
					"request %d: %v", seq, err)
			}
		}

		msg, err := ParseMessage(frame.Msg)
		if err != nil {
			log.Debugf("Dropping control frame %d: %v", seq, err)
			onClose()

			continue
		}

		_, err = s.cfg.Dispatcher.Dispatch(ctx, msg, send, onClose)
		if err != nil && !errors.Is(err, ErrUnknownType) {
			log.Errorf("Dispatching %v failed: %v", msg.Type, err)
		}
	}
}

// RemoteError is returned by the client when the handler replied with the
// error shape.
type RemoteError struct {
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return e.Message
}

// ControlClient is the other end of the control channel, used by the
// satchelcli tool in the role of the popup UI.
type ControlClient struct {
	conn *relay.WSConn

	nextSeq atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *replyFrame
	closed  bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// DialControl connects to the control endpoint at url.
func DialControl(ctx context.Context, url string) (*ControlClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to dial control %v: %w", url,
			err)
	}

	c := &ControlClient{
		conn:    relay.NewWSConn(conn, 0, 0),
		pending: make(map[uint64]chan *replyFrame),
		quit:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readHandler()

	return c, nil
}

// Call sends a control message of type msgType with the given fields and
// decodes the reply into resp, which may be nil. A reply with the error shape
// is returned as *RemoteError; a request closed without reply returns
// ErrChannelClosed.
func (c *ControlClient) Call(ctx context.Context, msgType string,
	fields interface{}, resp interface{}) error {

	msg, err := NewMessage(msgType, fields)
	if err != nil {
		return err
	}

	seq := c.nextSeq.Add(1)
	replyChan := make(chan *replyFrame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return relay.ErrPortClosed
	}
	c.pending[seq] = replyChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	err = c.conn.WriteJSON(&requestFrame{Seq: seq, Msg: msg.Raw})
	if err != nil {
		return err
	}

	var frame *replyFrame
	select {
	case frame = <-replyChan:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return relay.ErrPortClosed
	}

	if frame.Closed {
		return ErrChannelClosed
	}

	var errResp ErrorResponse
	if json.Unmarshal(frame.Reply, &errResp) == nil && errResp.Error {
		return &RemoteError{Message: errResp.Message}
	}

	if resp == nil {
		return nil
	}

	return json.Unmarshal(frame.Reply, resp)
}

// Close closes the connection. Pending calls fail.
func (c *ControlClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.quit)
	c.mu.Unlock()

	err := c.conn.Close()
	c.wg.Wait()

	return err
}

// readHandler routes every reply frame to the call waiting for its seq.
//
// NOTE: MUST be run as a goroutine.
func (c *ControlClient) readHandler() {
	defer c.wg.Done()

	for {
		var frame replyFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			if !c.closed {
				c.closed = true
				close(c.quit)
			}
			c.mu.Unlock()

			return
		}

		c.mu.Lock()
		replyChan, ok := c.pending[frame.Seq]
		delete(c.pending, frame.Seq)
		c.mu.Unlock()

		if ok {
			replyChan <- &frame
		}
	}
}
