package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// pingPayload is echoed back by the peer in its pong.
	pingPayload = "satchel"

	// MaxWsMsgSize bounds a single relay or control message.
	MaxWsMsgSize = 4 * 1024 * 1024
)

var (
	// DefaultPingInterval is the time between two keep-alive pings.
	DefaultPingInterval = 30 * time.Second

	// DefaultPongWait is how long a ping may stay unanswered before the
	// connection is considered dead.
	DefaultPongWait = 5 * time.Second
)

// WSConn is a websocket connection with serialized writes and an optional
// keep-alive. Only one goroutine may read from it.
type WSConn struct {
	conn *websocket.Conn

	pingInterval time.Duration
	pongWait     time.Duration

	// newTicker creates the keep-alive ticker. Tests swap in a mock.
	newTicker func(time.Duration) ticker.Ticker

	writeMu sync.Mutex
}

// NewWSConn wraps conn. The keep-alive is only active when both pingInterval
// and pongWait are positive.
func NewWSConn(conn *websocket.Conn, pingInterval,
	pongWait time.Duration) *WSConn {

	conn.SetReadLimit(MaxWsMsgSize)

	return &WSConn{
		conn:         conn,
		pingInterval: pingInterval,
		pongWait:     pongWait,
		newTicker: func(d time.Duration) ticker.Ticker {
			return ticker.New(d)
		},
	}
}

// ReadJSON reads the next message into v.
func (c *WSConn) ReadJSON(v interface{}) error {
	return c.conn.ReadJSON(v)
}

// WriteJSON writes v as one text message.
func (c *WSConn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(v)
}

// Close closes the underlying connection.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// extendDeadline gives the peer another ping interval plus pong wait before
// reads time out.
func (c *WSConn) extendDeadline() {
	_ = c.conn.SetReadDeadline(
		time.Now().Add(c.pingInterval + c.pongWait),
	)
}

// KeepAlive pings the peer every ping interval until ctx is done. Each pong
// pushes the read deadline out, so a silent peer makes the next read fail.
func (c *WSConn) KeepAlive(ctx context.Context) {
	if c.pingInterval <= 0 || c.pongWait <= 0 {
		return
	}

	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	pings := c.newTicker(c.pingInterval)
	pings.Resume()

	go func() {
		defer pings.Stop()

		for {
			select {
			case <-pings.Ticks():
				if err := c.ping(); err != nil {
					log.Warnf("WS: unable to send ping: %v",
						err)
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *WSConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteControl(
		websocket.PingMessage, []byte(pingPayload),
		time.Now().Add(c.pongWait),
	)
}

// IsClosedConnError returns true if err only reports that the connection went
// away, either side having closed it.
func IsClosedConnError(err error) bool {
	switch {
	case err == nil:
		return false

	case errors.Is(err, http.ErrServerClosed),
		errors.Is(err, net.ErrClosed):
		return true

	case websocket.IsCloseError(err, websocket.CloseNormalClosure,
		websocket.CloseGoingAway):

		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		msg := opErr.Err.Error()
		return msg == "broken pipe" || msg == "connection reset by peer"
	}

	return false
}
