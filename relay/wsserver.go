package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/time/rate"
)

// WSServerConfig holds the dependencies of a WSServer.
type WSServerConfig struct {
	// Handler answers every request arriving on any connection.
	Handler RequestHandler

	// CheckOrigin further restricts which upgrade requests are accepted.
	// Upgrades without an Origin header are always refused.
	CheckOrigin func(r *http.Request) bool

	// TrustedBridges are the origins of bridges allowed to relay on
	// behalf of pages. Their envelopes keep the claimed from field. For
	// every other connection from is overwritten with the Origin header
	// of the upgrade request.
	TrustedBridges []string

	// PingInterval and PongWait configure the keep-alive. Zero disables
	// it.
	PingInterval time.Duration
	PongWait     time.Duration

	// RateLimit is the sustained number of requests per second a single
	// connection may send, with bursts of up to RateBurst. Requests above
	// the limit are answered with CodeLimitExceeded. Zero disables the
	// limit.
	RateLimit rate.Limit
	RateBurst int
}

// WSServer is the background end of the relay for bridges living in another
// process. Each websocket message is one request envelope; each reply is
// written back as one message on the same connection.
type WSServer struct {
	cfg      WSServerConfig
	upgrader *websocket.Upgrader

	// requests runs one goroutine per request so a call waiting for the
	// user never stalls the connection.
	requests *fn.GoroutineManager
}

// NewWSServer creates a websocket relay endpoint.
func NewWSServer(cfg WSServerConfig) *WSServer {
	checkOrigin := func(r *http.Request) bool {
		if r.Header.Get("Origin") == "" {
			return false
		}

		return cfg.CheckOrigin == nil || cfg.CheckOrigin(r)
	}

	return &WSServer{
		cfg: cfg,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		requests: fn.NewGoroutineManager(),
	}
}

// Stop cancels every in-flight request and waits for their goroutines.
func (s *WSServer) Stop() {
	s.requests.Stop()
}

// ServeHTTP upgrades the request and serves relay requests until either side
// closes the connection.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Error upgrading relay websocket: %v", err)
		return
	}

	wsConn := NewWSConn(conn, s.cfg.PingInterval, s.cfg.PongWait)
	defer func() {
		err := wsConn.Close()
		if err != nil && !IsClosedConnError(err) {
			log.Errorf("WS: error closing relay conn: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wsConn.KeepAlive(ctx)

	origin := r.Header.Get("Origin")
	trusted := slices.Contains(s.cfg.TrustedBridges, origin)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(s.cfg.RateLimit, max(s.cfg.RateBurst, 1))
	}

	log.Debugf("Relay connection from %v (origin=%v, trusted=%v) opened",
		r.RemoteAddr, origin, trusted)

	for {
		var raw json.RawMessage
		if err := wsConn.ReadJSON(&raw); err != nil {
			if IsClosedConnError(err) {
				log.Tracef("WS: relay socket closed: %v", err)
			} else {
				log.Errorf("WS: error reading relay "+
					"message: %v", err)
			}

			return
		}

		req, err := Decode(raw, ToContentScript)
		if err != nil {
			log.Debugf("Dropping relay message: %v", err)
			continue
		}

		// Pages speak for themselves only.
		if !trusted && req.From != origin {
			log.Debugf("Relay connection %v claimed origin %v, "+
				"using %v", r.RemoteAddr, req.From, origin)
			req.From = origin
		}

		if !limiter.Allow() {
			log.Debugf("Relay connection %v over its rate limit, "+
				"refusing request %d", r.RemoteAddr, req.ID)

			err := wsConn.WriteJSON(NewErrorResponse(req, &RPCError{
				Code:    CodeLimitExceeded,
				Message: "request rate limit exceeded",
			}))
			if err != nil {
				return
			}

			continue
		}

		started := s.requests.Go(ctx, func(ctx context.Context) {
			resp := s.cfg.Handler.HandleRequest(ctx, req)
			if resp == nil {
				return
			}

			if err := wsConn.WriteJSON(resp); err != nil {
				log.Debugf("WS: unable to write reply %d: %v",
					req.ID, err)
			}
		})
		if !started {
			return
		}
	}
}
