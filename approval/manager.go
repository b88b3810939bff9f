package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

var (
	// ErrNotFound is returned when resolving an approval that is not
	// pending.
	ErrNotFound = errors.New("cannot find approval with the given id")

	// ErrTooManyApprovals is returned when the outstanding approval limit
	// is reached.
	ErrTooManyApprovals = errors.New("cannot add new approval, too " +
		"many outstanding")

	// ErrInvalidOutcome is returned when resolving with anything but
	// Allow or Deny.
	ErrInvalidOutcome = errors.New("invalid approval outcome")
)

const (
	// DefaultTimeout is how long an approval waits for the user.
	DefaultTimeout = 10 * time.Minute

	// DefaultMaxPending caps the number of outstanding approvals.
	DefaultMaxPending = 100
)

// Outcome is the user's answer to an approval.
type Outcome uint8

const (
	// Deny rejects the request.
	Deny Outcome = iota

	// Allow grants the request.
	Allow

	// Expired means the user never answered.
	Expired
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"

	case Deny:
		return "deny"

	case Expired:
		return "expired"

	default:
		return "unknown"
	}
}

// ParseOutcome maps "allow" and "deny" to an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "allow":
		return Allow, nil

	case "deny":
		return Deny, nil

	default:
		return Deny, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
	}
}

// Request is one pending approval.
type Request struct {
	// ID identifies the approval on the surface.
	ID uint64 `json:"id"`

	// Method is the dapp method awaiting approval.
	Method string `json:"method"`

	// Params are the method params as sent by the dapp.
	Params []json.RawMessage `json:"params"`

	// Origin is the requesting origin.
	Origin string `json:"origin"`

	// URL is the surface URL the approval was opened at.
	URL string `json:"url"`

	// CreatedAt is when the approval was submitted.
	CreatedAt time.Time `json:"createdAt"`
}

type pendingApproval struct {
	req     Request
	outcome chan Outcome
}

// Config holds the dependencies of a Manager.
type Config struct {
	// Opener brings up the surface for every new approval.
	Opener Opener

	// Clock drives the timeout.
	Clock clock.Clock

	// Timeout bounds how long an approval waits. Zero disables it.
	Timeout time.Duration

	// MaxPending caps outstanding approvals. Zero means
	// DefaultMaxPending.
	MaxPending int

	// Geometry sizes the popup.
	Geometry Geometry

	// CurrentWindow, if set, returns the window the popup is offset
	// from.
	CurrentWindow func() Window

	// OnOutcome, if set, is called with every final outcome.
	OnOutcome func(method string, outcome Outcome)
}

// Manager holds the approvals waiting for the user. Submit blocks the
// requesting handler until the surface resolves the approval.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingApproval
}

// NewManager creates an approval manager.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Opener == nil {
		cfg.Opener = LogOpener{}
	}
	if cfg.MaxPending == 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	if cfg.Geometry == (Geometry{}) {
		cfg.Geometry = DefaultGeometry()
	}

	return &Manager{
		cfg:     cfg,
		pending: make(map[uint64]*pendingApproval),
	}
}

// Submit opens the surface for method requested by origin and blocks until
// the user answers, the timeout passes, or ctx is done.
func (m *Manager) Submit(ctx context.Context, method, origin string,
	params []json.RawMessage) (Outcome, error) {

	var expiry <-chan time.Time
	if m.cfg.Timeout > 0 {
		expiry = m.cfg.Clock.TickAfter(m.cfg.Timeout)
	}

	m.mu.Lock()
	if len(m.pending) >= m.cfg.MaxPending {
		m.mu.Unlock()
		return Deny, ErrTooManyApprovals
	}

	m.nextID++
	pending := &pendingApproval{
		req: Request{
			ID:        m.nextID,
			Method:    method,
			Params:    params,
			Origin:    origin,
			CreatedAt: m.cfg.Clock.Now(),
		},
		outcome: make(chan Outcome, 1),
	}

	surfaceURL, err := BuildURL(&pending.req)
	if err != nil {
		m.mu.Unlock()
		return Deny, err
	}
	pending.req.URL = surfaceURL

	m.pending[pending.req.ID] = pending
	m.mu.Unlock()

	id := pending.req.ID
	log.Debugf("Approval %d for %v from %v opened", id, method, origin)

	var current Window
	if m.cfg.CurrentWindow != nil {
		current = m.cfg.CurrentWindow()
	}
	window := m.cfg.Geometry.PopupWindow(current)

	if err := m.cfg.Opener.Open(ctx, surfaceURL, window); err != nil {
		m.remove(id)
		return Deny, fmt.Errorf("unable to open approval surface: %w",
			err)
	}

	var outcome Outcome
	select {
	case outcome = <-pending.outcome:

	case <-expiry:
		if !m.remove(id) {
			// Resolved concurrently with the expiry.
			outcome = <-pending.outcome
			break
		}
		outcome = Expired

	case <-ctx.Done():
		m.remove(id)
		return Deny, ctx.Err()
	}

	log.Debugf("Approval %d for %v from %v resolved: %v", id, method,
		origin, outcome)

	if m.cfg.OnOutcome != nil {
		m.cfg.OnOutcome(method, outcome)
	}

	return outcome, nil
}

// remove drops a pending approval and reports whether it was still there.
func (m *Manager) remove(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.pending[id]
	delete(m.pending, id)

	return ok
}

// Resolve answers the approval with the given id.
func (m *Manager) Resolve(id uint64, outcome Outcome) error {
	if outcome != Allow && outcome != Deny {
		return ErrInvalidOutcome
	}

	m.mu.Lock()
	pending, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	pending.outcome <- outcome

	return nil
}

// Get returns the pending approval with the given id.
func (m *Manager) Get(id uint64) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ok := m.pending[id]
	if !ok {
		return Request{}, ErrNotFound
	}

	return pending.req, nil
}

// List returns the pending approvals ordered by id.
func (m *Manager) List() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs := make([]Request, 0, len(m.pending))
	for _, pending := range m.pending {
		reqs = append(reqs, pending.req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].ID < reqs[j].ID
	})

	return reqs
}
