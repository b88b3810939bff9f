package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/satchelwallet/satchel/kvstore"
)

// ErrEmptyRequest is returned when a permission request names no capability.
var ErrEmptyRequest = errors.New("permission request names no capability")

// Caveat restricts a granted capability.
type Caveat struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Permission is one granted capability, shaped as an EIP-2255 permission
// object.
type Permission struct {
	// Invoker is the origin the capability was granted to.
	Invoker string `json:"invoker"`

	// ParentCapability is the method the grant covers, e.g.
	// eth_accounts.
	ParentCapability string `json:"parentCapability"`

	// Caveats restrict the grant.
	Caveats []Caveat `json:"caveats"`

	// Date is the grant time in unix milliseconds.
	Date int64 `json:"date"`
}

// PermissionRequest maps each requested capability to its (ignored)
// parameters, as in wallet_requestPermissions.
type PermissionRequest map[string]json.RawMessage

// Capabilities returns the requested capability names, sorted.
func (r PermissionRequest) Capabilities() []string {
	capabilities := make([]string, 0, len(r))
	for capability := range r {
		capabilities = append(capabilities, capability)
	}
	sort.Strings(capabilities)

	return capabilities
}

// Permissions stores the permission records of every origin.
type Permissions struct {
	store kvstore.Store
	clock clock.Clock

	mu sync.Mutex
}

// NewPermissions returns the permission store kept in store.
func NewPermissions(store kvstore.Store, clk clock.Clock) *Permissions {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Permissions{
		store: store,
		clock: clk,
	}
}

func (p *Permissions) load(origin string) ([]Permission, error) {
	raw, err := p.store.Get(kvstore.PermissionKey(origin))
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return nil, nil

	case err != nil:
		return nil, err
	}

	var perms []Permission
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("corrupt permissions of %v: %w", origin,
			err)
	}

	return perms, nil
}

// Get returns the permission record of origin, or None if it was never
// granted anything.
func (p *Permissions) Get(origin string) (fn.Option[[]Permission], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	perms, err := p.load(origin)
	if err != nil {
		return fn.None[[]Permission](), err
	}
	if len(perms) == 0 {
		return fn.None[[]Permission](), nil
	}

	return fn.Some(perms), nil
}

// Has reports whether origin holds capability.
func (p *Permissions) Has(origin, capability string) (bool, error) {
	record, err := p.Get(origin)
	if err != nil {
		return false, err
	}

	for _, perm := range record.UnwrapOr(nil) {
		if perm.ParentCapability == capability {
			return true, nil
		}
	}

	return false, nil
}

// Grant records every capability of req for origin and returns the grant,
// one permission per requested capability. A capability granted earlier is
// refreshed.
func (p *Permissions) Grant(origin string,
	req PermissionRequest) ([]Permission, error) {

	if origin == "" {
		return nil, ErrEmptyOrigin
	}
	if len(req) == 0 {
		return nil, ErrEmptyRequest
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.load(origin)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now().UnixMilli()
	byCapability := make(map[string]Permission, len(existing)+len(req))
	for _, perm := range existing {
		byCapability[perm.ParentCapability] = perm
	}

	granted := make([]Permission, 0, len(req))
	for _, capability := range req.Capabilities() {
		perm := Permission{
			Invoker:          origin,
			ParentCapability: capability,
			Caveats:          []Caveat{},
			Date:             now,
		}
		byCapability[capability] = perm
		granted = append(granted, perm)
	}

	all := make([]Permission, 0, len(byCapability))
	for _, perm := range byCapability {
		all = append(all, perm)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].ParentCapability < all[j].ParentCapability
	})

	raw, err := json.Marshal(all)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(kvstore.PermissionKey(origin), raw); err != nil {
		return nil, err
	}

	log.Infof("Granted %v to %v", req.Capabilities(), origin)

	return granted, nil
}
