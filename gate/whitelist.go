package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/satchelwallet/satchel/kvstore"
)

var (
	// ErrNotImplemented is returned by RemoveFromWhitelist. Origins can
	// only be added.
	ErrNotImplemented = errors.New("not implemented")

	// ErrEmptyOrigin is returned when an empty origin is whitelisted.
	ErrEmptyOrigin = errors.New("empty origin")
)

// Whitelist is the set of origins whose read-only address requests are
// answered without asking the user. It is persisted as a JSON array.
type Whitelist struct {
	store kvstore.Store

	mu sync.Mutex
}

// NewWhitelist returns the whitelist stored in store.
func NewWhitelist(store kvstore.Store) *Whitelist {
	return &Whitelist{store: store}
}

func (w *Whitelist) load() ([]string, error) {
	raw, err := w.store.Get(kvstore.KeyWhitelist)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
		return []string{}, nil

	case err != nil:
		return nil, err
	}

	var origins []string
	if err := json.Unmarshal(raw, &origins); err != nil {
		return nil, fmt.Errorf("corrupt whitelist: %w", err)
	}

	return origins, nil
}

// List returns the whitelisted origins in insertion order.
func (w *Whitelist) List() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.load()
}

// Contains reports whether origin is whitelisted.
func (w *Whitelist) Contains(origin string) (bool, error) {
	origins, err := w.List()
	if err != nil {
		return false, err
	}

	for _, o := range origins {
		if o == origin {
			return true, nil
		}
	}

	return false, nil
}

// Add whitelists origin. Adding an origin twice is a no-op.
func (w *Whitelist) Add(origin string) error {
	if origin == "" {
		return ErrEmptyOrigin
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	origins, err := w.load()
	if err != nil {
		return err
	}

	for _, o := range origins {
		if o == origin {
			return nil
		}
	}

	raw, err := json.Marshal(append(origins, origin))
	if err != nil {
		return err
	}

	if err := w.store.Put(kvstore.KeyWhitelist, raw); err != nil {
		return err
	}

	log.Infof("Whitelisted origin %v", origin)

	return nil
}

// Remove is not supported; once whitelisted an origin stays whitelisted.
func (w *Whitelist) Remove(origin string) error {
	return fmt.Errorf("remove %v from whitelist: %w", origin,
		ErrNotImplemented)
}
