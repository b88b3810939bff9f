package kvstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DBFilename is the file name of the host store inside the data dir.
	DBFilename = "satchel.db"

	// dbFilePermission is the permission the bolt file is created with.
	dbFilePermission = 0600
)

var (
	// ErrNotFound is returned when a key has no value in the store.
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when an empty key is passed to Put.
	ErrEmptyKey = errors.New("empty key")

	// hostBucketName is the name of the single bucket every host entry
	// lives in.
	hostBucketName = []byte("satchel")
)

// Store is the host key-value store. Values are opaque byte slices; callers
// own their encoding.
type Store interface {
	// Get returns the value stored under key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	db *bolt.DB
}

// A compile-time check to ensure BoltStore implements Store.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens (or creates) the bolt database inside dataDir. The file
// lock bolt takes keeps two daemons from racing on the same store.
func OpenBoltStore(dataDir string, timeout time.Duration) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	path := filepath.Join(dataDir, DBFilename)
	db, err := bolt.Open(path, dbFilePermission, &bolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open %v: %w", path, err)
	}

	// If the store's bucket doesn't exist, create it.
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(hostBucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debugf("Opened host store at %v", path)

	return &BoltStore{db: db}, nil
}

// Get implements the Store interface.
func (s *BoltStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(hostBucketName).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}

		// Bolt only guarantees the slice for the lifetime of the
		// transaction, so we copy it out.
		value = make([]byte, len(v))
		copy(value, v)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Put implements the Store interface.
func (s *BoltStore) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(hostBucketName).Put([]byte(key), value)
	})
}

// Delete implements the Store interface.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(hostBucketName).Delete([]byte(key))
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemStore is an in-memory Store used by tests and by ephemeral hosts.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// A compile-time check to ensure MemStore implements Store.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string][]byte),
	}
}

// Get implements the Store interface.
func (m *MemStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}

	value := make([]byte, len(v))
	copy(value, v)

	return value, nil
}

// Put implements the Store interface.
func (m *MemStore) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	m.entries[key] = v

	return nil
}

// Delete implements the Store interface.
func (m *MemStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}
