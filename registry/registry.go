// Package registry keeps track of the sessions that a server is currently
// serving. Entries are stored in a kv.Table, so the registry can be backed by
// any store that the kv package supports.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/renproject/kv"
	"github.com/renproject/kv/db"
)

var (
	// ErrNotFound is returned when no entry exists for a session id.
	ErrNotFound = errors.New("session not registered")

	// ErrAlreadyRegistered is returned when inserting an entry for a session
	// id that is already registered.
	ErrAlreadyRegistered = errors.New("session already registered")
)

// An Entry describes a registered session.
type Entry struct {
	ID         string    `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	CreatedAt  time.Time `json:"createdAt"`
}

// A Registry maps session ids to entries. It is safe for concurrent use.
type Registry struct {
	mu    *sync.Mutex
	table kv.Table
}

// New returns a Registry that stores entries in the table.
func New(table kv.Table) *Registry {
	if table == nil {
		panic("invariant violation: table cannot be nil")
	}
	return &Registry{
		mu:    new(sync.Mutex),
		table: table,
	}
}

// NewInMemory returns a Registry backed by an in-memory table.
func NewInMemory(name string) *Registry {
	return New(kv.NewMemDB(kv.JSONCodec).Table(name))
}

// Insert registers an entry.
func (reg *Registry) Insert(entry Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("inserting entry: empty session id")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()

	existing := Entry{}
	switch err := reg.table.Get(entry.ID, &existing); err {
	case nil:
		return ErrAlreadyRegistered
	case db.ErrKeyNotFound:
	default:
		return fmt.Errorf("inserting entry %v: %w", entry.ID, err)
	}
	if err := reg.table.Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("inserting entry %v: %w", entry.ID, err)
	}
	return nil
}

// Get returns the entry registered for a session id.
func (reg *Registry) Get(id string) (Entry, error) {
	entry := Entry{}
	if err := reg.table.Get(id, &entry); err != nil {
		if err == db.ErrKeyNotFound {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("getting entry %v: %w", id, err)
	}
	return entry, nil
}

// Remove the entry registered for a session id. Removing an id that is not
// registered returns ErrNotFound.
func (reg *Registry) Remove(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	entry := Entry{}
	if err := reg.table.Get(id, &entry); err != nil {
		if err == db.ErrKeyNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("removing entry %v: %w", id, err)
	}
	if err := reg.table.Delete(id); err != nil {
		return fmt.Errorf("removing entry %v: %w", id, err)
	}
	return nil
}

// Len returns the number of registered entries.
func (reg *Registry) Len() (int, error) {
	n, err := reg.table.Size()
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}
