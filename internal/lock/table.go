package lock

import (
	"errors"
	"fmt"
	"sync"
)

// ErrHeld is returned when a filename already has a pending entry.
var ErrHeld = errors.New("file already has a pending operation")

// Pending is a locked file waiting for the coordinator's decision.
type Pending struct {
	TxnID    int64
	Filename string
	Handle   *Handle
	// Payload is the content to write on commit; nil for deletes.
	Payload []byte
	// Created is set when the file did not exist before the write that
	// owns this entry, even if the lock was re-taken after a restart.
	Created bool
}

// Table maps filenames to their pending entry. A filename has at most one
// entry at a time.
type Table struct {
	name    string
	mu      sync.Mutex
	entries map[string]*Pending
}

// NewTable returns an empty table. The name is only used in errors and
// metrics labels.
func NewTable(name string) *Table {
	return &Table{
		name:    name,
		entries: make(map[string]*Pending),
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Add registers p. It fails with ErrHeld if the filename is taken.
func (t *Table) Add(p *Pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.entries[p.Filename]; ok {
		return fmt.Errorf("%w: %s held by %d in %s table", ErrHeld, p.Filename, cur.TxnID, t.name)
	}
	t.entries[p.Filename] = p
	return nil
}

// Holds reports whether filename has an entry owned by txnID.
func (t *Table) Holds(filename string, txnID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[filename]
	return ok && p.TxnID == txnID
}

// Take removes and returns the entry for filename if it is owned by txnID.
// It returns nil otherwise.
func (t *Table) Take(filename string, txnID int64) *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.entries[filename]
	if !ok || p.TxnID != txnID {
		return nil
	}
	delete(t.entries, filename)
	return p
}

// Drain removes and returns every entry.
func (t *Table) Drain() []*Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Pending, 0, len(t.entries))
	for name, p := range t.entries {
		out = append(out, p)
		delete(t.entries, name)
	}
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
