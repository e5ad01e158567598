package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rfstore/internal/txn"
)

var (
	// ErrNotFound is returned when no record exists for a transaction id.
	ErrNotFound = errors.New("transaction not found")
	// ErrDuplicate is returned when appending an id that is already logged.
	ErrDuplicate = errors.New("transaction already logged")
	// ErrConflict is returned when a terminal record is asked to change.
	ErrConflict = errors.New("transaction already resolved")
	// ErrPersist wraps failures of the durable log.
	ErrPersist = errors.New("transaction log persistence failed")
)

// Log is the durable projection of a Store.
type Log interface {
	// Load returns every logged record ordered by id.
	Load() ([]*txn.Transaction, error)
	// Save durably writes the record, replacing any earlier version.
	Save(t *txn.Transaction) error
	Close() error
}

// Store holds the transaction records of one process.
type Store struct {
	mu      sync.RWMutex
	order   []int64
	records map[int64]*txn.Transaction
	log     Log
	// changed is closed and replaced whenever a record is resolved.
	changed chan struct{}
}

// Open loads every record from log into a new Store.
func Open(log Log) (*Store, error) {
	records, err := log.Load()
	if err != nil {
		return nil, fmt.Errorf("load transaction log: %w", err)
	}

	s := &Store{
		order:   make([]int64, 0, len(records)),
		records: make(map[int64]*txn.Transaction, len(records)),
		log:     log,
		changed: make(chan struct{}),
	}
	for _, t := range records {
		if _, exists := s.records[t.ID]; exists {
			continue
		}
		s.order = append(s.order, t.ID)
		s.records[t.ID] = t
	}
	return s, nil
}

// Append logs a new record. The record is durable when Append returns nil;
// on a persistence failure it is not kept in memory either.
func (s *Store) Append(t *txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[t.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicate, t.ID)
	}

	rec := t.Clone()
	if err := s.log.Save(rec); err != nil {
		return fmt.Errorf("%w: append %d: %v", ErrPersist, t.ID, err)
	}
	s.order = append(s.order, rec.ID)
	s.records[rec.ID] = rec
	return nil
}

// Get returns a copy of the record for id, or nil if there is none.
func (s *Store) Get(id int64) *txn.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.records[id].Clone()
}

// Resolve moves a Pending record to status. It reports whether this call
// changed the record: resolving to the status the record already has is a
// no-op, resolving a terminal record to a different status is ErrConflict.
// If the change cannot be persisted the record stays Pending.
func (s *Store) Resolve(id int64, status txn.Status) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("resolve %d: %s is not a terminal status", id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if rec.Status == status {
		return false, nil
	}
	if !rec.Status.CanTransition(status) {
		return false, fmt.Errorf("%w: %d is %s", ErrConflict, id, rec.Status)
	}

	rec.Status = status
	if err := s.log.Save(rec); err != nil {
		rec.Status = txn.StatusPending
		return false, fmt.Errorf("%w: resolve %d: %v", ErrPersist, id, err)
	}

	close(s.changed)
	s.changed = make(chan struct{})
	return true, nil
}

// Await blocks until the record for id is terminal or ctx is done, and
// returns the record's status at that point.
func (s *Store) Await(ctx context.Context, id int64) (txn.Status, error) {
	for {
		s.mu.RLock()
		rec, ok := s.records[id]
		changed := s.changed
		var status txn.Status
		if ok {
			status = rec.Status
		}
		s.mu.RUnlock()

		if !ok {
			return txn.StatusPending, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		if status.IsTerminal() {
			return status, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return status, ctx.Err()
		}
	}
}

// Pending returns copies of every Pending record in log order.
func (s *Store) Pending() []*txn.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*txn.Transaction
	for _, id := range s.order {
		if rec := s.records[id]; rec.Status == txn.StatusPending {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Snapshot returns copies of every record in log order.
func (s *Store) Snapshot() []*txn.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*txn.Transaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out
}

// MaxID returns the highest logged transaction id, or 0 for an empty log.
func (s *Store) MaxID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	for id := range s.records {
		if id > highest {
			highest = id
		}
	}
	return highest
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close closes the underlying log.
func (s *Store) Close() error {
	return s.log.Close()
}
