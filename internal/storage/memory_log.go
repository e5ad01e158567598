package storage

import (
	"sort"
	"sync"

	"rfstore/internal/txn"
)

// MemoryLog is a Log that lives only as long as the process. It backs
// ephemeral nodes and tests.
type MemoryLog struct {
	mu      sync.Mutex
	records map[int64]*txn.Transaction
	// failSaves makes every Save fail when set.
	failSaves error
}

// NewMemoryLog returns an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{records: make(map[int64]*txn.Transaction)}
}

func (l *MemoryLog) Load() ([]*txn.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*txn.Transaction, 0, len(l.records))
	for _, t := range l.records {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l *MemoryLog) Save(t *txn.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failSaves != nil {
		return l.failSaves
	}
	l.records[t.ID] = t.Clone()
	return nil
}

// SetFailSaves switches save failures on (err != nil) or off.
func (l *MemoryLog) SetFailSaves(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSaves = err
}

func (l *MemoryLog) Close() error {
	return nil
}
