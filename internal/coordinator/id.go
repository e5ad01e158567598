package coordinator

import "sync"

// BaseID is the id the counter starts from on an empty log; the first
// transaction gets BaseID+1.
const BaseID int64 = 10000

// IDGenerator issues strictly increasing transaction ids.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
}

// NewIDGenerator returns a generator that continues after last, or after
// BaseID if last is smaller.
func NewIDGenerator(last int64) *IDGenerator {
	return &IDGenerator{last: max(last, BaseID)}
}

// Next returns a new id.
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last++
	return g.last
}

// Last returns the most recently issued id.
func (g *IDGenerator) Last() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
