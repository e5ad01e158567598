package membership

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rfstore/internal/config"
)

// State is a participant's liveness.
type State int

const (
	Alive State = iota
	Suspect
	Dead
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Member is one participant's entry.
type Member struct {
	Name  string `json:"name"`
	Addr  string `json:"addr"`
	State State  `json:"state"`
	// Failures counts consecutive failed calls.
	Failures int       `json:"failures"`
	LastSeen time.Time `json:"last_seen"`
	// Since is when the member entered its current state.
	Since   time.Time `json:"since"`
	LastErr string    `json:"last_error,omitempty"`
}

// ProbeFunc checks whether the participant at addr is serving.
type ProbeFunc func(ctx context.Context, addr string) error

// Options configure a Table.
type Options struct {
	// ProbeInterval is how often members are health-checked; zero
	// disables probing and the table only learns from Observe.
	ProbeInterval time.Duration
	// DeadAfter is how long a member stays Suspect before it is Dead.
	DeadAfter time.Duration
	// OnChange is called after a member changes state.
	OnChange func(Member)
	Logger   *zap.Logger
	now      func() time.Time
}

// Table is the liveness table of a fixed participant set.
type Table struct {
	mu      sync.RWMutex
	members map[string]*Member // addr -> member
	order   []string
	opts    Options
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a table with every participant Alive.
func New(participants []config.Participant, opts Options) *Table {
	if opts.DeadAfter <= 0 {
		opts.DeadAfter = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.now == nil {
		opts.now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Table{
		members: make(map[string]*Member, len(participants)),
		opts:    opts,
		log:     opts.Logger.Named("membership"),
		ctx:     ctx,
		cancel:  cancel,
	}
	now := opts.now()
	for _, p := range participants {
		addr := p.Addr()
		if _, ok := t.members[addr]; ok {
			continue
		}
		t.members[addr] = &Member{Name: p.Name, Addr: addr, State: Alive, LastSeen: now, Since: now}
		t.order = append(t.order, addr)
	}
	return t
}

// Observe records the outcome of a call to addr. Unknown addresses are
// ignored.
func (t *Table) Observe(addr string, err error) {
	t.mu.Lock()
	m, ok := t.members[addr]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.opts.now()
	prev := m.State
	if err == nil {
		m.Failures = 0
		m.LastErr = ""
		m.LastSeen = now
		if m.State != Alive {
			m.State = Alive
			m.Since = now
		}
	} else {
		m.Failures++
		m.LastErr = err.Error()
		if m.State == Alive {
			m.State = Suspect
			m.Since = now
		}
	}
	changed := m.State != prev
	snapshot := *m
	t.mu.Unlock()

	if changed {
		t.changed(snapshot, prev)
	}
}

// checkTimeouts moves members that have been Suspect for DeadAfter to
// Dead.
func (t *Table) checkTimeouts() {
	var changed []Member

	t.mu.Lock()
	now := t.opts.now()
	for _, addr := range t.order {
		m := t.members[addr]
		if m.State == Suspect && now.Sub(m.Since) >= t.opts.DeadAfter {
			m.State = Dead
			m.Since = now
			changed = append(changed, *m)
		}
	}
	t.mu.Unlock()

	for _, m := range changed {
		t.changed(m, Suspect)
	}
}

func (t *Table) changed(m Member, prev State) {
	t.log.Info("participant state changed",
		zap.String("participant", m.Name),
		zap.String("addr", m.Addr),
		zap.Stringer("from", prev),
		zap.Stringer("to", m.State),
		zap.String("last_error", m.LastErr))
	if t.opts.OnChange != nil {
		t.opts.OnChange(m)
	}
}

// Reachable returns the addresses of members that are not Dead, in
// configuration order. If every member is Dead it returns all of them.
func (t *Table) Reachable() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	addrs := make([]string, 0, len(t.order))
	for _, addr := range t.order {
		if t.members[addr].State != Dead {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		addrs = append(addrs, t.order...)
	}
	return addrs
}

// Get returns the member at addr.
func (t *Table) Get(addr string) (Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[addr]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Snapshot returns every member in configuration order.
func (t *Table) Snapshot() []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make([]Member, 0, len(t.order))
	for _, addr := range t.order {
		snapshot = append(snapshot, *t.members[addr])
	}
	return snapshot
}

// Start probes every member each ProbeInterval and promotes Suspect
// members to Dead. It does nothing when probing is disabled.
func (t *Table) Start(probe ProbeFunc) {
	if t.opts.ProbeInterval <= 0 || probe == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.opts.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				t.probe(probe)
				t.checkTimeouts()
			}
		}
	}()
}

func (t *Table) probe(probe ProbeFunc) {
	t.mu.RLock()
	addrs := append([]string(nil), t.order...)
	t.mu.RUnlock()

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(t.ctx, t.opts.ProbeInterval)
			defer cancel()
			err := probe(ctx, addr)
			if t.ctx.Err() != nil {
				return
			}
			t.Observe(addr, err)
		}(addr)
	}
	wg.Wait()
}

// Stop stops probing.
func (t *Table) Stop() {
	t.cancel()
	t.wg.Wait()
}
