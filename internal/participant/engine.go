package participant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"rfstore/internal/lock"
	"rfstore/internal/metrics"
	"rfstore/internal/storage"
	"rfstore/internal/txn"
)

var (
	// ErrNotFound is returned by ReadFile when the file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrBusy is returned by ReadFile when a pending write or delete holds
	// the file.
	ErrBusy = errors.New("file busy")
	// ErrInvalidFilename is returned for empty, absolute or escaping names.
	ErrInvalidFilename = errors.New("invalid filename")
)

// Options configure an Engine.
type Options struct {
	ID      string
	DataDir string
	Metrics *metrics.Participant
	Logger  *zap.Logger
}

// Engine is a participant's two-phase commit state machine.
type Engine struct {
	id      string
	dataDir string
	store   *storage.Store
	writes  *lock.Table
	deletes *lock.Table
	metrics *metrics.Participant
	log     *zap.Logger

	// decideMu serializes DoCommit and DoAbort.
	decideMu sync.Mutex
}

// New returns an engine storing files under opts.DataDir and its
// transaction records in store. Locks of transactions still pending in the
// log are taken again before New returns; a lock that cannot be taken is
// retried by recovery and on commit.
func New(store *storage.Store, opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, errors.New("participant: data dir is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewParticipant(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		id:      opts.ID,
		dataDir: opts.DataDir,
		store:   store,
		writes:  lock.NewTable("write"),
		deletes: lock.NewTable("delete"),
		metrics: opts.Metrics,
		log:     opts.Logger.Named("participant").With(zap.String("node", opts.ID)),
	}
	for _, t := range store.Pending() {
		if err := e.Reacquire(t); err != nil {
			e.log.Warn("re-acquiring lock of pending transaction", zap.Int64("txn", t.ID), zap.String("file", t.Filename), zap.Error(err))
		}
	}
	return e, nil
}

// ID returns the participant's name.
func (e *Engine) ID() string { return e.id }

// DataDir returns the directory files are stored in.
func (e *Engine) DataDir() string { return e.dataDir }

// CanCommit votes on t. A yes vote means the file is locked for t and the
// vote is durable.
func (e *Engine) CanCommit(ctx context.Context, t *txn.Transaction) bool {
	log := e.log.With(zap.Int64("txn", t.ID), zap.Stringer("op", t.Operation), zap.String("file", t.Filename))

	if existing := e.store.Get(t.ID); existing != nil {
		yes := existing.Status == txn.StatusPending && e.tableFor(existing.Operation).Holds(existing.Filename, existing.ID)
		log.Debug("repeated vote request", zap.Bool("vote", yes), zap.Stringer("status", existing.Status))
		return yes
	}

	if err := ctx.Err(); err != nil {
		log.Info("voting no", zap.Error(err))
		e.countVote(t.Operation, false)
		return false
	}

	rec := t.Clone()
	rec.Status = txn.StatusPending
	rec.Created = false

	p, err := e.acquire(rec)
	if err != nil {
		log.Info("voting no", zap.Error(err))
		rec.Status = txn.StatusAbort
		if err := e.store.Append(rec); err != nil {
			e.persistFailed(log, err)
		}
		e.countVote(rec.Operation, false)
		return false
	}

	table := e.tableFor(rec.Operation)
	if err := table.Add(p); err != nil {
		log.Warn("voting no", zap.Error(err))
		e.discard(p)
		rec.Status = txn.StatusAbort
		if err := e.store.Append(rec); err != nil {
			e.persistFailed(log, err)
		}
		e.countVote(rec.Operation, false)
		return false
	}

	rec.Created = p.Created
	if err := e.store.Append(rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// A decision for this id was logged while we were locking.
			log.Info("voting no", zap.Error(err))
		} else {
			e.persistFailed(log, err)
		}
		if p := table.Take(rec.Filename, rec.ID); p != nil {
			e.discard(p)
		}
		e.updateGauge(table)
		e.countVote(rec.Operation, false)
		return false
	}

	e.updateGauge(table)
	e.countVote(rec.Operation, true)
	log.Debug("voting yes")
	return true
}

// DoCommit applies a committed transaction. Unknown and already decided
// transactions are ignored. The commit is only logged once the file's lock
// is held, so a lock that cannot be taken leaves the transaction pending and
// returns an error for the coordinator to retry.
func (e *Engine) DoCommit(ctx context.Context, id int64) error {
	e.decideMu.Lock()
	defer e.decideMu.Unlock()
	log := e.log.With(zap.Int64("txn", id))

	rec := e.store.Get(id)
	switch {
	case rec == nil:
		log.Debug("commit for unknown transaction ignored")
		return nil
	case rec.Status == txn.StatusCommit:
		return nil
	case rec.Status == txn.StatusAbort:
		log.Warn("commit for aborted transaction ignored")
		return nil
	}

	table := e.tableFor(rec.Operation)
	defer e.updateGauge(table)

	p := table.Take(rec.Filename, id)
	if p == nil {
		var err error
		p, err = e.acquire(rec)
		switch {
		case rec.Operation == txn.OpDelete && errors.Is(err, lock.ErrNotExist):
			// Already gone; only the decision is left to log.
		case err != nil:
			log.Error("commit deferred", zap.String("file", rec.Filename), zap.Error(err))
			return fmt.Errorf("lock %s for commit: %w", rec.Filename, err)
		}
	}

	changed, err := e.store.Resolve(id, txn.StatusCommit)
	if err != nil {
		if !errors.Is(err, storage.ErrPersist) {
			log.Warn("commit rejected", zap.Error(err))
			if p != nil {
				e.discard(p)
			}
			return nil
		}
		e.persistFailed(log, err)
	} else if !changed {
		if p != nil {
			p.Handle.Release()
		}
		return nil
	}

	if applyErr := e.apply(rec, p); applyErr != nil {
		log.Error("applying commit failed", zap.String("file", rec.Filename), zap.Error(applyErr))
		return applyErr
	}
	e.metrics.Decisions.WithLabelValues(txn.StatusCommit.String()).Inc()
	log.Info("committed", zap.Stringer("op", rec.Operation), zap.String("file", rec.Filename))
	return err
}

// DoAbort discards a pending transaction without touching the file. An
// abort for an unknown id is logged as an abort record so that a vote
// request arriving after it is refused. Already decided transactions are
// ignored.
func (e *Engine) DoAbort(ctx context.Context, id int64) error {
	e.decideMu.Lock()
	defer e.decideMu.Unlock()
	log := e.log.With(zap.Int64("txn", id))

	rec := e.store.Get(id)
	if rec == nil {
		err := e.store.Append(&txn.Transaction{ID: id, Status: txn.StatusAbort})
		switch {
		case err == nil:
			e.metrics.Decisions.WithLabelValues(txn.StatusAbort.String()).Inc()
			log.Info("aborted before vote")
			return nil
		case !errors.Is(err, storage.ErrDuplicate):
			e.persistFailed(log, err)
			return err
		}
		// The vote was logged in the meantime.
		rec = e.store.Get(id)
	}

	switch rec.Status {
	case txn.StatusAbort:
		return nil
	case txn.StatusCommit:
		log.Warn("abort for committed transaction ignored")
		return nil
	}

	changed, err := e.store.Resolve(id, txn.StatusAbort)
	if err != nil {
		if !errors.Is(err, storage.ErrPersist) {
			log.Warn("abort rejected", zap.Error(err))
			return nil
		}
		e.persistFailed(log, err)
	} else if !changed {
		return nil
	}

	table := e.tableFor(rec.Operation)
	if p := table.Take(rec.Filename, id); p != nil {
		e.discard(p)
		e.updateGauge(table)
	}
	e.metrics.Decisions.WithLabelValues(txn.StatusAbort.String()).Inc()
	log.Info("aborted", zap.Stringer("op", rec.Operation), zap.String("file", rec.Filename))
	return err
}

// ReadFile returns the content of t's file under a shared lock.
func (e *Engine) ReadFile(ctx context.Context, t *txn.Transaction) ([]byte, error) {
	path, err := e.path(t.Filename)
	if err != nil {
		e.metrics.Reads.WithLabelValues("invalid").Inc()
		return nil, err
	}

	h, err := lock.TryShared(path)
	switch {
	case errors.Is(err, lock.ErrNotExist):
		e.metrics.Reads.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, t.Filename)
	case errors.Is(err, lock.ErrUnavailable):
		e.metrics.Reads.WithLabelValues("busy").Inc()
		return nil, fmt.Errorf("%w: %s", ErrBusy, t.Filename)
	case err != nil:
		e.metrics.Reads.WithLabelValues("error").Inc()
		return nil, err
	}
	defer h.Release()

	content, err := h.ReadAll()
	if err != nil {
		e.metrics.Reads.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read %s: %w", t.Filename, err)
	}
	e.metrics.Reads.WithLabelValues("found").Inc()
	return content, nil
}

// Pending returns the transactions this participant voted yes on and has
// no decision for.
func (e *Engine) Pending() []*txn.Transaction {
	return e.store.Pending()
}

// Status returns the logged status of id.
func (e *Engine) Status(id int64) (txn.Status, bool) {
	rec := e.store.Get(id)
	if rec == nil {
		return txn.StatusPending, false
	}
	return rec.Status, true
}

// Reacquire takes the lock of a pending transaction loaded from the log
// and registers its pending entry. Locks do not survive restarts.
func (e *Engine) Reacquire(t *txn.Transaction) error {
	table := e.tableFor(t.Operation)
	if table.Holds(t.Filename, t.ID) {
		return nil
	}

	p, err := e.acquire(t)
	if err != nil {
		return err
	}
	if err := table.Add(p); err != nil {
		p.Handle.Release()
		return err
	}
	e.updateGauge(table)
	return nil
}

// Close releases every held lock without applying or discarding the
// pending operations, then closes the transaction log.
func (e *Engine) Close() error {
	for _, table := range []*lock.Table{e.writes, e.deletes} {
		for _, p := range table.Drain() {
			p.Handle.Release()
		}
		e.updateGauge(table)
	}
	return e.store.Close()
}

// acquire locks t's file for a write or delete.
func (e *Engine) acquire(t *txn.Transaction) (*lock.Pending, error) {
	path, err := e.path(t.Filename)
	if err != nil {
		return nil, err
	}

	var h *lock.Handle
	switch t.Operation {
	case txn.OpWrite:
		h, err = lock.TryExclusive(path, true)
	case txn.OpDelete:
		h, err = lock.TryExclusive(path, false)
	default:
		return nil, fmt.Errorf("operation %s cannot be voted on", t.Operation)
	}
	if err != nil {
		return nil, err
	}

	return &lock.Pending{
		TxnID:    t.ID,
		Filename: t.Filename,
		Handle:   h,
		Payload:  t.Payload,
		Created:  h.Created() || t.Created,
	}, nil
}

// apply performs a committed write or delete under p and releases p. A nil
// p is a delete whose file is already gone.
func (e *Engine) apply(rec *txn.Transaction, p *lock.Pending) error {
	if p == nil {
		return nil
	}
	defer p.Handle.Release()

	if rec.Operation == txn.OpDelete {
		return p.Handle.Remove()
	}
	return p.Handle.Replace(rec.Payload)
}

// discard releases an entry's lock, removing the file if only the lock
// attempt created it.
func (e *Engine) discard(p *lock.Pending) {
	if p.Created {
		if err := p.Handle.Remove(); err != nil {
			e.log.Warn("removing file created for aborted write", zap.String("file", p.Filename), zap.Error(err))
		}
	}
	if err := p.Handle.Release(); err != nil {
		e.log.Warn("releasing lock", zap.String("file", p.Filename), zap.Error(err))
	}
}

func (e *Engine) path(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return filepath.Join(e.dataDir, name), nil
}

func (e *Engine) tableFor(op txn.Operation) *lock.Table {
	if op == txn.OpDelete {
		return e.deletes
	}
	return e.writes
}

func (e *Engine) updateGauge(table *lock.Table) {
	e.metrics.PendingEntries.WithLabelValues(table.Name()).Set(float64(table.Len()))
}

func (e *Engine) countVote(op txn.Operation, yes bool) {
	vote := "no"
	if yes {
		vote = "yes"
	}
	e.metrics.Votes.WithLabelValues(op.String(), vote).Inc()
}

func (e *Engine) persistFailed(log *zap.Logger, err error) {
	e.metrics.PersistFailures.Inc()
	log.Error("transaction log write failed", zap.Error(err))
}
