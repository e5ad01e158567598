package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"rfstore/internal/api"
	"rfstore/internal/config"
	"rfstore/internal/membership"
	"rfstore/internal/metrics"
	"rfstore/internal/quorum"
	"rfstore/internal/storage"
	"rfstore/internal/txn"
)

// ErrInvalidRequest is returned for requests that are rejected before a
// transaction is created.
var ErrInvalidRequest = errors.New("invalid request")

// Dialer returns a client for the participant at addr.
type Dialer interface {
	ParticipantClient(addr string) (api.ParticipantClient, error)
}

// Options configure an Engine. Zero timeouts disable the timeout.
type Options struct {
	Participants      []config.Participant
	PrepareTimeout    time.Duration
	DecisionTimeout   time.Duration
	ReadTimeout       time.Duration
	RecoveryWait      time.Duration
	FanoutConcurrency int

	Metrics *metrics.Coordinator
	Logger  *zap.Logger
	// Members, if set, learns from every participant call and keeps
	// reads away from dead participants.
	Members *membership.Table
	// Pick chooses the read participant among n; defaults to uniform.
	Pick func(n int) int
}

// ReadResult is the outcome of a read.
type ReadResult struct {
	TxnID   int64
	Content []byte
	Status  api.ReadStatus
	// Outcome is Commit iff content was found.
	Outcome txn.Status
}

// Engine is the transaction coordinator.
type Engine struct {
	store   *storage.Store
	ids     *IDGenerator
	dialer  Dialer
	addrs   []string
	members *membership.Table
	opts    Options
	metrics *metrics.Coordinator
	log     *zap.Logger
}

// New returns a coordinator over store, seeding the id counter from the
// highest logged id.
func New(store *storage.Store, dialer Dialer, opts Options) (*Engine, error) {
	if len(opts.Participants) == 0 {
		return nil, errors.New("coordinator: no participants")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCoordinator(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}

	addrs := make([]string, len(opts.Participants))
	for i, p := range opts.Participants {
		addrs[i] = p.Addr()
	}

	return &Engine{
		store:   store,
		ids:     NewIDGenerator(store.MaxID()),
		dialer:  dialer,
		addrs:   addrs,
		members: opts.Members,
		opts:    opts,
		metrics: opts.Metrics,
		log:     opts.Logger.Named("coordinator"),
	}, nil
}

// Participants returns the participant addresses.
func (e *Engine) Participants() []string {
	return append([]string(nil), e.addrs...)
}

// Members returns the membership table, or nil.
func (e *Engine) Members() *membership.Table { return e.members }

// LastID returns the most recently issued transaction id.
func (e *Engine) LastID() int64 { return e.ids.Last() }

// SubmitWrite replaces filename's content on every participant, or on none.
func (e *Engine) SubmitWrite(ctx context.Context, filename, clientID string, content []byte) (txn.Status, error) {
	if filename == "" {
		return txn.StatusAbort, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	if content == nil {
		content = []byte{}
	}
	return e.runTwoPhase(ctx, &txn.Transaction{
		ID:        e.ids.Next(),
		Operation: txn.OpWrite,
		ClientID:  clientID,
		Filename:  filename,
		Payload:   content,
	})
}

// SubmitDelete removes filename from every participant, or from none.
func (e *Engine) SubmitDelete(ctx context.Context, filename, clientID string) (txn.Status, error) {
	if filename == "" {
		return txn.StatusAbort, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	return e.runTwoPhase(ctx, &txn.Transaction{
		ID:        e.ids.Next(),
		Operation: txn.OpDelete,
		ClientID:  clientID,
		Filename:  filename,
	})
}

func (e *Engine) runTwoPhase(ctx context.Context, t *txn.Transaction) (txn.Status, error) {
	log := e.log.With(zap.Int64("txn", t.ID), zap.Stringer("op", t.Operation), zap.String("file", t.Filename))

	if err := e.store.Append(t); err != nil {
		e.persistFailed(log, err)
		e.metrics.Transactions.WithLabelValues(t.Operation.String(), "failed").Inc()
		return txn.StatusAbort, err
	}
	log.Debug("transaction created", zap.String("client", t.ClientID))

	votes := quorum.CollectVotes(ctx, e.addrs, e.fanout(e.opts.PrepareTimeout), func(ctx context.Context, addr string) (bool, error) {
		yes, err := e.vote(ctx, addr, t)
		switch {
		case err != nil:
			e.metrics.Votes.WithLabelValues("error").Inc()
			log.Debug("vote failed", zap.String("participant", addr), zap.Error(err))
		case yes:
			e.metrics.Votes.WithLabelValues("yes").Inc()
			log.Debug("voted yes", zap.String("participant", addr))
		default:
			e.metrics.Votes.WithLabelValues("no").Inc()
			log.Debug("voted no", zap.String("participant", addr))
		}
		return yes, err
	})

	want := txn.StatusAbort
	if votes.Unanimous {
		want = txn.StatusCommit
	}
	decision := e.decide(log, t.ID, want)
	log.Info("decided",
		zap.Stringer("decision", decision),
		zap.Int("votes", votes.Votes),
		zap.Int("participants", votes.Participants))

	e.broadcast(context.WithoutCancel(ctx), log, t.ID, decision)

	e.metrics.Transactions.WithLabelValues(t.Operation.String(), decision.String()).Inc()
	return decision, nil
}

func (e *Engine) vote(ctx context.Context, addr string, t *txn.Transaction) (bool, error) {
	client, err := e.dialer.ParticipantClient(addr)
	if err != nil {
		return false, err
	}
	report, err := client.CanCommit(ctx, t)
	e.observe(addr, err)
	if err != nil {
		return false, err
	}
	return report.Status == api.StatusSuccessful, nil
}

// decide records the decision for id. If a recovery query resolved the
// transaction first, its recorded status wins. A commit that cannot be
// persisted becomes an abort.
func (e *Engine) decide(log *zap.Logger, id int64, want txn.Status) txn.Status {
	_, err := e.store.Resolve(id, want)
	switch {
	case err == nil:
		return want
	case errors.Is(err, storage.ErrConflict):
		recorded := e.store.Get(id).Status
		log.Info("transaction already resolved", zap.Stringer("status", recorded))
		return recorded
	}

	e.persistFailed(log, err)
	if want == txn.StatusAbort {
		return txn.StatusAbort
	}

	_, err = e.store.Resolve(id, txn.StatusAbort)
	if errors.Is(err, storage.ErrConflict) {
		return e.store.Get(id).Status
	}
	if err != nil {
		// Still Pending in the log; a recovery query will abort it.
		e.persistFailed(log, err)
	}
	return txn.StatusAbort
}

// broadcast delivers the decision to every participant. Failures are
// logged and counted; participants learn the decision through recovery.
func (e *Engine) broadcast(ctx context.Context, log *zap.Logger, id int64, decision txn.Status) {
	res := quorum.Broadcast(ctx, e.addrs, e.fanout(e.opts.DecisionTimeout), func(ctx context.Context, addr string) error {
		return e.deliver(ctx, addr, id, decision)
	})
	if res.Err == nil {
		return
	}
	for _, err := range multierr.Errors(res.Err) {
		e.metrics.DeliveryFailures.Inc()
		log.Warn("decision not delivered", zap.Stringer("decision", decision), zap.Error(err))
	}
}

func (e *Engine) deliver(ctx context.Context, addr string, id int64, decision txn.Status) error {
	client, err := e.dialer.ParticipantClient(addr)
	if err != nil {
		return err
	}
	ref := &api.TxnRef{ID: id}
	if decision == txn.StatusCommit {
		_, err = client.DoCommit(ctx, ref)
	} else {
		_, err = client.DoAbort(ctx, ref)
	}
	e.observe(addr, err)
	return err
}

// observe feeds a call outcome to the membership table. Only transport
// failures count against the participant.
func (e *Engine) observe(addr string, err error) {
	if e.members == nil {
		return
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		e.members.Observe(addr, err)
	default:
		e.members.Observe(addr, nil)
	}
}

// SubmitRead reads filename from one participant chosen at random among
// those not known to be dead.
func (e *Engine) SubmitRead(ctx context.Context, filename, clientID string) (ReadResult, error) {
	if filename == "" {
		return ReadResult{Status: api.ReadUnspecified, Outcome: txn.StatusAbort}, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}

	t := &txn.Transaction{
		ID:        e.ids.Next(),
		Operation: txn.OpRead,
		ClientID:  clientID,
		Filename:  filename,
	}
	log := e.log.With(zap.Int64("txn", t.ID), zap.Stringer("op", t.Operation), zap.String("file", t.Filename))
	result := ReadResult{TxnID: t.ID, Status: api.ReadUnavailable, Outcome: txn.StatusAbort}

	if err := e.store.Append(t); err != nil {
		e.persistFailed(log, err)
		e.metrics.Transactions.WithLabelValues(t.Operation.String(), "failed").Inc()
		return result, err
	}

	candidates := e.addrs
	if e.members != nil {
		candidates = e.members.Reachable()
	}
	addr := candidates[e.opts.Pick(len(candidates))]
	reply, err := e.read(ctx, addr, t)
	if err != nil {
		log.Warn("read failed", zap.String("participant", addr), zap.Error(err))
	} else {
		result.Status = reply.ReadStatus
		if reply.ReadStatus == api.ReadFound {
			result.Content = reply.Content
		}
	}

	want := txn.StatusAbort
	if result.Status == api.ReadFound {
		want = txn.StatusCommit
	}
	result.Outcome = e.decide(log, t.ID, want)
	log.Debug("read served", zap.String("participant", addr), zap.Stringer("read_status", result.Status))

	e.metrics.Transactions.WithLabelValues(t.Operation.String(), result.Outcome.String()).Inc()
	return result, nil
}

func (e *Engine) read(ctx context.Context, addr string, t *txn.Transaction) (*api.RFile, error) {
	client, err := e.dialer.ParticipantClient(addr)
	if err != nil {
		return nil, err
	}
	if e.opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ReadTimeout)
		defer cancel()
	}
	reply, err := client.ReadFile(ctx, t)
	e.observe(addr, err)
	return reply, err
}

// ResolveRecovery answers a recovering participant's query for id and
// pushes the final status back to it at participantAddr. Unknown ids are
// aborted without creating a record. A Pending transaction is given
// RecoveryWait to be decided before it is aborted.
func (e *Engine) ResolveRecovery(ctx context.Context, id int64, participantAddr string) (txn.Status, error) {
	log := e.log.With(zap.Int64("txn", id), zap.String("participant", participantAddr))

	status, err := e.recoveryStatus(ctx, log, id)
	if err != nil {
		e.metrics.RecoveryQueries.WithLabelValues("error").Inc()
		return txn.StatusPending, err
	}
	e.metrics.RecoveryQueries.WithLabelValues(status.String()).Inc()
	log.Info("answering recovery query", zap.Stringer("status", status))

	pushCtx := context.WithoutCancel(ctx)
	if e.opts.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(pushCtx, e.opts.DecisionTimeout)
		defer cancel()
	}
	if err := e.deliver(pushCtx, participantAddr, id, status); err != nil {
		e.metrics.DeliveryFailures.Inc()
		log.Warn("decision not delivered", zap.Stringer("decision", status), zap.Error(err))
	}
	return status, nil
}

func (e *Engine) recoveryStatus(ctx context.Context, log *zap.Logger, id int64) (txn.Status, error) {
	rec := e.store.Get(id)
	if rec == nil {
		log.Info("recovery query for unknown transaction")
		return txn.StatusAbort, nil
	}
	if rec.Status.IsTerminal() {
		return rec.Status, nil
	}

	waitCtx := ctx
	if e.opts.RecoveryWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.opts.RecoveryWait)
		defer cancel()
	}
	status, err := e.store.Await(waitCtx, id)
	if err == nil {
		return status, nil
	}

	// No decision in time: without a recorded unanimous vote, abort.
	_, err = e.store.Resolve(id, txn.StatusAbort)
	switch {
	case err == nil:
		log.Info("aborted undecided transaction")
		return txn.StatusAbort, nil
	case errors.Is(err, storage.ErrConflict):
		return e.store.Get(id).Status, nil
	default:
		e.persistFailed(log, err)
		return txn.StatusPending, err
	}
}

func (e *Engine) fanout(timeout time.Duration) quorum.Options {
	return quorum.Options{
		Concurrency:    e.opts.FanoutConcurrency,
		PerCallTimeout: timeout,
	}
}

func (e *Engine) persistFailed(log *zap.Logger, err error) {
	e.metrics.PersistFailures.Inc()
	log.Error("transaction log write failed", zap.Error(err))
}
