package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rfstore/internal/api"
	"rfstore/internal/txn"
)

// Engine is the participant state recovery drives.
type Engine interface {
	Pending() []*txn.Transaction
	Reacquire(t *txn.Transaction) error
	DoCommit(ctx context.Context, id int64) error
	DoAbort(ctx context.Context, id int64) error
}

// Locator returns the coordinator's address.
type Locator func(ctx context.Context) (string, error)

// Connector returns a FileStore client for the coordinator at addr.
type Connector func(addr string) (api.FileStoreClient, error)

// Static returns a Locator for a known address.
func Static(addr string) Locator {
	return func(context.Context) (string, error) { return addr, nil }
}

// ParticipantConfig configures a Manager.
type ParticipantConfig struct {
	// AdvertiseHost and Port are where the coordinator pushes decisions.
	AdvertiseHost string
	Port          int
	// Timeout bounds each status query; zero means no timeout.
	Timeout time.Duration
	Locate  Locator
	Connect Connector
	Logger  *zap.Logger
}

// Report summarizes a recovery run.
type Report struct {
	Pending    int
	Committed  []int64
	Aborted    []int64
	Unresolved []int64
}

// Manager recovers a participant's pending transactions.
type Manager struct {
	engine Engine
	cfg    ParticipantConfig
	log    *zap.Logger
}

// NewManager returns a Manager for engine.
func NewManager(engine Engine, cfg ParticipantConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		engine: engine,
		cfg:    cfg,
		log:    cfg.Logger.Named("recovery"),
	}
}

// Run retries the locks of pending transactions the engine could not take
// at startup and resolves every pending transaction with the coordinator. The coordinator is only located when something is
// pending. Transactions that cannot be resolved stay pending until the
// next boot.
func (m *Manager) Run(ctx context.Context) (Report, error) {
	pending := m.engine.Pending()
	report := Report{Pending: len(pending)}
	if len(pending) == 0 {
		m.log.Info("no pending transactions")
		return report, nil
	}

	ids := make([]int64, len(pending))
	for i, t := range pending {
		ids[i] = t.ID
		if err := m.engine.Reacquire(t); err != nil {
			m.log.Warn("could not re-acquire lock",
				zap.Int64("txn", t.ID), zap.String("file", t.Filename), zap.Error(err))
		}
	}
	m.log.Info("recovering pending transactions", zap.Int64s("txns", ids))

	addr, err := m.cfg.Locate(ctx)
	if err != nil {
		report.Unresolved = ids
		return report, fmt.Errorf("locate coordinator: %w", err)
	}
	client, err := m.cfg.Connect(addr)
	if err != nil {
		report.Unresolved = ids
		return report, fmt.Errorf("connect to coordinator %s: %w", addr, err)
	}

	for _, t := range pending {
		status, err := m.resolve(ctx, client, t)
		log := m.log.With(zap.Int64("txn", t.ID))
		switch {
		case err != nil:
			log.Warn("recovery failed", zap.Error(err))
			report.Unresolved = append(report.Unresolved, t.ID)
		case status == txn.StatusCommit:
			report.Committed = append(report.Committed, t.ID)
		case status == txn.StatusAbort:
			report.Aborted = append(report.Aborted, t.ID)
		default:
			log.Warn("coordinator has no decision yet")
			report.Unresolved = append(report.Unresolved, t.ID)
		}
	}

	m.log.Info("recovery finished",
		zap.Int("committed", len(report.Committed)),
		zap.Int("aborted", len(report.Aborted)),
		zap.Int("unresolved", len(report.Unresolved)))
	return report, nil
}

// resolve asks the coordinator about t and applies the answer locally.
func (m *Manager) resolve(ctx context.Context, client api.FileStoreClient, t *txn.Transaction) (txn.Status, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	reply, err := client.GetTransactionStatus(ctx, &api.TransactionStatusRequest{
		TxnID:           t.ID,
		ParticipantAddr: m.cfg.AdvertiseHost,
		ParticipantPort: int32(m.cfg.Port),
	})
	if err != nil {
		return txn.StatusPending, err
	}

	switch reply.Status {
	case txn.StatusCommit:
		err = m.engine.DoCommit(ctx, t.ID)
	case txn.StatusAbort:
		err = m.engine.DoAbort(ctx, t.ID)
	}
	return reply.Status, err
}
