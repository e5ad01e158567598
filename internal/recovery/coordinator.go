package recovery

import (
	"go.uber.org/zap"

	"rfstore/internal/storage"
	"rfstore/internal/txn"
)

// Summary describes a coordinator's transaction log at boot.
type Summary struct {
	Records int
	LastID  int64
	Pending []int64
	ByOp    map[txn.Operation]int
}

// Summarize inspects the coordinator's store. The coordinator stays
// passive: pending transactions are resolved when participants ask.
func Summarize(store *storage.Store) Summary {
	s := Summary{
		LastID: store.MaxID(),
		ByOp:   make(map[txn.Operation]int),
	}
	for _, t := range store.Snapshot() {
		s.Records++
		s.ByOp[t.Operation]++
		if t.Status == txn.StatusPending {
			s.Pending = append(s.Pending, t.ID)
		}
	}
	return s
}

// LogSummary writes s to log.
func LogSummary(log *zap.Logger, s Summary) {
	log.Info("transaction log loaded",
		zap.Int("records", s.Records),
		zap.Int64("last_id", s.LastID),
		zap.Int("writes", s.ByOp[txn.OpWrite]),
		zap.Int("deletes", s.ByOp[txn.OpDelete]),
		zap.Int("reads", s.ByOp[txn.OpRead]))
	if len(s.Pending) > 0 {
		log.Warn("undecided transactions in log; they are aborted when participants ask",
			zap.Int64s("txns", s.Pending))
	}
}
