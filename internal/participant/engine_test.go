package participant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rfstore/internal/lock"
	"rfstore/internal/metrics"
	"rfstore/internal/storage"
	"rfstore/internal/txn"
)

type fixture struct {
	engine  *Engine
	log     *storage.MemoryLog
	metrics *metrics.Participant
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLog(t, storage.NewMemoryLog(), t.TempDir())
}

func newFixtureWithLog(t *testing.T, log *storage.MemoryLog, dir string) *fixture {
	t.Helper()

	store, err := storage.Open(log)
	require.NoError(t, err)

	m := metrics.NewParticipant(prometheus.NewRegistry())
	e, err := New(store, Options{ID: "p1", DataDir: dir, Metrics: m, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	return &fixture{engine: e, log: log, metrics: m, dir: dir}
}

func (f *fixture) read(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(f.dir, name))
	require.NoError(t, err)
	return string(b)
}

func write(id int64, name, content string) *txn.Transaction {
	return &txn.Transaction{ID: id, Operation: txn.OpWrite, ClientID: "c1", Filename: name, Payload: []byte(content)}
}

func del(id int64, name string) *txn.Transaction {
	return &txn.Transaction{ID: id, Operation: txn.OpDelete, ClientID: "c1", Filename: name}
}

func TestWriteCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.engine.CanCommit(ctx, write(10001, "report.txt", "hello")))

	status, ok := f.engine.Status(10001)
	require.True(t, ok)
	assert.Equal(t, txn.StatusPending, status)
	assert.Len(t, f.engine.Pending(), 1)

	require.NoError(t, f.engine.DoCommit(ctx, 10001))
	assert.Equal(t, "hello", f.read(t, "report.txt"))

	status, _ = f.engine.Status(10001)
	assert.Equal(t, txn.StatusCommit, status)
	assert.Empty(t, f.engine.Pending())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.PendingEntries.WithLabelValues("write")))
}

func TestWriteCommitReplacesContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "notes"), []byte("old and longer content"), 0o644))

	require.True(t, f.engine.CanCommit(ctx, write(1, "notes", "new")))
	require.NoError(t, f.engine.DoCommit(ctx, 1))

	assert.Equal(t, "new", f.read(t, "notes"))
}

func TestAbortedWriteLeavesNoFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.engine.CanCommit(ctx, write(1, "draft.txt", "x")))
	assert.FileExists(t, filepath.Join(f.dir, "draft.txt"))

	require.NoError(t, f.engine.DoAbort(ctx, 1))
	assert.NoFileExists(t, filepath.Join(f.dir, "draft.txt"))

	status, _ := f.engine.Status(1)
	assert.Equal(t, txn.StatusAbort, status)
}

func TestAbortedWriteKeepsExistingContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "keep"), []byte("original"), 0o644))

	require.True(t, f.engine.CanCommit(ctx, write(1, "keep", "replacement")))
	require.NoError(t, f.engine.DoAbort(ctx, 1))

	assert.Equal(t, "original", f.read(t, "keep"))
}

func TestDeleteCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "old.log"), []byte("x"), 0o644))

	require.True(t, f.engine.CanCommit(ctx, del(1, "old.log")))
	require.NoError(t, f.engine.DoCommit(ctx, 1))

	assert.NoFileExists(t, filepath.Join(f.dir, "old.log"))
}

func TestDeleteMissingFileVotesNo(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.engine.CanCommit(context.Background(), del(1, "ghost")))

	status, ok := f.engine.Status(1)
	require.True(t, ok, "no votes are logged too")
	assert.Equal(t, txn.StatusAbort, status)
}

func TestConflictingOperationsVoteNo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "shared"), []byte("x"), 0o644))

	require.True(t, f.engine.CanCommit(ctx, write(1, "shared", "a")))
	assert.False(t, f.engine.CanCommit(ctx, write(2, "shared", "b")))
	assert.False(t, f.engine.CanCommit(ctx, del(3, "shared")))

	require.NoError(t, f.engine.DoAbort(ctx, 1))
	assert.True(t, f.engine.CanCommit(ctx, del(4, "shared")), "lock released by abort")
}

func TestInvalidRequestsVoteNo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		t    *txn.Transaction
	}{
		{"read operation", &txn.Transaction{ID: 1, Operation: txn.OpRead, Filename: "a"}},
		{"unknown operation", &txn.Transaction{ID: 2, Filename: "a"}},
		{"absolute path", write(3, "/etc/passwd", "x")},
		{"escaping path", write(4, "../outside", "x")},
		{"empty name", write(5, "", "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, f.engine.CanCommit(ctx, tt.t))
		})
	}
	assert.NoFileExists(t, filepath.Join(filepath.Dir(f.dir), "outside"))
}

func TestDecisionsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.engine.CanCommit(ctx, write(1, "a", "first")))
	require.NoError(t, f.engine.DoCommit(ctx, 1))

	// A later write to the same file must not be clobbered by a redelivery.
	require.True(t, f.engine.CanCommit(ctx, write(2, "a", "second")))
	require.NoError(t, f.engine.DoCommit(ctx, 2))
	require.NoError(t, f.engine.DoCommit(ctx, 1))
	require.NoError(t, f.engine.DoAbort(ctx, 1))
	assert.Equal(t, "second", f.read(t, "a"))

	require.NoError(t, f.engine.DoAbort(ctx, 42), "unknown transaction")
	require.NoError(t, f.engine.DoCommit(ctx, 42), "unknown transaction")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("commit")))
}

func TestConcurrentCommitDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.engine.CanCommit(ctx, write(1, "a", "payload")))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.DoCommit(ctx, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, "payload", f.read(t, "a"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues("commit")))
}

func TestRepeatedVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.True(t, f.engine.CanCommit(ctx, write(1, "a", "x")))
	assert.True(t, f.engine.CanCommit(ctx, write(1, "a", "x")), "still holds the lock")

	require.NoError(t, f.engine.DoAbort(ctx, 1))
	assert.False(t, f.engine.CanCommit(ctx, write(1, "a", "x")), "already aborted")
}

func TestPersistFailureVotesNoAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.log.SetFailSaves(errors.New("disk full"))
	assert.False(t, f.engine.CanCommit(ctx, write(1, "a", "x")))
	assert.NoFileExists(t, filepath.Join(f.dir, "a"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistFailures))

	f.log.SetFailSaves(nil)
	assert.True(t, f.engine.CanCommit(ctx, write(2, "a", "x")))
}

func TestReadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "r"), []byte("content"), 0o644))

	got, err := f.engine.ReadFile(ctx, &txn.Transaction{ID: 1, Operation: txn.OpRead, Filename: "r"})
	require.NoError(t, err)
	assert.Equal(t, "content", string(got))

	_, err = f.engine.ReadFile(ctx, &txn.Transaction{ID: 2, Operation: txn.OpRead, Filename: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.ReadFile(ctx, &txn.Transaction{ID: 3, Operation: txn.OpRead, Filename: "../r"})
	assert.ErrorIs(t, err, ErrInvalidFilename)

	require.True(t, f.engine.CanCommit(ctx, write(4, "r", "next")))
	_, err = f.engine.ReadFile(ctx, &txn.Transaction{ID: 5, Operation: txn.OpRead, Filename: "r"})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestReacquireAfterRestart(t *testing.T) {
	log := storage.NewMemoryLog()
	dir := t.TempDir()
	ctx := context.Background()

	first := newFixtureWithLog(t, log, dir)
	require.True(t, first.engine.CanCommit(ctx, write(1, "a", "recovered")))
	require.NoError(t, first.engine.Close())

	second := newFixtureWithLog(t, log, dir)
	pending := second.engine.Pending()
	require.Len(t, pending, 1)
	require.NoError(t, second.engine.Reacquire(pending[0]))
	require.NoError(t, second.engine.Reacquire(pending[0]), "already held")

	assert.False(t, second.engine.CanCommit(ctx, write(2, "a", "other")), "lock re-acquired")

	require.NoError(t, second.engine.DoCommit(ctx, 1))
	assert.Equal(t, "recovered", second.read(t, "a"))
}

func TestCommitAfterRestartWithFileRemovedOutOfBand(t *testing.T) {
	log := storage.NewMemoryLog()
	dir := t.TempDir()
	ctx := context.Background()

	first := newFixtureWithLog(t, log, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone"), []byte("x"), 0o644))
	require.True(t, first.engine.CanCommit(ctx, write(1, "a", "late")))
	require.True(t, first.engine.CanCommit(ctx, del(2, "gone")))
	require.NoError(t, first.engine.Close())

	// The file was removed out of band while the participant was down.
	require.NoError(t, os.Remove(filepath.Join(dir, "gone")))

	second := newFixtureWithLog(t, log, dir)
	require.NoError(t, second.engine.DoCommit(ctx, 1))
	require.NoError(t, second.engine.DoCommit(ctx, 2))

	assert.Equal(t, "late", second.read(t, "a"))
	assert.NoFileExists(t, filepath.Join(dir, "gone"))
}

func TestRestartHoldsPendingLocks(t *testing.T) {
	log := storage.NewMemoryLog()
	dir := t.TempDir()
	ctx := context.Background()

	first := newFixtureWithLog(t, log, dir)
	require.True(t, first.engine.CanCommit(ctx, write(1, "report.txt", "A")))
	require.NoError(t, first.engine.Close())

	second := newFixtureWithLog(t, log, dir)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.metrics.PendingEntries.WithLabelValues("write")))
	assert.False(t, second.engine.CanCommit(ctx, write(2, "report.txt", "B")), "pending write still owns the file")

	require.NoError(t, second.engine.DoCommit(ctx, 1))
	assert.Equal(t, "A", second.read(t, "report.txt"))
	status, _ := second.engine.Status(1)
	assert.Equal(t, txn.StatusCommit, status)
	assert.Equal(t, 0.0, testutil.ToFloat64(second.metrics.PendingEntries.WithLabelValues("write")))
}

func TestCommitStaysPendingWhileFileIsLockedElsewhere(t *testing.T) {
	log := storage.NewMemoryLog()
	dir := t.TempDir()
	ctx := context.Background()

	first := newFixtureWithLog(t, log, dir)
	require.True(t, first.engine.CanCommit(ctx, write(1, "report.txt", "A")))
	require.NoError(t, first.engine.Close())

	other, err := lock.TryExclusive(filepath.Join(dir, "report.txt"), false)
	require.NoError(t, err)

	second := newFixtureWithLog(t, log, dir)
	require.ErrorIs(t, second.engine.DoCommit(ctx, 1), lock.ErrUnavailable)
	status, _ := second.engine.Status(1)
	assert.Equal(t, txn.StatusPending, status)
	assert.Len(t, second.engine.Pending(), 1)
	assert.Empty(t, second.read(t, "report.txt"))

	require.NoError(t, other.Release())
	require.NoError(t, second.engine.DoCommit(ctx, 1))
	assert.Equal(t, "A", second.read(t, "report.txt"))
	status, _ = second.engine.Status(1)
	assert.Equal(t, txn.StatusCommit, status)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.metrics.Decisions.WithLabelValues("commit")))
}

func TestAbortBeforeVoteRefusesLateVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.DoAbort(ctx, 1))
	status, ok := f.engine.Status(1)
	require.True(t, ok)
	assert.Equal(t, txn.StatusAbort, status)

	assert.False(t, f.engine.CanCommit(ctx, write(1, "a", "late")))
	assert.NoFileExists(t, filepath.Join(f.dir, "a"))
	assert.Empty(t, f.engine.Pending())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.PendingEntries.WithLabelValues("write")))

	assert.True(t, f.engine.CanCommit(ctx, write(2, "a", "next")), "file is free")
	require.NoError(t, f.engine.DoAbort(ctx, 1), "repeated abort")
}

func TestCanceledVoteRequestVotesNo(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, f.engine.CanCommit(ctx, write(1, "a", "x")))
	assert.NoFileExists(t, filepath.Join(f.dir, "a"))
	_, ok := f.engine.Status(1)
	assert.False(t, ok)
}

func TestAbortAfterRestartRemovesCreatedFile(t *testing.T) {
	log := storage.NewMemoryLog()
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept"), []byte("old"), 0o644))

	first := newFixtureWithLog(t, log, dir)
	require.True(t, first.engine.CanCommit(ctx, write(1, "new.txt", "x")))
	require.True(t, first.engine.CanCommit(ctx, write(2, "kept", "y")))
	require.NoError(t, first.engine.Close())

	second := newFixtureWithLog(t, log, dir)
	assert.True(t, second.engine.store.Get(1).Created)
	assert.False(t, second.engine.store.Get(2).Created)

	require.NoError(t, second.engine.DoAbort(ctx, 1))
	require.NoError(t, second.engine.DoAbort(ctx, 2))
	assert.NoFileExists(t, filepath.Join(dir, "new.txt"))
	assert.Equal(t, "old", second.read(t, "kept"))
}
