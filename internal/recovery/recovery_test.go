package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"

	"rfstore/internal/api"
	"rfstore/internal/storage"
	"rfstore/internal/txn"
)

type fakeEngine struct {
	mu         sync.Mutex
	pending    []*txn.Transaction
	reacquired []int64
	commits    []int64
	aborts     []int64
}

func (e *fakeEngine) Pending() []*txn.Transaction { return e.pending }

func (e *fakeEngine) Reacquire(t *txn.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reacquired = append(e.reacquired, t.ID)
	if t.Filename == "locked" {
		return errors.New("lock unavailable")
	}
	return nil
}

func (e *fakeEngine) DoCommit(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commits = append(e.commits, id)
	return nil
}

func (e *fakeEngine) DoAbort(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aborts = append(e.aborts, id)
	return nil
}

// fakeCoordinator answers status queries from a fixed table.
type fakeCoordinator struct {
	api.FileStoreClient
	statuses map[int64]txn.Status
	requests []*api.TransactionStatusRequest
}

func (c *fakeCoordinator) GetTransactionStatus(ctx context.Context, in *api.TransactionStatusRequest, _ ...grpc.CallOption) (*api.TransactionStatusReply, error) {
	c.requests = append(c.requests, in)
	status, ok := c.statuses[in.TxnID]
	if !ok {
		return nil, errors.New("unavailable")
	}
	return &api.TransactionStatusReply{Status: status}, nil
}

func TestManager_Run(t *testing.T) {
	engine := &fakeEngine{pending: []*txn.Transaction{
		{ID: 10001, Operation: txn.OpWrite, Filename: "a"},
		{ID: 10002, Operation: txn.OpDelete, Filename: "locked"},
		{ID: 10003, Operation: txn.OpWrite, Filename: "c"},
		{ID: 10004, Operation: txn.OpWrite, Filename: "d"},
		{ID: 10005, Operation: txn.OpWrite, Filename: "e"},
	}}
	coord := &fakeCoordinator{statuses: map[int64]txn.Status{
		10001: txn.StatusCommit,
		10002: txn.StatusAbort,
		10003: txn.StatusCommit,
		10005: txn.StatusPending,
	}}

	var connectedTo string
	m := NewManager(engine, ParticipantConfig{
		AdvertiseHost: "10.0.0.7",
		Port:          9091,
		Locate:        Static("coord:9090"),
		Connect: func(addr string) (api.FileStoreClient, error) {
			connectedTo = addr
			return coord, nil
		},
		Logger: zaptest.NewLogger(t),
	})

	report, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "coord:9090", connectedTo)
	assert.Equal(t, 5, report.Pending)
	assert.Equal(t, []int64{10001, 10003}, report.Committed)
	assert.Equal(t, []int64{10002}, report.Aborted)
	assert.Equal(t, []int64{10004, 10005}, report.Unresolved)

	assert.Len(t, engine.reacquired, 5, "every pending transaction re-locked, failures included")
	assert.Equal(t, []int64{10001, 10003}, engine.commits)
	assert.Equal(t, []int64{10002}, engine.aborts)

	require.Len(t, coord.requests, 5)
	assert.Equal(t, "10.0.0.7", coord.requests[0].ParticipantAddr)
	assert.Equal(t, int32(9091), coord.requests[0].ParticipantPort)
}

func TestManager_NothingPendingSkipsLocate(t *testing.T) {
	m := NewManager(&fakeEngine{}, ParticipantConfig{
		Locate: func(context.Context) (string, error) {
			t.Fatal("coordinator located without pending transactions")
			return "", nil
		},
	})

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
}

func TestManager_LocateFailure(t *testing.T) {
	engine := &fakeEngine{pending: []*txn.Transaction{{ID: 1, Operation: txn.OpWrite, Filename: "a"}}}
	m := NewManager(engine, ParticipantConfig{
		Locate: func(context.Context) (string, error) { return "", errors.New("no operator") },
	})

	report, err := m.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int64{1}, report.Unresolved)
	assert.Equal(t, []int64{1}, engine.reacquired, "locks held even when the coordinator is unknown")
}

func TestAskCoordinator(t *testing.T) {
	answers := []string{"", "  coord.local ", "http", "70000", "9090"}
	var prompts []string
	readLine := func(prompt string) (string, error) {
		prompts = append(prompts, prompt)
		line := answers[0]
		answers = answers[1:]
		return line, nil
	}

	addr, err := AskCoordinator(context.Background(), readLine)
	require.NoError(t, err)
	assert.Equal(t, "coord.local:9090", addr)
	assert.Len(t, prompts, 5)
	assert.Equal(t, "coordinator host: ", prompts[0])
	assert.Contains(t, prompts[1], "try again")
}

func TestAskCoordinator_EOF(t *testing.T) {
	_, err := AskCoordinator(context.Background(), func(string) (string, error) {
		return "", errors.New("EOF")
	})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	store, err := storage.Open(storage.NewMemoryLog())
	require.NoError(t, err)
	require.NoError(t, store.Append(&txn.Transaction{ID: 10001, Operation: txn.OpWrite, Filename: "a"}))
	require.NoError(t, store.Append(&txn.Transaction{ID: 10002, Operation: txn.OpRead, Filename: "a"}))
	require.NoError(t, store.Append(&txn.Transaction{ID: 10003, Operation: txn.OpDelete, Filename: "a"}))
	_, err = store.Resolve(10001, txn.StatusCommit)
	require.NoError(t, err)

	s := Summarize(store)
	assert.Equal(t, 3, s.Records)
	assert.Equal(t, int64(10003), s.LastID)
	assert.Equal(t, []int64{10002, 10003}, s.Pending)
	assert.Equal(t, 1, s.ByOp[txn.OpWrite])

	LogSummary(zaptest.NewLogger(t), s)
}
