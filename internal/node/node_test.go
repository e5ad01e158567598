package node

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"rfstore/internal/api"
	"rfstore/internal/coordinator"
	"rfstore/internal/metrics"
	"rfstore/internal/participant"
	"rfstore/internal/storage"
	"rfstore/internal/txn"
)

func startNode(t *testing.T, register func(n *Node)) (*Node, *metrics.RPC) {
	t.Helper()

	rpc := metrics.NewRPC(prometheus.NewRegistry())
	n := NewNode("test", "127.0.0.1:0", zaptest.NewLogger(t), rpc)
	register(n)
	require.NoError(t, n.Listen())

	go n.Serve()
	t.Cleanup(n.Stop)
	return n, rpc
}

func TestParticipantServer(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.Open(storage.NewMemoryLog())
	require.NoError(t, err)
	engine, err := participant.New(store, participant.Options{ID: "p1", DataDir: dir, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	n, rpc := startNode(t, func(n *Node) {
		api.RegisterParticipantServer(n.Server(), NewParticipantServer(engine))
	})

	cm := NewClientManager()
	defer cm.Close()
	client, err := cm.ParticipantClient(n.Addr().String())
	require.NoError(t, err)
	ctx := context.Background()

	report, err := client.CanCommit(ctx, &txn.Transaction{ID: 10001, Operation: txn.OpWrite, Filename: "report.txt", Payload: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccessful, report.Status)

	file, err := client.ReadFile(ctx, &txn.Transaction{ID: 10002, Operation: txn.OpRead, Filename: "report.txt"})
	require.NoError(t, err)
	assert.Equal(t, api.ReadBusy, file.ReadStatus)

	_, err = client.DoCommit(ctx, &api.TxnRef{ID: 10001})
	require.NoError(t, err)

	file, err = client.ReadFile(ctx, &txn.Transaction{ID: 10003, Operation: txn.OpRead, Filename: "report.txt", ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, api.ReadFound, file.ReadStatus)
	assert.Equal(t, "hello", string(file.Content))
	assert.Equal(t, "c1", file.ClientID)

	file, err = client.ReadFile(ctx, &txn.Transaction{ID: 10004, Operation: txn.OpRead, Filename: "absent"})
	require.NoError(t, err)
	assert.Equal(t, api.ReadNotFound, file.ReadStatus)

	_, err = client.ReadFile(ctx, &txn.Transaction{ID: 10005, Operation: txn.OpRead, Filename: "../escape"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CanCommit(ctx, &txn.Transaction{Operation: txn.OpWrite, Filename: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	assert.Equal(t, 1.0, testutil.ToFloat64(rpc.Handled.WithLabelValues(api.Participant_DoCommit_FullMethodName, "OK")))
}

func TestNodeHealth(t *testing.T) {
	n, _ := startNode(t, func(*Node) {})

	cm := NewClientManager()
	defer cm.Close()
	conn, err := cm.conn(n.Addr().String())
	require.NoError(t, err)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	assert.NotZero(t, n.Port())
}

type stubCoordinator struct {
	mu          sync.Mutex
	outcome     txn.Status
	read        coordinator.ReadResult
	recoveredTo string
}

func (c *stubCoordinator) SubmitWrite(ctx context.Context, filename, clientID string, content []byte) (txn.Status, error) {
	if filename == "" {
		return txn.StatusAbort, coordinator.ErrInvalidRequest
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, nil
}

func (c *stubCoordinator) SubmitDelete(ctx context.Context, filename, clientID string) (txn.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, nil
}

func (c *stubCoordinator) SubmitRead(ctx context.Context, filename, clientID string) (coordinator.ReadResult, error) {
	return c.read, nil
}

func (c *stubCoordinator) ResolveRecovery(ctx context.Context, id int64, participantAddr string) (txn.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recoveredTo = participantAddr
	return txn.StatusAbort, nil
}

func TestCoordinatorServer(t *testing.T) {
	stub := &stubCoordinator{
		outcome: txn.StatusCommit,
		read:    coordinator.ReadResult{Content: []byte("hello"), Status: api.ReadFound, Outcome: txn.StatusCommit},
	}
	n, _ := startNode(t, func(n *Node) {
		api.RegisterFileStoreServer(n.Server(), NewCoordinatorServer(stub))
	})

	cm := NewClientManager()
	defer cm.Close()
	client, err := cm.FileStoreClient(n.Addr().String())
	require.NoError(t, err)
	ctx := context.Background()

	report, err := client.WriteFile(ctx, &api.RFile{Filename: "f", Content: []byte("x"), ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccessful, report.Status)

	_, err = client.WriteFile(ctx, &api.RFile{ClientID: "c1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	stub.mu.Lock()
	stub.outcome = txn.StatusAbort
	stub.mu.Unlock()
	report, err = client.DeleteFile(ctx, &api.FileRequest{Filename: "f", ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, report.Status)

	file, err := client.ReadFile(ctx, &api.FileRequest{Filename: "f", ClientID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(file.Content))
	assert.Equal(t, "f", file.Filename)

	reply, err := client.GetTransactionStatus(ctx, &api.TransactionStatusRequest{TxnID: 10001, ParticipantAddr: "127.0.0.1", ParticipantPort: 9091})
	require.NoError(t, err)
	assert.Equal(t, txn.StatusAbort, reply.Status)
	stub.mu.Lock()
	assert.Equal(t, "127.0.0.1:9091", stub.recoveredTo)
	stub.mu.Unlock()

	_, err = client.GetTransactionStatus(ctx, &api.TransactionStatusRequest{TxnID: 10001})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
