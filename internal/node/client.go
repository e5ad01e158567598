package node

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"rfstore/internal/api"
)

// ClientManager caches one gRPC connection per peer address.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// NewClientManager creates a new client manager. Extra dial options are
// appended to the defaults.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
		opts:  append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
	}
}

// conn returns the connection for addr, creating it if needed. Creating a
// connection does not wait for it to be ready; failures surface on the
// first call.
func (cm *ClientManager) conn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, cm.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	cm.conns[addr] = conn
	return conn, nil
}

// ParticipantClient returns a Participant client for addr.
func (cm *ClientManager) ParticipantClient(addr string) (api.ParticipantClient, error) {
	conn, err := cm.conn(addr)
	if err != nil {
		return nil, err
	}
	return api.NewParticipantClient(conn), nil
}

// FileStoreClient returns a FileStore client for addr.
func (cm *ClientManager) FileStoreClient(addr string) (api.FileStoreClient, error) {
	conn, err := cm.conn(addr)
	if err != nil {
		return nil, err
	}
	return api.NewFileStoreClient(conn), nil
}

// Probe runs a gRPC health check against addr.
func (cm *ClientManager) Probe(ctx context.Context, addr string) error {
	conn, err := cm.conn(addr)
	if err != nil {
		return err
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%s is %s", addr, resp.Status)
	}
	return nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var err error
	for addr, conn := range cm.conns {
		err = multierr.Append(err, conn.Close())
		delete(cm.conns, addr)
	}
	return err
}
