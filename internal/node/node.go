package node

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"rfstore/internal/metrics"
)

// stopTimeout bounds a graceful stop before in-flight calls are cut off.
const stopTimeout = 5 * time.Second

// Node is a gRPC server hosting a coordinator or a participant.
type Node struct {
	nodeID     string
	listenAddr string
	lis        net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	log        *zap.Logger
}

// NewNode creates a node. Services are registered on Server() before
// Serve is called.
func NewNode(nodeID, listenAddr string, log *zap.Logger, rpc *metrics.RPC) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("node", nodeID))

	n := &Node{
		nodeID:     nodeID,
		listenAddr: listenAddr,
		grpcServer: grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryServerInterceptor(log, rpc))),
		health:     health.NewServer(),
		log:        log,
	}
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)
	return n
}

// Server returns the underlying gRPC server.
func (n *Node) Server() *grpc.Server { return n.grpcServer }

// Listen binds the listen address. The bound address is available from
// Addr afterwards, which matters for ":0".
func (n *Node) Listen() error {
	lis, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.listenAddr, err)
	}
	n.lis = lis
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (n *Node) Addr() net.Addr {
	if n.lis == nil {
		return nil
	}
	return n.lis.Addr()
}

// Port returns the bound TCP port, or 0 before Listen.
func (n *Node) Port() int {
	if addr, ok := n.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve serves until Stop. It listens first if Listen was not called.
func (n *Node) Serve() error {
	if n.lis == nil {
		if err := n.Listen(); err != nil {
			return err
		}
	}

	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	n.log.Info("starting node", zap.String("addr", n.lis.Addr().String()))

	if err := n.grpcServer.Serve(n.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the node, cutting off calls still running after
// a timeout.
func (n *Node) Stop() {
	n.log.Info("stopping node")
	n.health.Shutdown()

	done := make(chan struct{})
	go func() {
		n.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		n.log.Warn("graceful stop timed out")
		n.grpcServer.Stop()
	}
}
